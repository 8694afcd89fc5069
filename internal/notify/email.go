package notify

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/wneessen/go-mail"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// maxEmailAttachment is the largest file attached inline; larger documents
// are sent as a link.
const maxEmailAttachment = 20 << 20

// SendMailFunc delivers a composed message. The default dials the
// configured server and honours ctx for the whole SMTP exchange.
type SendMailFunc func(ctx context.Context, msg *mail.Msg) error

// EmailConfig configures the SMTP channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends MIME mail with the document attached.
type EmailChannel struct {
	cfg      EmailConfig
	sendMail SendMailFunc
}

// EmailOption configures the email channel.
type EmailOption func(*EmailChannel)

// WithSendMail replaces the SMTP transport.
func WithSendMail(fn SendMailFunc) EmailOption {
	return func(c *EmailChannel) {
		if fn != nil {
			c.sendMail = fn
		}
	}
}

// NewEmailChannel validates the SMTP settings.
func NewEmailChannel(cfg EmailConfig, opts ...EmailOption) (*EmailChannel, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("%w: email channel needs SMTP host, username and password", model.ErrConfiguration)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if err := mail.NewMsg().From(cfg.From); err != nil {
		return nil, fmt.Errorf("%w: email from address: %v", model.ErrConfiguration, err)
	}
	c := &EmailChannel{cfg: cfg}
	c.sendMail = c.dialAndSend
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *EmailChannel) Name() string         { return "email" }
func (c *EmailChannel) Medium() model.Medium { return model.MediumEmail }

func (c *EmailChannel) Send(ctx context.Context, to string, msg Message) error {
	m, err := c.compose(to, msg)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.sendMail(ctx, m)
}

func (c *EmailChannel) compose(to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(c.cfg.From); err != nil {
		return nil, fmt.Errorf("email: bad sender address: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, fmt.Errorf("email: bad recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	if msg.ReleaseID != "" {
		m.SetGenHeader(mail.Header("X-Release-ID"), msg.ReleaseID)
	}
	m.SetBodyString(mail.TypeTextPlain, msg.Body)

	if a := msg.Attachment; a != nil && a.Path != "" && a.Size <= maxEmailAttachment {
		// go-mail opens the file only while writing; fail before dialing
		if _, err := os.Stat(a.Path); err != nil {
			return nil, fmt.Errorf("email: read attachment: %w", err)
		}
		ctype := mime.TypeByExtension(filepath.Ext(a.Name))
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		m.AttachFile(a.Path, mail.WithFileName(a.Name), mail.WithFileContentType(mail.ContentType(ctype)))
	}
	return m, nil
}

func (c *EmailChannel) client() (*mail.Client, error) {
	return mail.NewClient(c.cfg.Host,
		mail.WithPort(c.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(c.cfg.Username),
		mail.WithPassword(c.cfg.Password),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
}

func (c *EmailChannel) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := c.client()
	if err != nil {
		return fmt.Errorf("email: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
