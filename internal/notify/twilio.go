package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// TwilioConfig configures the Twilio Messages API channels.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	SMSFrom      string
	WhatsAppFrom string
	APIBase      string
	CountryCode  string
	Timeout      time.Duration
}

// TwilioChannel sends SMS or WhatsApp messages through Twilio.
type TwilioChannel struct {
	client   *resty.Client
	sid      string
	from     string
	whatsapp bool
	cc       string
}

func newTwilio(cfg TwilioConfig, from string, whatsapp bool) (*TwilioChannel, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: twilio needs account SID and auth token", model.ErrConfiguration)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: twilio sender number missing", model.ErrConfiguration)
	}
	base := cfg.APIBase
	if base == "" {
		base = "https://api.twilio.com"
	}
	client := newRESTClient(base, cfg.Timeout).SetBasicAuth(cfg.AccountSID, cfg.AuthToken)
	return &TwilioChannel{client: client, sid: cfg.AccountSID, from: from, whatsapp: whatsapp, cc: cfg.CountryCode}, nil
}

// NewTwilioSMS builds the SMS channel; it needs SMSFrom.
func NewTwilioSMS(cfg TwilioConfig) (*TwilioChannel, error) {
	return newTwilio(cfg, cfg.SMSFrom, false)
}

// NewTwilioWhatsApp builds the WhatsApp channel; it needs WhatsAppFrom.
func NewTwilioWhatsApp(cfg TwilioConfig) (*TwilioChannel, error) {
	return newTwilio(cfg, cfg.WhatsAppFrom, true)
}

func (c *TwilioChannel) Name() string {
	if c.whatsapp {
		return "twilio_whatsapp"
	}
	return "twilio_sms"
}

func (c *TwilioChannel) Medium() model.Medium {
	if c.whatsapp {
		return model.MediumWhatsApp
	}
	return model.MediumPhone
}

func (c *TwilioChannel) Send(ctx context.Context, to string, msg Message) error {
	phone, err := NormalizePhone(to, c.cc)
	if err != nil {
		return err
	}
	from := c.from
	if c.whatsapp {
		phone = "whatsapp:" + phone
		from = "whatsapp:" + strings.TrimPrefix(from, "whatsapp:")
	}
	form := map[string]string{
		"To":   phone,
		"From": from,
		"Body": textWithLink(msg),
	}
	if c.whatsapp && msg.Attachment != nil && msg.Attachment.URL != "" {
		form["MediaUrl"] = msg.Attachment.URL
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.sid))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("twilio returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

// textWithLink appends the document link for channels that cannot attach
// files.
func textWithLink(msg Message) string {
	if a := msg.Attachment; a != nil && a.URL != "" {
		return msg.Subject + "\n\n" + msg.Body + "\n" + a.URL
	}
	return msg.Subject + "\n\n" + msg.Body
}
