package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rajchinnag/Death-Switch/internal/model"
)

// WhatsAppBusinessConfig configures the Meta Cloud API channel.
type WhatsAppBusinessConfig struct {
	Token         string
	PhoneNumberID string
	APIBase       string
	CountryCode   string
	Timeout       time.Duration
}

// WhatsAppBusinessChannel sends through the WhatsApp Business Cloud API.
// Documents with a public URL go as a document message, others as text.
type WhatsAppBusinessChannel struct {
	client  *resty.Client
	phoneID string
	cc      string
}

func NewWhatsAppBusiness(cfg WhatsAppBusinessConfig) (*WhatsAppBusinessChannel, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("%w: whatsapp business needs token and phone number id", model.ErrConfiguration)
	}
	base := cfg.APIBase
	if base == "" {
		base = "https://graph.facebook.com/v18.0"
	}
	client := newRESTClient(base, cfg.Timeout).SetAuthToken(cfg.Token)
	return &WhatsAppBusinessChannel{client: client, phoneID: cfg.PhoneNumberID, cc: cfg.CountryCode}, nil
}

func (c *WhatsAppBusinessChannel) Name() string         { return "whatsapp_business" }
func (c *WhatsAppBusinessChannel) Medium() model.Medium { return model.MediumWhatsApp }

type graphMessage struct {
	MessagingProduct string         `json:"messaging_product"`
	To               string         `json:"to"`
	Type             string         `json:"type"`
	Text             *graphText     `json:"text,omitempty"`
	Document         *graphDocument `json:"document,omitempty"`
}

type graphText struct {
	Body string `json:"body"`
}

type graphDocument struct {
	Link     string `json:"link"`
	Filename string `json:"filename"`
	Caption  string `json:"caption,omitempty"`
}

func (c *WhatsAppBusinessChannel) Send(ctx context.Context, to string, msg Message) error {
	phone, err := NormalizePhone(to, c.cc)
	if err != nil {
		return err
	}
	body := graphMessage{MessagingProduct: "whatsapp", To: strings.TrimPrefix(phone, "+")}
	if a := msg.Attachment; a != nil && a.URL != "" {
		body.Type = "document"
		body.Document = &graphDocument{Link: a.URL, Filename: a.Name, Caption: msg.Subject + "\n\n" + msg.Body}
	} else {
		body.Type = "text"
		body.Text = &graphText{Body: textWithLink(msg)}
	}
	return postJSON(ctx, c.client.R(), "/"+c.phoneID+"/messages", body)
}

// WhatsAppWebChannel posts to a self-hosted WhatsApp web gateway.
type WhatsAppWebChannel struct {
	client *resty.Client
	cc     string
}

func NewWhatsAppWeb(baseURL, countryCode string, timeout time.Duration) (*WhatsAppWebChannel, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: whatsapp web gateway URL missing", model.ErrConfiguration)
	}
	return &WhatsAppWebChannel{client: newRESTClient(baseURL, timeout), cc: countryCode}, nil
}

func (c *WhatsAppWebChannel) Name() string         { return "whatsapp_web" }
func (c *WhatsAppWebChannel) Medium() model.Medium { return model.MediumWhatsApp }

func (c *WhatsAppWebChannel) Send(ctx context.Context, to string, msg Message) error {
	phone, err := NormalizePhone(to, c.cc)
	if err != nil {
		return err
	}
	body := map[string]string{
		"phone":   strings.TrimPrefix(phone, "+"),
		"message": msg.Subject + "\n\n" + msg.Body,
	}
	if a := msg.Attachment; a != nil && a.URL != "" {
		body["document_url"] = a.URL
		body["filename"] = a.Name
	}
	return postJSON(ctx, c.client.R(), "/send-message", body)
}

// BaileysChannel posts to a Baileys bridge, addressing the chat by JID.
type BaileysChannel struct {
	client *resty.Client
	cc     string
}

func NewBaileys(baseURL, countryCode string, timeout time.Duration) (*BaileysChannel, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: baileys bridge URL missing", model.ErrConfiguration)
	}
	return &BaileysChannel{client: newRESTClient(baseURL, timeout), cc: countryCode}, nil
}

func (c *BaileysChannel) Name() string         { return "baileys" }
func (c *BaileysChannel) Medium() model.Medium { return model.MediumWhatsApp }

type baileysDocument struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

type baileysMessage struct {
	JID      string           `json:"jid"`
	Text     string           `json:"text"`
	Document *baileysDocument `json:"document,omitempty"`
}

func (c *BaileysChannel) Send(ctx context.Context, to string, msg Message) error {
	phone, err := NormalizePhone(to, c.cc)
	if err != nil {
		return err
	}
	body := baileysMessage{
		JID:  strings.TrimPrefix(phone, "+") + "@s.whatsapp.net",
		Text: msg.Subject + "\n\n" + msg.Body,
	}
	if a := msg.Attachment; a != nil && a.URL != "" {
		body.Document = &baileysDocument{URL: a.URL, FileName: a.Name}
	}
	return postJSON(ctx, c.client.R(), "/send", body)
}
