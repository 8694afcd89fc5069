package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rajchinnag/Death-Switch/internal/config"
	"github.com/rajchinnag/Death-Switch/internal/model"
	"github.com/rajchinnag/Death-Switch/internal/notify"
)

// ChannelIssue records why a channel named in the order is not in use.
type ChannelIssue struct {
	Channel string `json:"channel"`
	Error   string `json:"error"`
}

// BuildChannels constructs the channels named in cfg.ChannelOrder, in that
// order. A channel with missing or invalid credentials is left out and
// reported; the switch runs with whatever remains.
func BuildChannels(cfg *config.Config, log zerolog.Logger) ([]notify.Channel, []ChannelIssue) {
	var (
		channels []notify.Channel
		issues   []ChannelIssue
	)
	seen := make(map[string]bool, len(cfg.ChannelOrder))
	for _, name := range cfg.ChannelOrder {
		if seen[name] {
			continue
		}
		seen[name] = true
		ch, err := buildChannel(name, cfg)
		if err != nil {
			issues = append(issues, ChannelIssue{Channel: name, Error: err.Error()})
			log.Warn().Str("channel", name).Err(err).Msg("notification channel disabled")
			continue
		}
		channels = append(channels, ch)
	}
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name()
	}
	if len(channels) == 0 {
		log.Error().Msg("no notification channel configured; a release would reach nobody")
	} else {
		log.Info().Strs("channels", names).Msg("notification channels ready")
	}
	return channels, issues
}

func buildChannel(name string, cfg *config.Config) (notify.Channel, error) {
	cc := cfg.DefaultCountryCode
	switch name {
	case "email":
		return notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
	case "whatsapp_business":
		return notify.NewWhatsAppBusiness(notify.WhatsAppBusinessConfig{
			Token:         cfg.WhatsAppBusiness.Token,
			PhoneNumberID: cfg.WhatsAppBusiness.PhoneNumberID,
			APIBase:       cfg.WhatsAppBusiness.APIBase,
			CountryCode:   cc,
			Timeout:       cfg.SendTimeout,
		})
	case "twilio_whatsapp":
		return notify.NewTwilioWhatsApp(twilioConfig(cfg))
	case "twilio_sms":
		return notify.NewTwilioSMS(twilioConfig(cfg))
	case "whatsapp_web":
		return notify.NewWhatsAppWeb(cfg.WhatsAppWebURL, cc, cfg.SendTimeout)
	case "baileys":
		return notify.NewBaileys(cfg.BaileysURL, cc, cfg.SendTimeout)
	case "webhook":
		return notify.NewWebhookChannel(cfg.WebhookURL, cfg.SendTimeout)
	case "mqtt":
		return notify.NewMQTTChannel(notify.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		})
	case "kafka":
		return notify.NewKafkaChannel(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	default:
		return nil, fmt.Errorf("%w: unknown channel %q", model.ErrConfiguration, name)
	}
}

func twilioConfig(cfg *config.Config) notify.TwilioConfig {
	return notify.TwilioConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		SMSFrom:      cfg.Twilio.SMSFrom,
		WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
		APIBase:      cfg.Twilio.APIBase,
		CountryCode:  cfg.DefaultCountryCode,
		Timeout:      cfg.SendTimeout,
	}
}

// NewDispatcher builds the channels and wraps them in a Dispatcher.
func NewDispatcher(cfg *config.Config, log zerolog.Logger) (*notify.Dispatcher, []ChannelIssue) {
	channels, issues := BuildChannels(cfg, log)
	d := notify.NewDispatcher(channels,
		notify.WithSendTimeout(cfg.SendTimeout),
		notify.WithLogger(log.With().Str("component", "dispatcher").Logger()))
	return d, issues
}
