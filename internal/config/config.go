package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "DEATHSWITCH"

// DefaultChannelOrder is the fallback priority used when CHANNEL_ORDER is unset.
var DefaultChannelOrder = []string{
	"email",
	"whatsapp_business",
	"twilio_whatsapp",
	"whatsapp_web",
	"baileys",
	"twilio_sms",
	"webhook",
	"mqtt",
	"kafka",
}

// SMTP holds outgoing mail settings.
type SMTP struct {
	Host     string `envconfig:"HOST" yaml:"host"`
	Port     int    `envconfig:"PORT" default:"587" yaml:"port"`
	Username string `envconfig:"USERNAME" yaml:"username"`
	Password string `envconfig:"PASSWORD" yaml:"password"`
	From     string `envconfig:"FROM" yaml:"from"`
}

// Twilio holds Twilio REST credentials for SMS and WhatsApp.
type Twilio struct {
	AccountSID   string `envconfig:"ACCOUNT_SID" yaml:"account_sid"`
	AuthToken    string `envconfig:"AUTH_TOKEN" yaml:"auth_token"`
	SMSFrom      string `envconfig:"SMS_FROM" yaml:"sms_from"`
	WhatsAppFrom string `envconfig:"WHATSAPP_FROM" yaml:"whatsapp_from"`
	APIBase      string `envconfig:"API_BASE" default:"https://api.twilio.com" yaml:"api_base"`
}

// WhatsAppBusiness holds Meta Graph API credentials.
type WhatsAppBusiness struct {
	Token         string `envconfig:"TOKEN" yaml:"token"`
	PhoneNumberID string `envconfig:"PHONE_NUMBER_ID" yaml:"phone_number_id"`
	APIBase       string `envconfig:"API_BASE" default:"https://graph.facebook.com/v18.0" yaml:"api_base"`
}

// MQTT holds broker settings for the mqtt channel.
type MQTT struct {
	Broker      string `envconfig:"BROKER" yaml:"broker"`
	ClientID    string `envconfig:"CLIENT_ID" default:"deathswitch" yaml:"client_id"`
	TopicPrefix string `envconfig:"TOPIC_PREFIX" default:"deathswitch/release" yaml:"topic_prefix"`
	Username    string `envconfig:"USERNAME" yaml:"username"`
	Password    string `envconfig:"PASSWORD" yaml:"password"`
}

// Kafka holds broker settings for the kafka channel.
type Kafka struct {
	Brokers []string `envconfig:"BROKERS" yaml:"brokers"`
	Topic   string   `envconfig:"TOPIC" default:"deathswitch.release" yaml:"topic"`
}

// Config holds the configuration for the switch service.
// Environment variables are parsed from the DEATHSWITCH_ prefix; a YAML file
// named by DEATHSWITCH_CONFIG_FILE is applied on top.
type Config struct {
	ConfigFile  string      `envconfig:"CONFIG_FILE" yaml:"-"`
	Environment Environment `envconfig:"ENVIRONMENT" default:"development" yaml:"environment"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	LogPretty   bool        `envconfig:"LOG_PRETTY" default:"false" yaml:"log_pretty"`

	// HTTP Configuration
	HTTPPort      int    `envconfig:"HTTP_PORT" default:"5000" yaml:"http_port"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:5000" yaml:"public_base_url"`

	// Storage
	DBDriver     string `envconfig:"DB_DRIVER" default:"sqlite" yaml:"db_driver"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"" yaml:"sqlite_path"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN" default:"" yaml:"postgres_dsn"`
	DataDir      string `envconfig:"DATA_DIR" default:"config" yaml:"data_dir"`
	DocumentsDir string `envconfig:"DOCUMENTS_DIR" default:"secure_docs" yaml:"documents_dir"`

	// Switch timing
	InactivityWindow   time.Duration `envconfig:"INACTIVITY_WINDOW" default:"240h" yaml:"inactivity_window"`
	VerificationWindow time.Duration `envconfig:"VERIFICATION_WINDOW" default:"48h" yaml:"verification_window"`
	CheckInterval      time.Duration `envconfig:"CHECK_INTERVAL" default:"1m" yaml:"check_interval"`
	// MonitorAutoStart starts the monitoring loop at boot; otherwise it waits
	// for POST /start-trigger.
	MonitorAutoStart bool   `envconfig:"MONITOR_AUTO_START" default:"true" yaml:"monitor_auto_start"`
	OwnerName        string `envconfig:"OWNER_NAME" yaml:"owner_name"`

	// Kill switch
	KillSwitchHash      string `envconfig:"KILL_SWITCH_HASH" yaml:"kill_switch_hash"`
	KillSwitchMinLength int    `envconfig:"KILL_SWITCH_MIN_LENGTH" default:"4" yaml:"kill_switch_min_length"`
	// Failed codes refill one attempt per interval, up to MaxFailures.
	KillSwitchMaxFailures     int           `envconfig:"KILL_SWITCH_MAX_FAILURES" default:"5" yaml:"kill_switch_max_failures"`
	KillSwitchFailureInterval time.Duration `envconfig:"KILL_SWITCH_FAILURE_INTERVAL" default:"1m" yaml:"kill_switch_failure_interval"`
	// KillSwitchConcurrency caps simultaneous argon2id derivations.
	KillSwitchConcurrency int `envconfig:"KILL_SWITCH_CONCURRENCY" default:"2" yaml:"kill_switch_concurrency"`

	// Operator endpoints (force trigger, self-test)
	OperatorJWTSecret string `envconfig:"OPERATOR_JWT_SECRET" yaml:"operator_jwt_secret"`

	// Dispatch
	SendTimeout         time.Duration `envconfig:"SEND_TIMEOUT" default:"30s" yaml:"send_timeout"`
	DispatchConcurrency int           `envconfig:"DISPATCH_CONCURRENCY" default:"4" yaml:"dispatch_concurrency"`
	ChannelOrder        []string      `envconfig:"CHANNEL_ORDER" yaml:"channel_order"`
	DefaultCountryCode  string        `envconfig:"DEFAULT_COUNTRY_CODE" default:"91" yaml:"default_country_code"`
	// Templates overrides release messages per language ("subject\n---\nbody").
	Templates map[string]string `envconfig:"-" yaml:"templates"`

	// Channels
	SMTP             SMTP             `envconfig:"SMTP" yaml:"smtp"`
	Twilio           Twilio           `envconfig:"TWILIO" yaml:"twilio"`
	WhatsAppBusiness WhatsAppBusiness `envconfig:"WHATSAPP_BUSINESS" yaml:"whatsapp_business"`
	WhatsAppWebURL   string           `envconfig:"WHATSAPP_WEB_URL" yaml:"whatsapp_web_url"`
	BaileysURL       string           `envconfig:"BAILEYS_URL" yaml:"baileys_url"`
	WebhookURL       string           `envconfig:"WEBHOOK_URL" yaml:"webhook_url"`
	MQTT             MQTT             `envconfig:"MQTT" yaml:"mqtt"`
	Kafka            Kafka            `envconfig:"KAFKA" yaml:"kafka"`

	// Health check cadence (seconds)
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30" yaml:"health_interval_seconds"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2" yaml:"health_probe_timeout_seconds"`
	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5" yaml:"bootstrap_timeout_seconds"`
}

// ResolveDefaults validates the configuration and fills derived values.
func (c *Config) ResolveDefaults() error {
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	switch c.DBDriver {
	case "", "sqlite":
		c.DBDriver = "sqlite"
		if c.SQLitePath == "" {
			c.SQLitePath = c.DataDir + "/activity.db"
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("DB_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	if c.InactivityWindow <= 0 {
		return fmt.Errorf("INACTIVITY_WINDOW must be positive, got %s", c.InactivityWindow)
	}
	if c.VerificationWindow <= 0 {
		return fmt.Errorf("VERIFICATION_WINDOW must be positive, got %s", c.VerificationWindow)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("CHECK_INTERVAL must be positive, got %s", c.CheckInterval)
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.DispatchConcurrency < 1 {
		c.DispatchConcurrency = 1
	}
	if c.KillSwitchMinLength < 1 {
		c.KillSwitchMinLength = 4
	}
	if c.KillSwitchMaxFailures < 1 {
		c.KillSwitchMaxFailures = 5
	}
	if c.KillSwitchFailureInterval <= 0 {
		c.KillSwitchFailureInterval = time.Minute
	}
	if c.KillSwitchConcurrency < 1 {
		c.KillSwitchConcurrency = 2
	}
	if len(c.ChannelOrder) == 0 {
		c.ChannelOrder = append([]string(nil), DefaultChannelOrder...)
	}
	for i, name := range c.ChannelOrder {
		c.ChannelOrder[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with DEATHSWITCH_
// Example: DEATHSWITCH_INACTIVITY_WINDOW, DEATHSWITCH_SMTP_HOST
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db_driver", cfg.DBDriver).
		Int("port", cfg.HTTPPort).
		Dur("inactivity_window", cfg.InactivityWindow).
		Dur("verification_window", cfg.VerificationWindow).
		Dur("check_interval", cfg.CheckInterval).
		Bool("kill_switch_configured", cfg.KillSwitchHash != "").
		Bool("operator_auth_configured", cfg.OperatorJWTSecret != "").
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Strs("channel_order", cfg.ChannelOrder).
		Str("config_file", cfg.ConfigFile).
		Msg("Configuration loaded")

	return &cfg, nil
}

// loadFile overlays values present in a YAML file onto cfg. Keys absent from
// the file keep their environment or default value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		LogLevel:    "debug",
	}

	cfg.HTTPPort = 5000
	cfg.PublicBaseURL = "http://localhost:5000"

	cfg.DBDriver = "sqlite"
	cfg.DataDir = os.TempDir()
	cfg.DocumentsDir = os.TempDir()

	cfg.InactivityWindow = 2 * time.Hour
	cfg.VerificationWindow = time.Hour
	cfg.CheckInterval = time.Second
	cfg.MonitorAutoStart = true
	cfg.KillSwitchMinLength = 4
	cfg.KillSwitchMaxFailures = 5
	cfg.KillSwitchFailureInterval = time.Minute
	cfg.KillSwitchConcurrency = 2

	cfg.SendTimeout = time.Second
	cfg.DispatchConcurrency = 2
	cfg.DefaultCountryCode = "91"

	cfg.HealthIntervalSeconds = 1
	cfg.HealthProbeTimeoutSeconds = 1
	cfg.BootstrapTimeoutSeconds = 5

	_ = cfg.ResolveDefaults()
	return cfg
}
