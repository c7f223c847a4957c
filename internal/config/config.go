package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	TwilioAccountSID   string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken    string `env:"TWILIO_AUTH_TOKEN"`
	TwilioAPIBaseURL   string `env:"TWILIO_API_BASE_URL" envDefault:"https://api.twilio.com"`
	WhatsAppFromNumber string `env:"WHATSAPP_FROM_NUMBER"`
	WebhookPublicURL   string `env:"WEBHOOK_PUBLIC_URL"`
	SendRatePerSecond  int    `env:"SEND_RATE_PER_SECOND" envDefault:"10"`

	PairingCommandPrefix string `env:"PAIRING_COMMAND_PREFIX" envDefault:"link"`
	QRImageBaseURL       string `env:"QR_IMAGE_BASE_URL" envDefault:"https://api.qrserver.com/v1/create-qr-code/?size=320x320&data="`
	DefaultRouteUserID   string `env:"DEFAULT_ROUTE_USER_ID"`

	AgentRunnerURL      string `env:"AGENT_RUNNER_URL"`
	SkillRunnerURL      string `env:"SKILL_RUNNER_URL"`
	FlagCacheTTLSeconds int    `env:"FLAG_CACHE_TTL_SECONDS" envDefault:"30"`

	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaEventsTopic string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"channel-router.events"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) FlagCacheTTL() time.Duration {
	return time.Duration(c.FlagCacheTTLSeconds) * time.Second
}

// TransportConfigured reports whether outbound WhatsApp credentials are present.
func (c *Config) TransportConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.WhatsAppFromNumber != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.PairingCommandPrefix == "" || strings.ContainsAny(c.PairingCommandPrefix, " \t\n") {
		return fmt.Errorf("PAIRING_COMMAND_PREFIX must be a single non-empty word")
	}
	if c.SendRatePerSecond <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SECOND must be positive")
	}

	if !c.TransportConfigured() {
		log.Warn().Msg("twilio credentials are incomplete: outbound replies and pairing creation are disabled")
	}
	if c.AgentRunnerURL == "" {
		log.Warn().Msg("AGENT_RUNNER_URL is empty: routed messages will receive the fallback reply")
	}

	if isProduction {
		if c.TwilioAuthToken == "" {
			log.Warn().Msg("TWILIO_AUTH_TOKEN is empty in production: webhook signature verification disabled")
		}
		if c.WebhookPublicURL == "" && c.TwilioAuthToken != "" {
			return fmt.Errorf("WEBHOOK_PUBLIC_URL is required in production to verify webhook signatures")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
