package core

import (
	"fmt"
	"strings"
	"time"
)

const EnvironmentProduction = "production"

type OAuthConfig struct {
	ClientID     string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string   `koanf:"client_secret" mapstructure:"client_secret"`
	AuthURL      string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string   `koanf:"token_url" mapstructure:"token_url"`
	RedirectURI  string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string `koanf:"scopes" mapstructure:"scopes"`
}

type WebhookConfig struct {
	MACSecret string `koanf:"mac_secret" mapstructure:"mac_secret"`
}

type SessionConfig struct {
	Secret string        `koanf:"secret" mapstructure:"secret"`
	TTL    time.Duration `koanf:"ttl" mapstructure:"ttl"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Environment string        `koanf:"environment" mapstructure:"environment"`
	FrontendURL string        `koanf:"frontend_url" mapstructure:"frontend_url"`
	OAuth       OAuthConfig   `koanf:"oauth" mapstructure:"oauth"`
	Webhook     WebhookConfig `koanf:"webhook" mapstructure:"webhook"`
	Session     SessionConfig `koanf:"session" mapstructure:"session"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "formbridge",
		Environment: "development",
		OAuth: OAuthConfig{
			AuthURL:  "https://airtable.com/oauth2/v1/authorize",
			TokenURL: "https://airtable.com/oauth2/v1/token",
			Scopes: []string{
				"data.records:read",
				"data.records:write",
				"webhook:manage",
				"user.email:read",
			},
		},
		Session: SessionConfig{
			TTL: 7 * 24 * time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.Environment) == "" {
		return fmt.Errorf("core: environment is required")
	}
	return nil
}

// Production reports whether signature failures must reject instead of
// warn. This relaxation outside production is deliberate so local webhook
// testing does not require a real MAC secret.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction)
}
