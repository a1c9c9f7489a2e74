package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	RoleAdmin  = "ADMIN"
	RoleSender = "SENDER"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"pushpanel.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	OneSignal struct {
		AppID       string `env:"ONESIGNAL_APP_ID"`
		RESTAPIKey  string `env:"ONESIGNAL_REST_API_KEY"`
		BaseURL     string `env:"ONESIGNAL_BASE_URL" envDefault:"https://api.onesignal.com"`
		TimeoutSecs int    `env:"ONESIGNAL_TIMEOUT_SECS" envDefault:"30"`
	}

	Sync struct {
		PageSize  int           `env:"SYNC_PAGE_SIZE" envDefault:"300"`
		MaxPages  int           `env:"SYNC_MAX_PAGES" envDefault:"10"`
		PageDelay time.Duration `env:"SYNC_PAGE_DELAY" envDefault:"100ms"`
		LockTTL   time.Duration `env:"SYNC_LOCK_TTL" envDefault:"5m"`
	}

	Dispatch struct {
		LinkPreview bool `env:"DISPATCH_LINK_PREVIEW" envDefault:"true"`
	}

	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD"`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Mailgun struct {
		Domain          string   `env:"MAILGUN_DOMAIN"`
		APIKey          string   `env:"MAILGUN_API_KEY"`
		SenderFrom      string   `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs     int      `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
		AlertRecipients []string `env:"ALERT_RECIPIENTS" envSeparator:","`
	}

	log   *zap.Logger
	creds map[string]Credential
}

// Credential is one basic-auth login and the role it acts under.
type Credential struct {
	Password string
	Role     string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) (*Config, error) {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	creds, err := ParseCreds(cfg.BasicAuthCreds)
	if err != nil {
		if !cfg.IsDevelopment() {
			return nil, err
		}
		log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
		creds = map[string]Credential{"admin": {Password: "password", Role: RoleAdmin}}
	}
	cfg.creds = creds

	if !cfg.ProviderConfigured() {
		log.Sugar().Warn("OneSignal credentials are not set; sync and dispatch will fail until ONESIGNAL_APP_ID and ONESIGNAL_REST_API_KEY are provided")
	}
	return cfg, nil
}

func (cfg *Config) IsDevelopment() bool {
	return cfg.Env == "" || cfg.Env == "development"
}

func (cfg *Config) GetCreds() map[string]Credential {
	return cfg.creds
}

// SetCreds replaces the parsed credentials; used by tests and tooling.
func (cfg *Config) SetCreds(creds map[string]Credential) {
	cfg.creds = creds
}

func (cfg *Config) ProviderConfigured() bool {
	return cfg.OneSignal.AppID != "" && cfg.OneSignal.RESTAPIKey != ""
}

func (cfg *Config) MailgunConfigured() bool {
	return cfg.Mailgun.Domain != "" && cfg.Mailgun.APIKey != ""
}

// ParseCreds reads comma-separated user:pass[:role] entries. Role defaults to ADMIN.
func ParseCreds(raw string) (map[string]Credential, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	result := make(map[string]Credential)
	for _, cred := range strings.Split(raw, ",") {
		parts := strings.Split(cred, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2:SENDER", cred)
		}

		user, pass := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if user == "" || pass == "" {
			return nil, fmt.Errorf("failed to parse '%s', user and password must not be empty", cred)
		}

		role := RoleAdmin
		if len(parts) == 3 {
			role = strings.ToUpper(strings.TrimSpace(parts[2]))
		}
		if role != RoleAdmin && role != RoleSender {
			return nil, fmt.Errorf("unknown role '%s' for user %s, expected %s or %s", role, user, RoleAdmin, RoleSender)
		}
		result[user] = Credential{Password: pass, Role: role}
	}

	return result, nil
}
