// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

// Config is the full service configuration. Flags in cmd may override
// individual fields after parsing.
type Config struct {
	Addr     string `env:"ENGAGEFLOW_API_ADDR" envDefault:":8080"`
	StateDir string `env:"ENGAGEFLOW_STATE_DIR" envDefault:"/var/lib/engageflow"`

	// DBDriver selects the store backend: sqlite3 (default) or postgres.
	DBDriver string `env:"ENGAGEFLOW_DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"ENGAGEFLOW_DB_DSN"`

	BackendBaseURL string `env:"ENGAGEFLOW_BACKEND_URL"`

	OpenAIAPIKey string `env:"OPENAI_API_KEY"`
	OpenAIModel  string `env:"OPENAI_MODEL"`

	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `env:"TWILIO_FROM_NUMBER"`

	ChatStagger time.Duration `env:"ENGAGEFLOW_CHAT_STAGGER" envDefault:"1s"`
	Debug       bool          `env:"ENGAGEFLOW_DEBUG" envDefault:"false"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the combinations a running service needs.
func (c *Config) Validate() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("backend base URL is required (ENGAGEFLOW_BACKEND_URL)")
	}
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DBDSN == "" {
		return fmt.Errorf("postgres driver requires ENGAGEFLOW_DB_DSN")
	}
	return nil
}

// TwilioConfigured reports whether all Twilio credentials are present.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}
