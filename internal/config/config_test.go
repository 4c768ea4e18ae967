package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("unexpected default addr %q", cfg.Addr)
	}
	if cfg.DBDriver != "sqlite3" {
		t.Errorf("unexpected default driver %q", cfg.DBDriver)
	}
	if cfg.ChatStagger != time.Second {
		t.Errorf("unexpected default stagger %v", cfg.ChatStagger)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENGAGEFLOW_API_ADDR", ":9999")
	t.Setenv("ENGAGEFLOW_DB_DRIVER", "postgres")
	t.Setenv("ENGAGEFLOW_CHAT_STAGGER", "750ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.DBDriver != "postgres" || cfg.ChatStagger != 750*time.Millisecond {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{DBDriver: "sqlite3"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected missing backend URL to fail validation")
	}

	cfg.BackendBaseURL = "https://backend.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cfg.DBDriver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected postgres without DSN to fail validation")
	}
	cfg.DBDSN = "postgres://localhost/engageflow"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid postgres config, got %v", err)
	}

	cfg.DBDriver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown driver to fail validation")
	}
}

func TestTwilioConfigured(t *testing.T) {
	cfg := &Config{TwilioAccountSID: "AC123", TwilioAuthToken: "tok"}
	if cfg.TwilioConfigured() {
		t.Error("missing from number should not count as configured")
	}
	cfg.TwilioFromNumber = "+15550001111"
	if !cfg.TwilioConfigured() {
		t.Error("expected configured")
	}
}
