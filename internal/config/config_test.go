package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv("LEDGER_ALLOWED", " A@x.com, b@x.com ,")
	t.Setenv("LEDGER_CURRENCY", "eur")
	t.Setenv("LINK_TTL", "5m")
	t.Setenv("DB_DRIVER", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Allowed) != 2 || cfg.Allowed[0] != "a@x.com" || cfg.Allowed[1] != "b@x.com" {
		t.Errorf("Allowed = %v", cfg.Allowed)
	}
	if cfg.Currency != "EUR" || cfg.LinkTTL != 5*time.Minute || cfg.Driver != DriverSQLite {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !cfg.AllowList().Contains("B@X.COM") {
		t.Error("allow-list should contain b@x.com")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("SESSION_TTL", "forever")
	if _, err := Load(); err == nil {
		t.Error("expected an error for an unparsable SESSION_TTL")
	}
}

func TestValidateServer(t *testing.T) {
	cfg := &Config{
		Allowed:     []string{"a@x.com", "b@x.com", "c@x.com"},
		Currency:    "ZZZ",
		Driver:      DriverPostgres,
		Secret:      "short",
		LinkTTL:     time.Minute,
		SessionTTL:  time.Hour,
		RedirectURL: "http://localhost/verify",
	}

	err := cfg.ValidateServer()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"two parties", "ZZZ", "DATABASE_URL", "LEDGER_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
