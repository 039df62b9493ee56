// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/report"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds every setting used by the server and the CLI.
type Config struct {
	// Allowed lists the identities that may sign in (LEDGER_ALLOWED).
	Allowed []string

	PartyAName string
	PartyBName string
	Currency   string

	// Storage, server side.
	Driver      string
	DBPath      string
	DatabaseURL string

	// Tokens, server side.
	Secret     string
	LinkTTL    time.Duration
	SessionTTL time.Duration

	ListenAddr string

	// Client side.
	ServerURL   string
	RedirectURL string
	SessionFile string
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Load reads the configuration from the environment. It does not validate;
// call Validate before use.
func Load() (*Config, error) {
	cfg := &Config{
		PartyAName:  getEnv("PARTY_A_NAME", "Party A"),
		PartyBName:  getEnv("PARTY_B_NAME", "Party B"),
		Currency:    strings.ToUpper(getEnv("LEDGER_CURRENCY", "USD")),
		Driver:      strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBPath:      getEnv("DB_PATH", "./data/ledger.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Secret:      os.Getenv("LEDGER_SECRET"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		ServerURL:   getEnv("SERVER_URL", "http://localhost:8080"),
		RedirectURL: getEnv("REDIRECT_URL", "http://localhost:8080/verify"),
		SessionFile: getEnv("SESSION_FILE", defaultSessionFile()),
	}
	for _, identity := range strings.Split(os.Getenv("LEDGER_ALLOWED"), ",") {
		if identity = auth.Normalize(identity); identity != "" {
			cfg.Allowed = append(cfg.Allowed, identity)
		}
	}

	var err error
	if cfg.LinkTTL, err = getDuration("LINK_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".duoledger-session.json"
	}
	return filepath.Join(dir, "duoledger", "session.json")
}

// AllowList builds the allow-list from Allowed.
func (c *Config) AllowList() auth.AllowList {
	return auth.NewAllowList(c.Allowed...)
}

// Validate reports every problem with the shared settings.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Allowed) == 0 {
		errs = append(errs, errors.New("LEDGER_ALLOWED must list at least one identity"))
	}
	if len(c.Allowed) > 2 {
		errs = append(errs, fmt.Errorf("LEDGER_ALLOWED lists %d identities, the ledger has two parties", len(c.Allowed)))
	}
	if !report.ValidCurrency(c.Currency) {
		errs = append(errs, fmt.Errorf("LEDGER_CURRENCY %q is not a known currency code", c.Currency))
	}
	if _, err := url.Parse(c.RedirectURL); err != nil {
		errs = append(errs, fmt.Errorf("REDIRECT_URL: %w", err))
	}
	return errors.Join(errs...)
}

// ValidateServer additionally checks the settings only the server needs.
func (c *Config) ValidateServer() error {
	errs := []error{c.Validate()}
	switch c.Driver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not one of sqlite, postgres", c.Driver))
	}
	if len(c.Secret) < 32 {
		errs = append(errs, errors.New("LEDGER_SECRET must be at least 32 characters"))
	}
	if c.LinkTTL <= 0 || c.SessionTTL <= 0 {
		errs = append(errs, errors.New("LINK_TTL and SESSION_TTL must be positive"))
	}
	return errors.Join(errs...)
}
