// Package config loads the powgate server configuration.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/layer-3/powgate/core"
)

type Config struct {
	Listen   string         `koanf:"listen"`
	Log      LogConfig      `koanf:"log"`
	PoW      PoWConfig      `koanf:"pow"`
	CSRF     CSRFConfig     `koanf:"csrf"`
	Session  SessionConfig  `koanf:"session"`
	Creds    CredsConfig    `koanf:"credentials"`
	HTTP     HTTPConfig     `koanf:"http"`
	Redis    RedisConfig    `koanf:"redis"`
	Postgres PostgresConfig `koanf:"postgres"`
	Audit    AuditConfig    `koanf:"audit"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Accounts []Account      `koanf:"accounts"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

type PoWConfig struct {
	Difficulty   int           `koanf:"difficulty"`
	ChallengeTTL time.Duration `koanf:"challenge_ttl"`
	Grace        time.Duration `koanf:"grace"`
}

type CSRFConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	SingleUse bool          `koanf:"single_use"`
}

type SessionConfig struct {
	TTL            time.Duration `koanf:"ttl"`
	CookieName     string        `koanf:"cookie_name"`
	CookieDomain   string        `koanf:"cookie_domain"`
	SecureCookies  string        `koanf:"secure_cookies"`
	SigningKeyFile string        `koanf:"signing_key_file"`
}

// CredsConfig tunes password verification
type CredsConfig struct {
	BcryptCost int `koanf:"bcrypt_cost"` // cost of the legacy bcrypt hashes in the account store
}

type HTTPConfig struct {
	TrustForwardedProto bool `koanf:"trust_forwarded_proto"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

type AuditConfig struct {
	Buffer int `koanf:"buffer"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Account is a static account served without a database
type Account struct {
	ID           string `koanf:"id"`
	Username     string `koanf:"username"`
	Type         string `koanf:"type"`
	PasswordHash string `koanf:"password_hash"`
}

// Default returns the compiled-in configuration
func Default() Config {
	return Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "json"},
		PoW: PoWConfig{
			Difficulty:   4,
			ChallengeTTL: 2 * time.Minute,
			Grace:        time.Minute,
		},
		CSRF: CSRFConfig{TTL: 10 * time.Minute, SingleUse: true},
		Session: SessionConfig{
			TTL:           24 * time.Hour,
			CookieName:    "powgate_session",
			SecureCookies: "auto",
		},
		Creds:   CredsConfig{BcryptCost: 10},
		Audit:   AuditConfig{Buffer: 256},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate rejects values the server cannot run with
func (c Config) Validate() error {
	switch {
	case c.Listen == "":
		return fmt.Errorf("listen address is required")
	case c.PoW.Difficulty < 1 || c.PoW.Difficulty > core.MaxDifficulty:
		return fmt.Errorf("pow.difficulty must be within 1..%d, got %d", core.MaxDifficulty, c.PoW.Difficulty)
	case c.PoW.ChallengeTTL <= 0:
		return fmt.Errorf("pow.challenge_ttl must be positive")
	case c.PoW.Grace < 0:
		return fmt.Errorf("pow.grace must not be negative")
	case c.CSRF.TTL <= 0:
		return fmt.Errorf("csrf.ttl must be positive")
	case c.Session.TTL <= 0:
		return fmt.Errorf("session.ttl must be positive")
	case c.Session.CookieName == "":
		return fmt.Errorf("session.cookie_name is required")
	case c.Session.SecureCookies != "auto" && c.Session.SecureCookies != "always":
		return fmt.Errorf("session.secure_cookies must be auto or always, got %q", c.Session.SecureCookies)
	case c.Log.Format != "json" && c.Log.Format != "console":
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	case c.Creds.BcryptCost < 4 || c.Creds.BcryptCost > 14:
		return fmt.Errorf("credentials.bcrypt_cost must be within 4..14, got %d", c.Creds.BcryptCost)
	case c.Audit.Buffer < 1:
		return fmt.Errorf("audit.buffer must be positive")
	}

	for i, a := range c.Accounts {
		if a.ID == "" || a.Username == "" || a.PasswordHash == "" {
			return fmt.Errorf("accounts[%d]: id, username and password_hash are required", i)
		}
		if !core.AccountType(a.Type).Valid() {
			return fmt.Errorf("accounts[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

// CoreAccounts converts the static accounts for the in-memory repository
func (c Config) CoreAccounts() []core.Account {
	accounts := make([]core.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accounts = append(accounts, core.Account{
			ID:           a.ID,
			Username:     a.Username,
			Type:         core.AccountType(a.Type),
			PasswordHash: a.PasswordHash,
		})
	}
	return accounts
}
