// Package config loads the server configuration.
//
// LAYERS (later wins):
//  1. built-in defaults
//  2. an optional YAML file (-config flag)
//  3. environment variables
//
// Environment variables win so a deployment can keep one YAML file and
// override a secret or a port per host without editing it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`

	Database DatabaseConfig `yaml:"database"`
	Cookie   CookieConfig   `yaml:"cookie"`
	GitHub   GitHubConfig   `yaml:"github"`

	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxImageBytes int64         `yaml:"max_image_bytes"`

	// AuthRequestsPerMinute limits register/login attempts per client IP.
	AuthRequestsPerMinute int `yaml:"auth_requests_per_minute"`

	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

type CookieConfig struct {
	// Secret signs the session cookie. When empty the server generates one
	// at startup, which logs everyone out on restart.
	Secret string `yaml:"secret"`
	Secure bool   `yaml:"secure"`
}

type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

const (
	defaultPort          = 8080
	defaultDriver        = "sqlite"
	defaultDSN           = "data/journal.db"
	defaultSessionTTL    = 4 * 7 * 24 * time.Hour
	defaultSweepInterval = time.Hour
	defaultMaxImageBytes = 10 << 20
	defaultAuthPerMinute = 10
	defaultLogLevel      = "info"

	minCookieSecret = 16
)

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML rejects unknown keys so a typo like "sesion_ttl" fails loudly
// instead of silently using the default.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from environment variables. lookup is
// os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	str(&c.BaseURL, "JOURNAL_BASE_URL")
	str(&c.Database.Driver, "JOURNAL_DB_DRIVER")
	str(&c.Database.DSN, "JOURNAL_DB_DSN", "DB_PATH")
	str(&c.Cookie.Secret, "JOURNAL_COOKIE_SECRET")
	str(&c.LogLevel, "JOURNAL_LOG_LEVEL")
	str(&c.GitHub.ClientID, "GITHUB_CLIENT_ID")
	str(&c.GitHub.ClientSecret, "GITHUB_CLIENT_SECRET")
	str(&c.GitHub.CallbackURL, "GITHUB_CALLBACK_URL")

	var errs []error
	for _, k := range []string{"JOURNAL_PORT", "PORT"} {
		if v, ok := lookup(k); ok && v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not a number", k, v))
			}
			c.Port = port
			break
		}
	}
	if v, ok := lookup("JOURNAL_COOKIE_SECURE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("JOURNAL_COOKIE_SECURE: %q is not a boolean", v))
		}
		c.Cookie.Secure = b
	}
	if v, ok := lookup("JOURNAL_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("JOURNAL_SESSION_TTL: %w", err))
		}
		c.SessionTTL = d
	}
	if v, ok := lookup("JOURNAL_MAX_IMAGE_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("JOURNAL_MAX_IMAGE_BYTES: %q is not a number", v))
		}
		c.MaxImageBytes = n
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.BaseURL == "" {
		c.BaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDriver
	}
	if c.Database.DSN == "" && c.Database.Driver == defaultDriver {
		c.Database.DSN = defaultDSN
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = defaultMaxImageBytes
	}
	if c.AuthRequestsPerMinute == 0 {
		c.AuthRequestsPerMinute = defaultAuthPerMinute
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = strings.TrimRight(c.BaseURL, "/") + "/auth/github/callback"
	}
}

// Validate reports every problem at once rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Cookie.Secret != "" && len(c.Cookie.Secret) < minCookieSecret {
		errs = append(errs, fmt.Errorf("cookie.secret must be at least %d characters", minCookieSecret))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweep_interval must be positive"))
	}
	if c.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("max_image_bytes must be positive"))
	}
	if c.AuthRequestsPerMinute <= 0 {
		errs = append(errs, errors.New("auth_requests_per_minute must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if (c.GitHub.ClientID == "") != (c.GitHub.ClientSecret == "") {
		errs = append(errs, errors.New("github.client_id and github.client_secret must be set together"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// GitHubEnabled reports whether GitHub login is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}

// Level returns the configured log level. Validate has already checked it.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log_level %q: want debug, info, warn or error", s)
	}
	return l, nil
}
