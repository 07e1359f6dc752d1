package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	TelegramToken    string `yaml:"telegram_bot_token"`
	MarketplaceURL   string `yaml:"marketplace_url"`
	MarketplaceToken string `yaml:"marketplace_token"`
	ClientEmail      string `yaml:"client_email"`
	DBPath           string `yaml:"db_path"`
	HTTPAddr         string `yaml:"http_addr"`

	// CORSOrigins are the web client origins; empty allows any
	CORSOrigins []string `yaml:"cors_origins"`

	// RedisURL selects the shared busy set; empty keeps it in memory
	RedisURL string `yaml:"redis_url"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	BusyTTL           time.Duration `yaml:"busy_ttl"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		MarketplaceURL:    "http://localhost:8080",
		DBPath:            "./checkout_ledger.db",
		HTTPAddr:          ":8080",
		RequestTimeout:    10 * time.Second,
		ProcessingTimeout: 60 * time.Second,
		BusyTTL:           2 * time.Minute,
		SessionTTL:        15 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or CONFIG_FILE when path is empty), then environment variables. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment only")
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.MarketplaceURL = strings.TrimRight(cfg.MarketplaceURL, "/")
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &c.TelegramToken,
		"MARKETPLACE_URL":    &c.MarketplaceURL,
		"MARKETPLACE_TOKEN":  &c.MarketplaceToken,
		"CLIENT_EMAIL":       &c.ClientEmail,
		"DB_PATH":            &c.DBPath,
		"HTTP_ADDR":          &c.HTTPAddr,
		"REDIS_URL":          &c.RedisURL,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FORMAT":         &c.LogFormat,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}

	durations := map[string]*time.Duration{
		"REQUEST_TIMEOUT":    &c.RequestTimeout,
		"PROCESSING_TIMEOUT": &c.ProcessingTimeout,
		"BUSY_TTL":           &c.BusyTTL,
		"SESSION_TTL":        &c.SessionTTL,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		*dst = d
	}
	return nil
}

// RequireBot checks the settings the Telegram bot cannot start without
func (c *Config) RequireBot() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return c.RequireMarketplace()
}

// RequireMarketplace checks the settings every checkout flow needs
func (c *Config) RequireMarketplace() error {
	if c.MarketplaceURL == "" {
		return errors.New("MARKETPLACE_URL is required")
	}
	return nil
}
