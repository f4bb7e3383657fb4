// Package config builds the process configuration from flags, config.yaml,
// the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	ProviderEWS  = "ews"
	ProviderIMAP = "imap"
)

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

// ProviderConfig holds the mailbox credentials. Server and Version are passed
// through to the EWS gateway, which owns autodiscovery.
type ProviderConfig struct {
	Type     string `mapstructure:"type"`
	APIURL   string `mapstructure:"api_url"`
	Email    string `mapstructure:"email"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Server   string `mapstructure:"server"`
	Version  string `mapstructure:"version"`
}

type IMAPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	TLS        bool   `mapstructure:"tls"`
	SentFolder string `mapstructure:"sent_folder"`
}

type SyncConfig struct {
	DaysAgo   int           `mapstructure:"days_ago"`
	Timezone  string        `mapstructure:"timezone"`
	Interval  time.Duration `mapstructure:"interval"`
	OnStartup bool          `mapstructure:"on_startup"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Config is built once at startup and handed to every component.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	IMAP     IMAPConfig     `mapstructure:"imap"`
	Sync     SyncConfig     `mapstructure:"sync"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`

	// Location is the resolved Sync.Timezone, used for display only.
	Location *time.Location `mapstructure:"-"`
}

// legacyEnv maps config keys to the environment names used by earlier
// deployments of the archiver.
var legacyEnv = map[string]string{
	"provider.email":    "EXCHANGE_EMAIL",
	"provider.username": "EXCHANGE_DOMAIN_USERNAME",
	"provider.password": "EXCHANGE_PASSWORD",
	"provider.server":   "EXCHANGE_SERVER",
	"provider.version":  "EXCHANGE_VERSION",
	"sync.timezone":     "TIMEZONE",
	"sync.days_ago":     "DAYS_AGO",
	"database.url":      "DATABASE_URL",
}

// SetDefaults registers every key so that environment overrides are seen by
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "")
	v.SetDefault("database.url", "mailvault.db")
	v.SetDefault("provider.type", ProviderEWS)
	v.SetDefault("provider.api_url", "http://localhost:8080")
	v.SetDefault("provider.email", "")
	v.SetDefault("provider.username", "")
	v.SetDefault("provider.password", "")
	v.SetDefault("provider.server", "")
	v.SetDefault("provider.version", "")
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.sent_folder", "Sent")
	v.SetDefault("sync.days_ago", 1)
	v.SetDefault("sync.timezone", "UTC")
	v.SetDefault("sync.interval", time.Duration(0))
	v.SetDefault("sync.on_startup", true)
	v.SetDefault("http.addr", ":5000")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// BindEnv enables MAILVAULT_SECTION_KEY style variables plus the legacy names.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("MAILVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		envKey := "MAILVAULT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load decodes, normalizes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid sync.timezone %q: %w", cfg.Sync.Timezone, err)
	}
	cfg.Location = loc

	return &cfg, nil
}

func (c *Config) normalize() {
	// Values copied from shell-style .env files may keep their quotes.
	trim := func(s string) string { return strings.Trim(strings.TrimSpace(s), `'"`) }
	c.Provider.Email = trim(c.Provider.Email)
	c.Provider.Username = trim(c.Provider.Username)
	c.Provider.Password = trim(c.Provider.Password)
	c.Provider.Server = trim(c.Provider.Server)
	c.Provider.Version = trim(c.Provider.Version)
	c.Sync.Timezone = trim(c.Sync.Timezone)
	c.Database.URL = trim(c.Database.URL)

	c.Provider.Type = strings.ToLower(strings.TrimSpace(c.Provider.Type))
	if c.Database.Driver == "" {
		c.Database.Driver = DriverFromURL(c.Database.URL)
	}
	if c.Sync.Timezone == "" {
		c.Sync.Timezone = "UTC"
	}
}

// DriverFromURL guesses the store driver from a connection string.
func DriverFromURL(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url not configured"))
	}

	switch c.Provider.Type {
	case ProviderEWS:
		if c.Provider.APIURL == "" {
			errs = append(errs, errors.New("provider.api_url not configured"))
		}
	case ProviderIMAP:
		if c.IMAP.Host == "" {
			errs = append(errs, errors.New("imap.host not configured"))
		}
		if c.Provider.Username == "" && c.Provider.Email == "" {
			errs = append(errs, errors.New("provider.username or provider.email required for imap"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.type must be %q or %q, got %q", ProviderEWS, ProviderIMAP, c.Provider.Type))
	}

	if c.Sync.DaysAgo < 0 {
		errs = append(errs, errors.New("sync.days_ago must not be negative"))
	}
	if c.Sync.Interval < 0 {
		errs = append(errs, errors.New("sync.interval must not be negative"))
	}

	return errors.Join(errs...)
}

// SyncSince returns the start of the sync window: days_ago days before now,
// computed in the configured zone.
func (c *Config) SyncSince(now time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return now.In(loc).AddDate(0, 0, -c.Sync.DaysAgo)
}
