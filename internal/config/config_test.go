package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ProviderEWS, cfg.Provider.Type)
	assert.Equal(t, 1, cfg.Sync.DaysAgo)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv("EXCHANGE_EMAIL", "'me@corp.example'")
	t.Setenv("EXCHANGE_PASSWORD", `"s3cret"`)
	t.Setenv("TIMEZONE", "America/New_York")
	t.Setenv("DAYS_AGO", "3")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/mail")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)

	assert.Equal(t, "me@corp.example", cfg.Provider.Email)
	assert.Equal(t, "s3cret", cfg.Provider.Password)
	assert.Equal(t, 3, cfg.Sync.DaysAgo)
	assert.Equal(t, "America/New_York", cfg.Location.String())
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("DAYS_AGO", "3")
	t.Setenv("MAILVAULT_SYNC_DAYS_AGO", "7")
	t.Setenv("MAILVAULT_SYNC_INTERVAL", "15m")

	cfg, err := Load(newViper(t))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.DaysAgo)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := newViper(t)
	v.Set("provider.type", "pop3")
	v.Set("database.driver", "mysql")
	v.Set("sync.days_ago", -1)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.type")
	assert.Contains(t, err.Error(), "database.driver")
	assert.Contains(t, err.Error(), "sync.days_ago")
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	v := newViper(t)
	v.Set("sync.timezone", "Mars/Olympus")

	_, err := Load(v)
	assert.ErrorContains(t, err, "sync.timezone")
}

func TestImapRequiresHost(t *testing.T) {
	v := newViper(t)
	v.Set("provider.type", "imap")

	_, err := Load(v)
	assert.ErrorContains(t, err, "imap.host")
}

func TestSyncSince(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	cfg := &Config{Sync: SyncConfig{DaysAgo: 2}, Location: loc}

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	since := cfg.SyncSince(now)

	assert.Equal(t, loc, since.Location())
	assert.True(t, since.Equal(now.AddDate(0, 0, -2)))
}

func TestDriverFromURL(t *testing.T) {
	assert.Equal(t, DriverPostgres, DriverFromURL("postgresql://x/y"))
	assert.Equal(t, DriverSQLite, DriverFromURL("file:mail.db"))
}
