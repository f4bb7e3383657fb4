package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/config"
	"github.com/stoik/mailvault/internal/logger"
	"github.com/stoik/mailvault/services/mailsync-service/internal/mailsync"
	"github.com/stoik/mailvault/services/mailsync-service/internal/provider"
	"github.com/stoik/mailvault/services/mailsync-service/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "mailvault",
	Short:        "Exchange mailbox archiver",
	Long:         "Syncs the sent folder and inbox of one mailbox into a database and serves a UI to browse, search and export them",
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml)")
	flags.String("database.url", "mailvault.db", "Database URL: a SQLite path or postgres:// URL")
	flags.String("provider.type", config.ProviderEWS, "Mail source: 'ews' or 'imap'")
	flags.String("provider.api_url", "http://localhost:8080", "EWS gateway base URL")
	flags.String("http.addr", ":5000", "HTTP listen address")
	flags.String("log.level", "info", "Log level")

	for _, key := range []string{"database.url", "provider.type", "provider.api_url", "http.addr", "log.level"} {
		viper.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(runCmd, syncCmd, setupCmd)
}

func initConfig() {
	config.LoadDotEnv()
	config.SetDefaults(viper.GetViper())
	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./services/mailsync-service")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// deps holds everything a command needs, built from the loaded configuration.
type deps struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	service *mailsync.Service
}

func (d *deps) Close() {
	if d.store != nil {
		d.store.Close()
	}
	_ = d.logger.Sync()
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// build opens the store and the mail source. Callers must Close the result.
func build(ctx context.Context) (*deps, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, logger: log}

	d.store, err = store.Open(ctx, cfg.Database)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := d.store.EnsureSchema(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	source, err := provider.NewProvider(cfg, log)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	d.service = mailsync.NewService(source, d.store, cfg.SyncSince, log)
	log.Info("configured",
		zap.String("driver", cfg.Database.Driver),
		zap.String("provider", cfg.Provider.Type),
		zap.String("timezone", cfg.Location.String()),
		zap.Int("days_ago", cfg.Sync.DaysAgo),
	)
	return d, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
