package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/seimei-ai/seimei/internal/httpserver"
	"github.com/seimei-ai/seimei/internal/notify"
	"github.com/seimei-ai/seimei/internal/split"
	"github.com/seimei-ai/seimei/internal/store/gormstore"
	"github.com/seimei-ai/seimei/pkg/credits"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagWebhookSecret   = "webhook-secret"
	flagAllowedOrigins  = "allowed-origins"
	flagUpstreamTimeout = "upstream-timeout"
	flagConfigFile      = "config"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyWebhookSecret   = "webhook_secret"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyUpstreamTimeout = "upstream_timeout"
	configKeyTiers           = "tiers"
	configKeyAzureEndpoint   = "azure_openai_endpoint"
	configKeyAzureAPIKey     = "azure_openai_api_key"
	configKeyAzureDeployment = "azure_deployment_name"
	configKeyAzureAPIVersion = "azure_api_version"
	configKeySMTPHost        = "smtp_host"
	configKeySMTPPort        = "smtp_port"
	configKeySMTPUsername    = "smtp_username"
	configKeySMTPPassword    = "smtp_password"
	configKeyMailFrom        = "mail_from"

	defaultDatabaseURL = "sqlite:///tmp/seimei.db"
	defaultListenAddr  = ":8080"
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	WebhookSecret   string
	AllowedOrigins  []string
	UpstreamTimeout time.Duration
	Tiers           []credits.Tier
	Split           split.Config
	SMTP            notify.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seimeid: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "seimeid",
		Short:         "Prepaid PIN credit ledger and name-splitting API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagWebhookSecret, "", "shared secret verifying payment webhook signatures")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().Duration(flagUpstreamTimeout, 30*time.Second, "timeout for the external processing call")
	cmd.Flags().String(flagConfigFile, "", "optional config file (yaml) with tier overrides")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "LISTEN_ADDR",
		configKeyWebhookSecret:   "WEBHOOK_SECRET",
		configKeyAllowedOrigins:  "ALLOWED_ORIGINS",
		configKeyUpstreamTimeout: "UPSTREAM_TIMEOUT",
		configKeyAzureEndpoint:   "AZURE_OPENAI_ENDPOINT",
		configKeyAzureAPIKey:     "AZURE_OPENAI_API_KEY",
		configKeyAzureDeployment: "AZURE_DEPLOYMENT_NAME",
		configKeyAzureAPIVersion: "AZURE_API_VERSION",
		configKeySMTPHost:        "SMTP_HOST",
		configKeySMTPPort:        "SMTP_PORT",
		configKeySMTPUsername:    "SMTP_USERNAME",
		configKeySMTPPassword:    "SMTP_PASSWORD",
		configKeyMailFrom:        "MAIL_FROM",
	}
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeyWebhookSecret:   flagWebhookSecret,
		configKeyAllowedOrigins:  flagAllowedOrigins,
		configKeyUpstreamTimeout: flagUpstreamTimeout,
	}
	for key, flag := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	if configFile, _ := cmd.Flags().GetString(flagConfigFile); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.WebhookSecret = viper.GetString(configKeyWebhookSecret)
	cfg.AllowedOrigins = httpserver.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins))
	cfg.UpstreamTimeout = viper.GetDuration(configKeyUpstreamTimeout)

	if err := viper.UnmarshalKey(configKeyTiers, &cfg.Tiers); err != nil {
		return fmt.Errorf("parse tiers: %w", err)
	}

	cfg.Split = split.Config{
		Endpoint:   viper.GetString(configKeyAzureEndpoint),
		APIKey:     viper.GetString(configKeyAzureAPIKey),
		Deployment: viper.GetString(configKeyAzureDeployment),
		APIVersion: viper.GetString(configKeyAzureAPIVersion),
	}
	cfg.SMTP = notify.Config{
		Host:     viper.GetString(configKeySMTPHost),
		Port:     viper.GetInt(configKeySMTPPort),
		Username: viper.GetString(configKeySMTPUsername),
		Password: viper.GetString(configKeySMTPPassword),
		From:     viper.GetString(configKeyMailFrom),
	}

	if cfg.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	return cfg.Split.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	splitter, err := split.NewClient(cfg.Split)
	if err != nil {
		return fmt.Errorf("split client init: %w", err)
	}

	var notifier credits.Notifier
	if strings.TrimSpace(cfg.SMTP.Host) != "" {
		notifier, err = notify.NewMailer(cfg.SMTP)
		if err != nil {
			return fmt.Errorf("mailer init: %w", err)
		}
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	tierTable, err := credits.NewTierTable(cfg.Tiers)
	if err != nil {
		return fmt.Errorf("tier table init: %w", err)
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := credits.NewService(
		store,
		credits.NewRandomGenerator(),
		splitter,
		notifier,
		clock,
		credits.WithTierTable(tierTable),
		credits.WithUpstreamTimeout(cfg.UpstreamTimeout),
		credits.WithOperationLogger(credits.NewZapOperationLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("credits service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		WebhookSecret:  cfg.WebhookSecret,
	}
	if err := serverConfig.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	return httpserver.Run(ctx, serverConfig, service, logger)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "seimei.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(&gormstore.GrantAccount{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
