package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/fitcoach-payments/internal"
	"github.com/frahmantamala/fitcoach-payments/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fitcoach-payments",
	Short: "FitCoach payments",
	Long:  `M-Pesa STK Push payments for FitCoach subscriptions: initiate, receive callbacks, report status.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*internal.Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		cfg := internal.LoadConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("error validating config from environment: %w", err)
		}
		logger.Configure(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
		return cfg, nil
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}

	logger.Configure(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http_server.port", 3000)
	v.SetDefault("http_server.allowed_origins", "*")
	v.SetDefault("http_server.read_header_timeout", "5s")
	v.SetDefault("http_server.read_timeout", "15s")
	v.SetDefault("http_server.write_timeout", "15s")
	v.SetDefault("http_server.idle_timeout", "60s")
	v.SetDefault("store.driver", internal.StoreDriverMemory)
	v.SetDefault("store.sqlite_path", "payments.db")
	v.SetDefault("redis.key_prefix", "fitcoach:payment:")
	v.SetDefault("mpesa.environment", "sandbox")
	v.SetDefault("mpesa.business_short_code", "174379")
	v.SetDefault("mpesa.transaction_type", "CustomerPayBillOnline")
	v.SetDefault("mpesa.request_timeout", "30s")
	v.SetDefault("poller.server_url", "http://localhost:3000")
	v.SetDefault("poller.interval", "3s")
	v.SetDefault("poller.max_attempts", 20)
	v.SetDefault("sandbox.port", 4000)
	v.SetDefault("sandbox.success_rate", 0.8)
	v.SetDefault("sandbox.min_delay", "1s")
	v.SetDefault("sandbox.max_delay", "4s")
	v.SetDefault("sandbox.max_workers", 10)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-dir", ".", "directory containing config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
}
