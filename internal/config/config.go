// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmeshcher/warmconnects/internal/model"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	NotifyEndpoint string `env:"NOTIFY_ENDPOINT"`
	AuthSecret     string `env:"AUTH_SECRET"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`

	PlatformFeeBps    int64    `env:"PLATFORM_FEE_BPS" envDefault:"0"`
	PlatformAccountID int64    `env:"PLATFORM_ACCOUNT_ID" envDefault:"1"`
	MaxRevisions      int      `env:"MAX_REVISIONS" envDefault:"0"`
	MinWithdrawalRaw  string   `env:"MIN_WITHDRAWAL" envDefault:"10.00"`
	CreditBonus       bool     `env:"CREDIT_BONUS" envDefault:"false"`
	Arbiters          []string `env:"ARBITER_LOGINS" envSeparator:","`

	AcceptTimeout  time.Duration `env:"ACCEPT_TIMEOUT" envDefault:"72h"`
	ExpiryInterval time.Duration `env:"EXPIRY_INTERVAL" envDefault:"1m"`

	// MinWithdrawal: разобранное значение MIN_WITHDRAWAL.
	MinWithdrawal model.Money `env:"-"`
}

// Parse считывает конфигурацию из файла .env (если он есть), флагов командной строки
// и переменных окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyEndpoint := cfg.NotifyEndpoint

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.NotifyEndpoint, "n", "", "notification service endpoint")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyEndpoint != "" {
		cfg.NotifyEndpoint = envNotifyEndpoint
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	minWithdrawal, err := model.ParseMoney(c.MinWithdrawalRaw)
	if err != nil {
		return fmt.Errorf("MIN_WITHDRAWAL: %w", err)
	}
	if minWithdrawal < 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must not be negative")
	}
	c.MinWithdrawal = minWithdrawal

	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be within [0, 10000], got %d", c.PlatformFeeBps)
	}
	if c.MaxRevisions < 0 {
		return fmt.Errorf("MAX_REVISIONS must not be negative, got %d", c.MaxRevisions)
	}
	if c.PlatformAccountID <= 0 {
		return fmt.Errorf("PLATFORM_ACCOUNT_ID must be positive, got %d", c.PlatformAccountID)
	}
	return nil
}
