package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultStorageLimit   = int64(5) * 1024 * 1024 * 1024 // 5GB
	DefaultWarningFree    = int64(512) * 1024 * 1024      // warn when free space drops under 512MB
	DefaultWarningWait    = 72 * time.Hour
	DefaultReconcileEvery = 1 * time.Hour
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Quota    QuotaConfig    `mapstructure:"Quota"`
}

type ServerConfig struct {
	Port string `mapstructure:"Port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"Host"`
	Port     string `mapstructure:"Port"`
	User     string `mapstructure:"User"`
	Password string `mapstructure:"Password"`
	Name     string `mapstructure:"Name"`
	SSLMode  string `mapstructure:"SSLMode"`
}

// QuotaConfig is the process-wide quota policy, consumed read-only by the
// usage service.
type QuotaConfig struct {
	StorageLimitBytes     int64         `mapstructure:"StorageLimitBytes"`
	WarningThresholdBytes int64         `mapstructure:"WarningThresholdBytes"`
	WarningWaitPeriod     time.Duration `mapstructure:"WarningWaitPeriod"`
	ReconcileInterval     time.Duration `mapstructure:"ReconcileInterval"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Quota.StorageLimitBytes", "QUOTA_STORAGE_LIMIT_BYTES")
	v.BindEnv("Quota.WarningThresholdBytes", "QUOTA_WARNING_THRESHOLD_BYTES")
	v.BindEnv("Quota.WarningWaitPeriod", "QUOTA_WARNING_WAIT_PERIOD")
	v.BindEnv("Quota.ReconcileInterval", "QUOTA_RECONCILE_INTERVAL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = v.GetString("DATABASE_HOST")
	}
	if cfg.Database.Port == "" {
		cfg.Database.Port = v.GetString("DATABASE_PORT")
	}
	if cfg.Database.User == "" {
		cfg.Database.User = v.GetString("DATABASE_USER")
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = v.GetString("DATABASE_NAME")
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	}

	if cfg.Database.Host == "" ||
		cfg.Database.Port == "" ||
		cfg.Database.User == "" ||
		cfg.Database.Password == "" ||
		cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Name)
	}

	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "2525"
	}
	if cfg.Quota.StorageLimitBytes <= 0 {
		cfg.Quota.StorageLimitBytes = DefaultStorageLimit
	}
	if cfg.Quota.WarningThresholdBytes <= 0 {
		cfg.Quota.WarningThresholdBytes = DefaultWarningFree
	}
	if cfg.Quota.WarningWaitPeriod <= 0 {
		cfg.Quota.WarningWaitPeriod = DefaultWarningWait
	}
	if cfg.Quota.ReconcileInterval <= 0 {
		cfg.Quota.ReconcileInterval = DefaultReconcileEvery
	}

	return &cfg, nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}
