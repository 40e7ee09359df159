package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Media     MediaConfig     `mapstructure:"media"`
	JWTSecret string          `mapstructure:"jwt_secret"`
	SheetSync SheetSyncConfig `mapstructure:"sheet_sync"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// StorageConfig selects and configures the object storage driver.
// Driver "s3" covers MinIO and any S3-compatible endpoint; "local"
// stores files on disk and serves URLs that never expire.
type StorageConfig struct {
	Driver      string        `mapstructure:"driver"`
	LocalPath   string        `mapstructure:"local_path"`
	Endpoint    string        `mapstructure:"endpoint"`
	Region      string        `mapstructure:"region"`
	Bucket      string        `mapstructure:"bucket"`
	AccessKey   string        `mapstructure:"access_key"`
	SecretKey   string        `mapstructure:"secret_key"`
	PresignTTL  time.Duration `mapstructure:"presign_ttl"`
	MaxFileSize int64         `mapstructure:"max_file_size"`
}

// MediaConfig drives the background refresh sweep for media reference columns.
type MediaConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	RefreshThreshold time.Duration `mapstructure:"refresh_threshold"`
	ClockSkew        time.Duration `mapstructure:"clock_skew"`
}

type SheetSyncConfig struct {
	Secret string `mapstructure:"secret"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("sheet_sync.secret", "changeme-sheet-secret")
	viper.SetDefault("storage.driver", "local")
	viper.SetDefault("storage.local_path", "./uploads")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.presign_ttl", "168h")
	viper.SetDefault("storage.max_file_size", 5242880)
	viper.SetDefault("media.sweep_interval", "12h")
	viper.SetDefault("media.refresh_threshold", "24h")
	viper.SetDefault("media.clock_skew", "5m")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No app.yaml: run on defaults and environment overrides.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
