package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Queue   QueueConfig   `mapstructure:"queue"`
	APNS    APNSConfig    `mapstructure:"apns"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type QueueConfig struct {
	Workers            int           `mapstructure:"workers"`
	RatePerSecond      int           `mapstructure:"rate_per_second"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	LeaseTimeout       time.Duration `mapstructure:"lease_timeout"`
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	CompletedKeepMax   int           `mapstructure:"completed_keep_max"`
	FailedRetention    time.Duration `mapstructure:"failed_retention"`
}

// APNSConfig configures the push gateway connection. When KeyPath is
// empty the service runs with a logging mock transport instead of a
// real gateway session.
type APNSConfig struct {
	KeyID          string        `mapstructure:"key_id"`
	TeamID         string        `mapstructure:"team_id"`
	BundleID       string        `mapstructure:"bundle_id"`
	KeyPath        string        `mapstructure:"key_path"`
	Production     bool          `mapstructure:"production"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("pushgate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/pushgate")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PUSHGATE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/pushgate.db")

	viper.SetDefault("queue.workers", 10)
	viper.SetDefault("queue.rate_per_second", 100)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.backoff_base", 2*time.Second)
	viper.SetDefault("queue.lease_timeout", 60*time.Second)
	viper.SetDefault("queue.completed_retention", 1*time.Hour)
	viper.SetDefault("queue.completed_keep_max", 1000)
	viper.SetDefault("queue.failed_retention", 24*time.Hour)

	viper.SetDefault("apns.production", false)
	viper.SetDefault("apns.connect_timeout", 30*time.Second)
	viper.SetDefault("apns.request_timeout", 30*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
