package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Token   TokenConfig   `mapstructure:"token"`
	Logger  LoggerConfig  `mapstructure:"logger"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type DBConfig struct {
	DatabaseURL        string        `mapstructure:"databaseURL"`
	MaxOpenConnection  int           `mapstructure:"maxOpenConnection"`
	MaxIdleConnection  int           `mapstructure:"maxIdleConnection"`
	ConnectionLifetime time.Duration `mapstructure:"connectionLifetime"`
}

type LedgerConfig struct {
	Driver  string        `mapstructure:"driver"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"maxRequests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutiveFailures"`
}

type TokenConfig struct {
	AuthToken string `mapstructure:"authToken"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	LedgerMemory    = "memory"
	LedgerHTTP      = "http"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 15*time.Second)

	v.SetDefault("storage.driver", StorageMemory)

	v.SetDefault("db.databaseURL", "")
	v.SetDefault("db.maxOpenConnection", 15)
	v.SetDefault("db.maxIdleConnection", 10)
	v.SetDefault("db.connectionLifetime", time.Hour)

	v.SetDefault("ledger.driver", LedgerMemory)
	v.SetDefault("ledger.url", "")
	v.SetDefault("ledger.timeout", 5*time.Second)
	v.SetDefault("ledger.breaker.maxRequests", 1)
	v.SetDefault("ledger.breaker.interval", time.Minute)
	v.SetDefault("ledger.breaker.timeout", 30*time.Second)
	v.SetDefault("ledger.breaker.consecutiveFailures", 5)

	v.SetDefault("token.authToken", "test-token")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.environment", "development")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "treasury")
}

// Load reads config.yaml from the working directory or internal/config and
// lets TREASURY_* environment variables override any key, for example
// TREASURY_LEDGER_DRIVER for ledger.driver.
func Load() (*Config, error) {
	return load(viper.New(), ".", "./internal/config")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("treasury")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	config.File = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.DB.DatabaseURL == "" {
			return errors.New("db.databaseURL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Ledger.Driver {
	case LedgerMemory:
	case LedgerHTTP:
		if c.Ledger.URL == "" {
			return errors.New("ledger.url is required for http ledger")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}
	return nil
}
