package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Driver)
	assert.Equal(t, uint32(5), cfg.Ledger.Breaker.ConsecutiveFailures)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: "9090"
storage:
  driver: postgres
db:
  databaseURL: postgres://treasury@localhost/treasury
ledger:
  driver: http
  url: http://ledger.local
  breaker:
    consecutiveFailures: 2
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	t.Setenv("TREASURY_SERVER_PORT", "7070")
	t.Setenv("TREASURY_TOKEN_AUTHTOKEN", "from-env")

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.File)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://treasury@localhost/treasury", cfg.DB.DatabaseURL)
	assert.Equal(t, LedgerHTTP, cfg.Ledger.Driver)
	assert.Equal(t, "http://ledger.local", cfg.Ledger.URL)
	assert.Equal(t, uint32(2), cfg.Ledger.Breaker.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Ledger.Breaker.Timeout)
	assert.Equal(t, "from-env", cfg.Token.AuthToken)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_EnvSelectsPostgresWithoutURL(t *testing.T) {
	t.Setenv("TREASURY_STORAGE_DRIVER", "postgres")

	_, err := load(viper.New(), t.TempDir())
	assert.ErrorContains(t, err, "db.databaseURL")
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [\n"), 0o600))

	_, err := load(viper.New(), dir)
	assert.ErrorContains(t, err, "error reading config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage: StorageConfig{Driver: StorageMemory},
			Ledger:  LedgerConfig{Driver: LedgerMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"memory", func(*Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "badger" }, `unknown storage driver "badger"`},
		{"postgres without url", func(c *Config) { c.Storage.Driver = StoragePostgres }, "db.databaseURL"},
		{"postgres", func(c *Config) {
			c.Storage.Driver = StoragePostgres
			c.DB.DatabaseURL = "postgres://localhost"
		}, ""},
		{"unknown ledger", func(c *Config) { c.Ledger.Driver = "grpc" }, `unknown ledger driver "grpc"`},
		{"http ledger without url", func(c *Config) { c.Ledger.Driver = LedgerHTTP }, "ledger.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
