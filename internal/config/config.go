// Package config loads ratchet configuration from a YAML file and the
// environment. Every option the engine consumes has a documented default
// here; an empty config file yields a fully usable configuration apart from
// the database password.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a ratchet run.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Migrations MigrationsConfig `mapstructure:"migrations"`
	Lock       LockConfig       `mapstructure:"lock"`
	Batch      BatchConfig      `mapstructure:"batch"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig holds connection parameters for the target database.
type DatabaseConfig struct {
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	Name             string        `mapstructure:"name"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
}

// MigrationsConfig locates migration sources.
type MigrationsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LockConfig tunes the cross-process migration lock. Key must be identical
// in every process targeting the same database; changing it forfeits mutual
// exclusion against processes still using the old key.
type LockConfig struct {
	Key          int64         `mapstructure:"key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BatchConfig sets chunking defaults for batched migrations.
type BatchConfig struct {
	Size  int           `mapstructure:"size"`
	Pause time.Duration `mapstructure:"pause"`
}

// HTTPConfig configures the read-only status server.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultLockKey identifies the migration advisory lock. Spells "ratc".
const DefaultLockKey int64 = 0x72617463

// Load reads the named config file (optional) and environment overrides
// prefixed with RATCHET_, e.g. RATCHET_DATABASE_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	// Unmarshal only visits known keys, and the password has no default, so
	// it must be registered explicitly or the env override is never read.
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.statement_timeout", time.Duration(0))
	v.SetDefault("migrations.dir", "db/migrations")
	v.SetDefault("lock.key", DefaultLockKey)
	v.SetDefault("lock.timeout", 30*time.Second)
	v.SetDefault("lock.poll_interval", 250*time.Millisecond)
	v.SetDefault("batch.size", 1000)
	v.SetDefault("batch.pause", 100*time.Millisecond)
	v.SetDefault("http.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetEnvPrefix("RATCHET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ratchet")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// No config file; defaults plus env are enough.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Batch.Size <= 0 {
		return nil, fmt.Errorf("batch.size must be positive, got %d", cfg.Batch.Size)
	}
	if cfg.Lock.Timeout < 0 {
		return nil, fmt.Errorf("lock.timeout must not be negative, got %s", cfg.Lock.Timeout)
	}

	return &cfg, nil
}
