package utils

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ratchetdb/ratchet/internal/config"
)

// BuildConnectionString constructs a pgx connection string from database
// configuration. A statement timeout, when configured, rides along as a
// connection option so every statement in a migration run is bounded.
func BuildConnectionString(cfg config.DatabaseConfig) (string, error) {
	if cfg.Name == "" {
		return "", fmt.Errorf("database name is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return "", fmt.Errorf("invalid port number: %d", cfg.Port)
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		cfg.SSLMode,
	)

	if cfg.StatementTimeout > 0 {
		ms := cfg.StatementTimeout / time.Millisecond
		connString += "&options=" + "-c%20statement_timeout%3D" + strconv.FormatInt(int64(ms), 10)
	}

	return connString, nil
}
