package store

import (
	"fmt"
	"net/url"

	"github.com/sameerk/feedrelay/internal/config"
)

// BuildConnString renders the database settings as a postgres:// URL
// suitable for pgxpool.New. The password is query-escaped so symbols
// like @ or / survive; sslmode falls back to "prefer" when unset.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}
