package db

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config selects the GORM driver and its tuning. The zero value is not
// usable; start from DefaultConfig and override what the deployment needs.
type Config struct {
	Driver      string
	DSN         string
	Pool        PoolConfig
	SQLite      SQLiteConfig
	AutoMigrate bool
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteConfig maps onto connection pragmas applied in Open.
type SQLiteConfig struct {
	BusyTimeoutMs int
	WAL           bool
	ForeignKeys   bool
}

// DefaultConfig is a single-connection SQLite setup. SQLite serializes
// writers anyway, so a larger pool only buys lock contention.
func DefaultConfig() Config {
	return Config{
		Driver: "sqlite",
		Pool: PoolConfig{
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		SQLite: SQLiteConfig{
			BusyTimeoutMs: 5000,
			WAL:           true,
			ForeignKeys:   true,
		},
		AutoMigrate: true,
	}
}

// ResolveSQLiteDSN turns an optional configured path into the file the bot
// should open. An explicit DSN always wins. Otherwise the first existing
// candidate is used, preferring the per-user file under ~/.taskporter over a
// database in the working directory. When neither exists yet, the per-user
// location is created.
func ResolveSQLiteDSN(dsn string) (string, error) {
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		return dsn, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	userDB := filepath.Join(home, ".taskporter", "taskporter.sqlite")

	for _, candidate := range []string{userDB, filepath.Clean("./taskporter.sqlite")} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(userDB), 0o755); err != nil {
		return "", err
	}
	return userDB, nil
}
