package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Connection settings. SQLite carries only the address table here, so
// the pool is pinned to one connection: a single writer, no lock
// contention, and WAL readers are not needed inside this process.
const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	pingTimeout = 5 * time.Second
)

// Config maps the database section of the runtime config.
type Config struct {
	// Path is the SQLite file; its directory is created on demand.
	Path string

	// WALMode enables write-ahead logging. On by default in the
	// shipped config; the telegram hot path benefits from it when an
	// external tool reads the file.
	WALMode bool

	// BusyTimeout is how long a statement waits on a lock, in seconds.
	BusyTimeout int
}

// DB is the runtime's SQLite handle. The embedded *sql.DB carries the
// query surface; this wrapper owns lifecycle and migrations.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the address database, creating file and directory
// on first start, and verifies the connection with a ping.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	db := &DB{DB: sqlDB, path: cfg.Path}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // best-effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// The file appears on first write; tightening its mode may fail
	// before then, which is fine.
	_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // file may not exist yet

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close shuts the connection down.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to prove the connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}
