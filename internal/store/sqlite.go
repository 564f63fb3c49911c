package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

const (
	DriverCGO    = "sqlite3" // github.com/mattn/go-sqlite3
	DriverPureGo = "sqlite"  // modernc.org/sqlite
)

// Config selects the driver and database file
type Config struct {
	Driver        string
	Path          string
	BusyTimeoutMs int
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path on the default driver
func New(dbPath string) (*Store, error) {
	return Open(Config{Path: dbPath})
}

// Open opens the database and applies the schema
func Open(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverCGO
	}
	if cfg.BusyTimeoutMs <= 0 {
		cfg.BusyTimeoutMs = 5000
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time; the pool queues callers instead of SQLite returning BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// buildDSN sets WAL, busy timeout and foreign keys on every connection
func buildDSN(cfg Config) (string, error) {
	q := url.Values{}
	switch cfg.Driver {
	case DriverCGO:
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
		q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeoutMs))
		q.Set("_foreign_keys", "on")
		q.Set("_txlock", "immediate")
	case DriverPureGo:
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeoutMs))
		q.Add("_pragma", "foreign_keys(1)")
		q.Set("_txlock", "immediate")
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return "file:" + uriPath.Replace(cfg.Path) + "?" + q.Encode(), nil
}

// uriPath escapes the characters SQLite treats specially in a file: URI path
var uriPath = strings.NewReplacer("%", "%25", "?", "%3F", "#", "%23")

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a UNIQUE constraint failure
// from either SQLite driver
func IsUniqueViolation(err error) bool {
	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return cgoErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pureErr *sqlite.Error
	if errors.As(err, &pureErr) {
		return pureErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// rollback is deferred after BeginTx; it is a no-op once committed
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
