// Package sqlite provides an embedded persistence of workflow graphs on
// modernc.org/sqlite, for single-process deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/dagflow/pkg/persistence/sqlbase"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath keeps the database in memory for the lifetime of the store.
const MemoryPath = ":memory:"

// Persistence implements the persistence layer for SQLite.
type Persistence struct {
	*sqlbase.Store
}

// Dialect is the SQLite flavour of the shared SQL store. SQLite serializes
// writers itself, so rows are never locked explicitly.
func Dialect() sqlbase.Dialect {
	return sqlbase.Dialect{
		Name:        "sqlite",
		Placeholder: sq.Question,
		Transient:   isTransient,
	}
}

// NewPersistence opens (creating if needed) the database at path and migrates its schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*Persistence, error) {
	dsn, err := buildDSN(path)
	if err != nil {
		return nil, err
	}

	store, err := sqlbase.Open(ctx, logger, Dialect(), dsn, migrations(), func(db *sql.DB) {
		// One connection: transactions run one after the other and an
		// in-memory database is never dropped by the pool.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	})
	if err != nil {
		return nil, err
	}

	return &Persistence{Store: store}, nil
}

func buildDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("sqlite: database path is required")
	}

	query := url.Values{}
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", "busy_timeout(5000)")
	query.Set("_time_format", "sqlite")

	if path != MemoryPath {
		query.Add("_pragma", "journal_mode(WAL)")
	}

	return fmt.Sprintf("file:%s?%s", path, query.Encode()), nil
}

func isTransient(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	code := sqliteErr.Code() & 0xff

	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
