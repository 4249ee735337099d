// Package postgresql provides the PostgreSQL persistence of workflow graphs.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/dagflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	*sqlbase.Store
}

// Dialect is the PostgreSQL flavour of the shared SQL store.
func Dialect() sqlbase.Dialect {
	return sqlbase.Dialect{
		Name:        "postgres",
		Placeholder: sq.Dollar,
		LockRows:    true,
		Transient:   isTransient,
	}
}

// NewPersistence creates a new PostgreSQL persistence layer and migrates its schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	store, err := sqlbase.Open(ctx, logger, Dialect(), databaseURL, migrations(), func(db *sql.DB) {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	})
	if err != nil {
		return nil, err
	}

	return &Persistence{Store: store}, nil
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}

	return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected
}
