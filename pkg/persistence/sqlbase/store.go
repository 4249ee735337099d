package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/sethvargo/go-retry"
)

const (
	connectAttempts = 5
	connectBackoff  = 200 * time.Millisecond
)

// Store implements persistence.Persistence on top of database/sql. Engines
// plug in through their Dialect and migrations.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	dialect Dialect
}

// Open connects to the database, waits for it to answer and runs the migrations.
func Open(
	ctx context.Context,
	logger *slog.Logger,
	dialect Dialect,
	dsn string,
	migrations map[int]string,
	configure func(db *sql.DB),
) (*Store, error) {
	database, err := sql.Open(dialect.Name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}

	if configure != nil {
		configure(database)
	}

	err = retry.Do(ctx, retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff)), func(ctx context.Context) error {
		pingErr := database.PingContext(ctx)
		if pingErr != nil {
			logger.WarnContext(ctx, "Database not ready", "error", pingErr)

			return retry.RetryableError(pingErr)
		}

		return nil
	})
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = NewMigrationManager(logger, database, dialect, migrations).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewStore(logger, database, dialect), nil
}

// NewStore wraps an already migrated database.
func NewStore(logger *slog.Logger, db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, logger: logger, dialect: dialect}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx persistence.Tx) error) error {
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("failed to begin transaction: %w", err))
	}

	err = fn(ctx, &Tx{tx: transaction, dialect: s.dialect, sb: s.dialect.builder()})
	if err != nil {
		rollbackErr := transaction.Rollback()
		if rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.ErrorContext(ctx, "failed to rollback transaction", "error", rollbackErr)
		}

		return s.classify(err)
	}

	err = transaction.Commit()
	if err != nil {
		return s.classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (s *Store) classify(err error) error {
	if s.dialect.transient(err) && !errors.Is(err, persistence.ErrTransient) {
		return fmt.Errorf("%w: %w", persistence.ErrTransient, err)
	}

	return err
}

// WorkflowGraph reads a workflow with all its tasks, steps and edges in one
// transaction.
func (s *Store) WorkflowGraph(ctx context.Context, id int64) (*models.WorkflowGraph, error) {
	transaction, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	tx := &Tx{tx: transaction, dialect: s.dialect, sb: s.dialect.builder()}

	workflow, err := tx.Workflow(ctx, id)
	if err != nil {
		return nil, err
	}

	tasks, err := tx.Tasks(ctx, id)
	if err != nil {
		return nil, err
	}

	steps, err := tx.steps(ctx, sq.Eq{"workflow_id": id})
	if err != nil {
		return nil, err
	}

	dependencies, err := tx.Dependencies(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.WorkflowGraph{
		Workflow:     workflow,
		Tasks:        tasks,
		Steps:        steps,
		Dependencies: dependencies,
	}, nil
}

func (s *Store) Workflows(ctx context.Context, filter persistence.WorkflowFilter) ([]*models.Workflow, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = persistence.DefaultListLimit
	}

	query := s.dialect.builder().
		Select(workflowColumns...).
		From("workflows").
		OrderBy("id DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(filter.Offset, 0)))

	if filter.Status != "" {
		query = query.Where(sq.Eq{"status": string(filter.Status)})
	}

	statement, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build workflows query: %w", err)
	}

	workflows := make([]*models.Workflow, 0)

	err = sqlscan.Select(ctx, s.db, &workflows, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	return workflows, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *Store) HealthCheck(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		err := s.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
