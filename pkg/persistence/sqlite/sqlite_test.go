package sqlite_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/dagflow/pkg/persistence"
	"github.com/dukex/dagflow/pkg/persistence/sqlbase"
	"github.com/dukex/dagflow/pkg/persistence/sqlite"
	"github.com/dukex/dagflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestDB(t *testing.T) (*sqlite.Persistence, context.Context) {
	t.Helper()

	ctx := t.Context()

	p, err := sqlite.NewPersistence(ctx, newLogger(), sqlite.MemoryPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(context.Background()))
	})

	return p, ctx
}

func TestPersistence_Suite(t *testing.T) {
	t.Parallel()

	testutil.RunPersistenceSuite(t, func(t *testing.T) (persistence.Persistence, context.Context) {
		t.Helper()

		return setupTestDB(t)
	})
}

func TestNewPersistence_FileMigrations(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "dagflow.db")

	p, err := sqlite.NewPersistence(ctx, newLogger(), path)
	require.NoError(t, err)

	graph := testutil.SeedWorkflow(ctx, t, p, "persisted", testutil.Task("a"))
	require.NoError(t, p.Close(ctx))

	reopened, err := sqlite.NewPersistence(ctx, newLogger(), path)
	require.NoError(t, err)

	defer func() { _ = reopened.Close(ctx) }()

	version, err := sqlbase.NewMigrationManager(newLogger(), reopened.DB(), sqlite.Dialect(), nil).CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	loaded, err := reopened.WorkflowGraph(ctx, graph.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", loaded.Workflow.Name)
}

func TestNewPersistence_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := sqlite.NewPersistence(t.Context(), newLogger(), " ")
	require.Error(t, err)
}
