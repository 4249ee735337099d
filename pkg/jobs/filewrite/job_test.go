package filewrite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/dagflow/pkg/jobs/filewrite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Handle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "report.txt")

	job := &filewrite.Job{Path: path, Content: "first\n"}
	require.NoError(t, job.Handle(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data))

	err = (&filewrite.Job{Path: path, Content: "again"}).Handle(ctx)
	require.ErrorIs(t, err, filewrite.ErrFileExists)

	require.NoError(t, (&filewrite.Job{Path: path, Content: "second\n", Append: true}).Handle(ctx))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	require.NoError(t, (&filewrite.Job{Path: path, Content: "replaced", Overwrite: true}).Handle(ctx))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))
}

func TestJob_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, (&filewrite.Job{}).Validate(), filewrite.ErrPathRequired)
}
