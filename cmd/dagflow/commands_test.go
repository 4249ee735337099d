package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipeline = `
name: pipeline
tasks:
  - name: extract
    jobs:
      - type: log
        config: {message: extracting}
  - fan_out:
      name: shards
      expander: range
      depends_on: [extract]
      args: {count: 2, job: log, config: {message: shard}}
  - name: load
    depends_on: ["shards:"]
    jobs:
      - type: log
        config: {message: loading}
`

const broken = `
name: broken
tasks:
  - name: fetch
    jobs:
      - type: http_request
        config: {url: "http://127.0.0.1:1/unreachable"}
  - name: report
    depends_on: [fetch]
    jobs:
      - type: log
        config: {message: reporting}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(context.Background(), append([]string{"dagflow", "--log-level", "error"}, args...))

	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := runApp(t, "validate", "--plugins-path", t.TempDir(), writeFile(t, "pipeline.yaml", pipeline))
	require.NoError(t, err)

	assert.Contains(t, out, `workflow "pipeline" is valid: 3 tasks`)
	assert.Contains(t, out, "fan-out shards: 1 steps, depends on [extract]")

	_, err = runApp(t, "validate", writeFile(t, "cycle.yaml", `
name: cycle
tasks:
  - {name: a, depends_on: [b], jobs: [{type: log, config: {message: a}}]}
  - {name: b, depends_on: [a], jobs: [{type: log, config: {message: b}}]}
`))
	require.ErrorIs(t, err, definition.ErrCircularDependency)

	_, err = runApp(t, "validate", writeFile(t, "bad.yaml", "name: bad\n"))
	require.ErrorIs(t, err, manifest.ErrInvalidManifest)

	_, err = runApp(t, "validate")
	require.ErrorIs(t, err, ErrMissingFile)
}

func TestRunCommand(t *testing.T) {
	out, err := runApp(t, "run", "--database-url", "memory://", "--plugins-path", t.TempDir(),
		writeFile(t, "pipeline.yaml", pipeline))
	require.NoError(t, err)

	assert.Contains(t, out, "pipeline: COMPLETED")
	assert.Contains(t, out, "shards:1: COMPLETED")
	assert.Contains(t, out, "load: COMPLETED")
}

func TestRunCommand_Failure(t *testing.T) {
	out, err := runApp(t, "run", "--database-url", "sqlite://"+filepath.Join(t.TempDir(), "dagflow.db"),
		"--plugins-path", t.TempDir(), writeFile(t, "broken.yaml", broken))
	require.ErrorIs(t, err, ErrWorkflowFailed)

	assert.Contains(t, out, "fetch: FAILED")
	assert.Contains(t, out, "report: CANCELLED")
}

func TestSubmitCommand(t *testing.T) {
	out, err := runApp(t, "submit", "--database-url", "memory://", "--plugins-path", t.TempDir(),
		writeFile(t, "pipeline.hcl", `
name = "pipeline"

task "extract" {
  job "log" {
    config = { message = "extracting" }
  }
}
`))
	require.NoError(t, err)
	assert.Contains(t, out, "workflow 1 submitted: pipeline")
}
