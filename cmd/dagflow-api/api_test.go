package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/dispatcher"
	logjob "github.com/dukex/dagflow/pkg/jobs/log"
	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/dukex/dagflow/pkg/mocks"
	"github.com/dukex/dagflow/pkg/persistence/memory"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/dukex/dagflow/pkg/registry"
	"github.com/dukex/dagflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *workflow.Manager) {
	t.Helper()

	logger := slog.Default()
	store := memory.NewPersistence()

	reg := registry.NewRegistry(logger)
	reg.RegisterJob(logjob.NewFactory(logger))

	q := &mocks.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything).Return(nil)

	manager := workflow.NewManager(store, workflow.NewRepository(store, reg), dispatcher.New(q, logger), logger)

	return NewAPI(logger, manager, metrics.New()).App(), manager
}

func get(t *testing.T, app *fiber.App, path string) (int, []byte) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, body
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "dagflow API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_Metrics(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	status, body := get(t, app, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "dagflow_workflows_submitted_total")
}

func TestAPI_Workflows(t *testing.T) {
	t.Parallel()

	app, manager := setupTestApp(t)

	status, body := get(t, app, "/workflows")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"workflows":[],"pagination":{"limit":50,"offset":0}}`, string(body))

	wf, err := manager.Submit(context.Background(), definition.Workflow{
		Name: "release",
		Tasks: []definition.Entry{
			&definition.Task{Name: "build", Jobs: []protocol.Job{&logjob.Job{Message: "building"}}},
		},
	})
	require.NoError(t, err)

	status, body = get(t, app, "/workflows")
	assert.Equal(t, http.StatusOK, status)

	var list struct {
		Workflows []map[string]any `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Workflows, 1)
	assert.Equal(t, "release", list.Workflows[0]["name"])
	assert.EqualValues(t, wf.ID, list.Workflows[0]["id"])

	status, body = get(t, app, "/workflows/"+strconv.FormatInt(wf.ID, 10))
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"build"`)
}
