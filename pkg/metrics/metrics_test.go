package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/dagflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_StepOutcomes(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	done := m.StepStarted("log")
	done(metrics.OutcomeCompleted)

	m.StepStarted("log")(metrics.OutcomeFailed)
	m.StepStarted("http_request")(metrics.OutcomeCompleted)
	m.WorkflowSubmitted()

	count, err := testutil.GatherAndCount(m.Registry(), "dagflow_steps_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = testutil.GatherAndCount(m.Registry(), "dagflow_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.WorkflowSubmitted()

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "dagflow_workflows_submitted_total 1")
	assert.Contains(t, string(body), "dagflow_steps_in_flight 0")
}
