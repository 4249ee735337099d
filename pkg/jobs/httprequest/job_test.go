package httprequest_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dukex/dagflow/pkg/jobs/httprequest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(t *testing.T, server *httptest.Server) *httprequest.Job {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	job, ok := httprequest.NewFactory(server.Client(), logger).New().(*httprequest.Job)
	require.True(t, ok)

	job.URL = server.URL + "/hook"

	return job
}

func TestJob_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		job     httprequest.Job
		wantErr error
	}{
		{name: "defaults to GET", job: httprequest.Job{URL: "https://example.com"}},
		{name: "lowercase method", job: httprequest.Job{Method: "post", URL: "https://example.com/x"}},
		{name: "unknown method", job: httprequest.Job{Method: "FETCH", URL: "https://example.com"}, wantErr: httprequest.ErrHTTPMethodInvalid},
		{name: "missing url", job: httprequest.Job{}, wantErr: httprequest.ErrHTTPURLInvalid},
		{name: "relative url", job: httprequest.Job{URL: "/path"}, wantErr: httprequest.ErrHTTPURLInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := tt.job

			err := job.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, job.Method)
		})
	}
}

func TestJob_Handle(t *testing.T) {
	t.Parallel()

	t.Run("sends method headers and body", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/hook", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"ok":true}`, string(body))

			w.WriteHeader(http.StatusCreated)
		}))
		defer server.Close()

		job := newJob(t, server)
		job.Method = "post"
		job.Body = `{"ok":true}`
		job.Headers = map[string]string{"Content-Type": "application/json"}

		require.NoError(t, job.Handle(context.Background()))
	})

	t.Run("fails on unexpected status", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		err := newJob(t, server).Handle(context.Background())
		require.ErrorIs(t, err, httprequest.ErrUnexpectedStatus)
	})

	t.Run("accepts configured status", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		job := newJob(t, server)
		job.ExpectStatus = []int{http.StatusNotFound}

		require.NoError(t, job.Handle(context.Background()))
	})

	t.Run("retries server errors", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)

				return
			}

			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		job := newJob(t, server)
		job.Retry = httprequest.RetryConfig{Attempts: 3}

		require.NoError(t, job.Handle(context.Background()))
		assert.Equal(t, int32(3), calls.Load())
	})
}
