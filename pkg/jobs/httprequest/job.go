// Package httprequest provides a job that performs an HTTP request and fails
// the step when the response status is not accepted.
package httprequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/dagflow/pkg/protocol"
)

const (
	Type                  = "http_request"
	defaultTimeoutSeconds = 30
)

var (
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	ErrHTTPURLInvalid    = errors.New("invalid HTTP request url")
	ErrHTTPServerError   = errors.New("server error during HTTP request")
	ErrUnexpectedStatus  = errors.New("unexpected HTTP status")
)

// RetryConfig defines retries of the request inside one step execution.
type RetryConfig struct {
	Attempts int `json:"attempts"`
	Delay    int `json:"delay"`
}

// Job performs an HTTP request. The step fails when the final response status
// is not in ExpectStatus (any 2xx when empty).
type Job struct {
	protocol.Tracking

	Method       string            `json:"method,omitempty"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	Body         string            `json:"body,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	Retry        RetryConfig       `json:"retry,omitempty"`
	ExpectStatus []int             `json:"expect_status,omitempty"`

	client *http.Client
	logger *slog.Logger
}

func (j *Job) Type() string {
	return Type
}

// Validate checks if the job has a usable configuration.
func (j *Job) Validate() error {
	if j.Method == "" {
		j.Method = http.MethodGet
	}

	j.Method = strings.ToUpper(j.Method)

	switch j.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return ErrHTTPMethodInvalid
	}

	parsed, err := url.Parse(j.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ErrHTTPURLInvalid
	}

	return nil
}

func (j *Job) Handle(ctx context.Context) error {
	err := j.Validate()
	if err != nil {
		return err
	}

	logger := j.logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("step_id", j.StepID(), "method", j.Method, "url", j.URL)
	logger.InfoContext(ctx, "Executing HTTP request")

	attempts := max(j.Retry.Attempts, 1)

	var (
		lastErr error
		resp    *http.Response
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", attempts)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(j.Retry.Delay) * time.Second):
			}
		}

		resp, err = j.do(ctx)
		if err != nil {
			lastErr = err

			continue
		}

		if resp.StatusCode >= 500 && attempt < attempts {
			closeBody(ctx, logger, resp)

			lastErr = fmt.Errorf("server error (status %d), retrying: %w", resp.StatusCode, ErrHTTPServerError)
			resp = nil

			continue
		}

		break
	}

	if resp == nil {
		return fmt.Errorf("all retry attempts failed, last error: %w", lastErr)
	}
	defer closeBody(ctx, logger, resp)

	_, err = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if !j.accepted(resp.StatusCode) {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode)

	return nil
}

func (j *Job) do(ctx context.Context) (*http.Response, error) {
	var body io.Reader
	if j.Body != "" {
		body = strings.NewReader(j.Body)
	}

	req, err := http.NewRequestWithContext(ctx, j.Method, j.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range j.Headers {
		req.Header.Set(key, value)
	}

	client := j.client
	if client == nil {
		client = &http.Client{}
	}

	timeout := j.Timeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Do(req.WithContext(reqCtx))
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	// The body must be read before reqCtx is cancelled.
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp.Body = io.NopCloser(strings.NewReader(string(data)))

	return resp, nil
}

func (j *Job) accepted(status int) bool {
	if len(j.ExpectStatus) == 0 {
		return status >= 200 && status < 300
	}

	for _, expected := range j.ExpectStatus {
		if status == expected {
			return true
		}
	}

	return false
}

func closeBody(ctx context.Context, logger *slog.Logger, resp *http.Response) {
	err := resp.Body.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close response body", "error", err)
	}
}

type Factory struct {
	client *http.Client
	logger *slog.Logger
}

func NewFactory(client *http.Client, logger *slog.Logger) *Factory {
	return &Factory{
		client: client,
		logger: logger.With("module", "http_request_job"),
	}
}

func (*Factory) ID() string {
	return Type
}

func (f *Factory) New() protocol.Trackable {
	return &Job{client: f.client, logger: f.logger}
}
