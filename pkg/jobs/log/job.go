// Package log provides a job that writes a structured log line.
package log

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/dukex/dagflow/pkg/protocol"
)

const Type = "log"

var ErrMessageRequired = errors.New("log job requires a message")

// Job logs Message with Attributes at Level.
type Job struct {
	protocol.Tracking

	Message    string         `json:"message"`
	Level      string         `json:"level,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`

	logger *slog.Logger
}

func (j *Job) Type() string {
	return Type
}

func (j *Job) Validate() error {
	if strings.TrimSpace(j.Message) == "" {
		return ErrMessageRequired
	}

	return nil
}

func (j *Job) Handle(ctx context.Context) error {
	logger := j.logger
	if logger == nil {
		logger = slog.Default()
	}

	args := []any{
		"workflow_id", j.WorkflowID(),
		"task_id", j.TaskID(),
		"step_id", j.StepID(),
	}

	keys := make([]string, 0, len(j.Attributes))
	for key := range j.Attributes {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		args = append(args, key, j.Attributes[key])
	}

	logger.Log(ctx, level(j.Level), j.Message, args...)

	return nil
}

func level(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger.With("module", "log_job")}
}

func (*Factory) ID() string {
	return Type
}

func (f *Factory) New() protocol.Trackable {
	return &Job{logger: f.logger}
}
