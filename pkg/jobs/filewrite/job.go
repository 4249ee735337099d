// Package filewrite provides a job that writes content to a file.
package filewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dukex/dagflow/pkg/protocol"
)

const Type = "file_write"

var (
	ErrPathRequired = errors.New("file_write job requires a path")
	ErrFileExists   = errors.New("file already exists")
)

// Job writes Content to Path, creating parent directories. It fails when the
// file exists unless Overwrite or Append is set.
type Job struct {
	protocol.Tracking

	Path      string `json:"path"`
	Content   string `json:"content"`
	Overwrite bool   `json:"overwrite,omitempty"`
	Append    bool   `json:"append,omitempty"`

	logger *slog.Logger
}

func (j *Job) Type() string {
	return Type
}

func (j *Job) Validate() error {
	if j.Path == "" {
		return ErrPathRequired
	}

	return nil
}

func (j *Job) Handle(ctx context.Context) error {
	err := j.Validate()
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(j.Path), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE

	switch {
	case j.Append:
		flags |= os.O_APPEND
	case j.Overwrite:
		flags |= os.O_TRUNC
	default:
		flags |= os.O_EXCL
	}

	file, err := os.OpenFile(j.Path, flags, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrFileExists, j.Path)
	}

	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	_, err = file.WriteString(j.Content)
	if err != nil {
		_ = file.Close()

		return fmt.Errorf("failed to write file: %w", err)
	}

	err = file.Close()
	if err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	if j.logger != nil {
		j.logger.InfoContext(ctx, "File written", "path", j.Path, "bytes", len(j.Content), "step_id", j.StepID())
	}

	return nil
}

type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger.With("module", "file_write_job")}
}

func (*Factory) ID() string {
	return Type
}

func (f *Factory) New() protocol.Trackable {
	return &Job{logger: f.logger}
}
