// Package schedule submits workflow manifests on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/models"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrEntryName = errors.New("schedule entry requires a name")
	ErrEntryFile = errors.New("schedule entry requires a manifest file")
	ErrEntryCron = errors.New("invalid cron expression")
)

// Entry submits the manifest File every time Cron fires.
type Entry struct {
	Name string `yaml:"name"`
	Cron string `yaml:"cron"`
	File string `yaml:"file"`
}

func (e Entry) Validate() error {
	if e.Name == "" {
		return ErrEntryName
	}

	if e.File == "" {
		return fmt.Errorf("entry %q: %w", e.Name, ErrEntryFile)
	}

	_, err := cron.ParseStandard(e.Cron)
	if err != nil {
		return fmt.Errorf("entry %q: %w: %w", e.Name, ErrEntryCron, err)
	}

	return nil
}

type file struct {
	Schedules []Entry `yaml:"schedules"`
}

// LoadEntries reads a schedules file:
//
//	schedules:
//	  - name: nightly
//	    cron: "0 2 * * *"
//	    file: workflows/nightly.yaml
//
// Relative manifest paths are resolved against the directory of the schedules file.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedules: %w", err)
	}

	var f file

	err = yaml.Unmarshal(data, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedules: %w", err)
	}

	dir := filepath.Dir(path)

	for i, entry := range f.Schedules {
		err = entry.Validate()
		if err != nil {
			return nil, err
		}

		if !filepath.IsAbs(entry.File) {
			f.Schedules[i].File = filepath.Join(dir, entry.File)
		}
	}

	return f.Schedules, nil
}

type ManifestLoader interface {
	LoadFile(path string) (definition.Workflow, error)
}

type Submitter interface {
	Submit(ctx context.Context, def definition.Workflow) (*models.Workflow, error)
}

type Scheduler struct {
	loader    ManifestLoader
	submitter Submitter
	logger    *slog.Logger
	cron      *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

func New(loader ManifestLoader, submitter Submitter, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := &cronLogger{logger: logger}

	return &Scheduler{
		loader:    loader,
		submitter: submitter,
		logger:    logger,
		ctx:       context.Background(),
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
	}
}

// Add registers entry. Entries may be added before or after Start.
func (s *Scheduler) Add(entry Entry) error {
	err := entry.Validate()
	if err != nil {
		return err
	}

	id, err := s.cron.AddFunc(entry.Cron, func() {
		_, _ = s.Trigger(s.context(), entry)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule entry %q: %w", entry.Name, err)
	}

	s.logger.Info("Scheduled workflow", "name", entry.Name, "cron", entry.Cron, "file", entry.File, "entry_id", id)

	return nil
}

// Trigger loads the manifest of entry and submits it once.
func (s *Scheduler) Trigger(ctx context.Context, entry Entry) (*models.Workflow, error) {
	logger := s.logger.With("name", entry.Name, "file", entry.File)

	def, err := s.loader.LoadFile(entry.File)
	if err != nil {
		logger.Error("Failed to load scheduled manifest", "error", err)

		return nil, err
	}

	wf, err := s.submitter.Submit(ctx, def)
	if err != nil {
		logger.Error("Failed to submit scheduled workflow", "error", err)

		return wf, err
	}

	logger.Info("Submitted scheduled workflow", "workflow_id", wf.ID)

	return wf, nil
}

// Start runs the schedule in the background. Submissions use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.logger.Info("Starting scheduler", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops the schedule and waits for running submissions until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler")

	done := s.cron.Stop()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ctx
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
