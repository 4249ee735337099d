// Package registry keeps the job types and fan-out expanders known to a
// process and encodes jobs into self-describing step payloads.
package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"sync"

	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/go-viper/mapstructure/v2"
)

var (
	ErrJobTypeNotRegistered  = errors.New("job type not registered")
	ErrExpanderNotRegistered = errors.New("expander not registered")
)

// JobPluginSymbol is the exported symbol a job plugin must provide, of type protocol.JobFactory.
const JobPluginSymbol = "JobFactory"

type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	jobFactories map[string]protocol.JobFactory
	expanders    map[string]protocol.Expander
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:       log,
		jobFactories: make(map[string]protocol.JobFactory),
		expanders:    make(map[string]protocol.Expander),
	}
}

func (r *Registry) RegisterJob(factory protocol.JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobFactories[factory.ID()] = factory
}

func (r *Registry) RegisterExpander(expander protocol.Expander) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expanders[expander.ID()] = expander
}

// NewJob returns an empty job of the given type.
func (r *Registry) NewJob(jobType string) (protocol.Trackable, error) {
	r.mu.RLock()
	factory, ok := r.jobFactories[jobType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job type '%s': %w", jobType, ErrJobTypeNotRegistered)
	}

	return factory.New(), nil
}

// Build creates a job of the given type from a configuration map, as found in
// workflow files. Keys follow the job's json tags.
func (r *Registry) Build(jobType string, config map[string]any) (protocol.Trackable, error) {
	job, err := r.NewJob(jobType)
	if err != nil {
		return nil, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           job,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create config decoder: %w", err)
	}

	err = decoder.Decode(config)
	if err != nil {
		return nil, fmt.Errorf("invalid config for job type '%s': %w", jobType, err)
	}

	if validator, ok := job.(protocol.Validator); ok {
		err = validator.Validate()
		if err != nil {
			return nil, fmt.Errorf("invalid config for job type '%s': %w", jobType, err)
		}
	}

	return job, nil
}

// Expander implements fanout.Expanders.
func (r *Registry) Expander(id string) (protocol.Expander, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	expander, ok := r.expanders[id]
	if !ok {
		return nil, fmt.Errorf("expander '%s': %w", id, ErrExpanderNotRegistered)
	}

	return expander, nil
}

// JobTypes returns the registered job types, sorted.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.jobFactories))
	for jobType := range r.jobFactories {
		types = append(types, jobType)
	}

	sort.Strings(types)

	return types
}

// LoadJobPlugins opens every "*.so" file under <pluginsPath>/jobs and returns
// the job factories they export. A missing directory yields no plugins.
func (r *Registry) LoadJobPlugins(pluginsPath string) ([]protocol.JobFactory, error) {
	return loadPlugin[protocol.JobFactory](r.logger, filepath.Join(pluginsPath, "jobs"), JobPluginSymbol)
}

func loadPlugin[T any](logger *slog.Logger, rootPath string, symbolName string) ([]T, error) {
	_, err := os.Stat(rootPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("symbol", symbolName))
	l.Info("Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("failed to lookup %s in plugin %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has type %T", p, symbolName, v)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
