// Package manifest loads workflow definitions from YAML, JSON and HCL files.
package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/dagflow/pkg/definition"
	"github.com/dukex/dagflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported manifest format")
	ErrInvalidManifest   = errors.New("invalid manifest")
)

//go:embed schema.json
var schemaJSON []byte

type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FormatOf infers the format of a manifest file from its extension. JSON
// documents are read as YAML.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Document is the declarative form of a workflow, before jobs are built.
type Document struct {
	Name  string  `json:"name"  yaml:"name"`
	Tasks []Entry `json:"tasks" yaml:"tasks"`
}

// Entry is exactly one of a task, a group or a fan-out.
type Entry struct {
	Name      string   `json:"name,omitempty"       yaml:"name,omitempty"`
	Jobs      []Job    `json:"jobs,omitempty"       yaml:"jobs,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Group     *Group   `json:"group,omitempty"      yaml:"group,omitempty"`
	FanOut    *FanOut  `json:"fan_out,omitempty"    yaml:"fan_out,omitempty"`
}

type Job struct {
	Type   string         `json:"type"             yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

type Group struct {
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Tasks     []Entry  `json:"tasks"                yaml:"tasks"`
}

type FanOut struct {
	Name      string         `json:"name"                 yaml:"name"`
	Expander  string         `json:"expander"             yaml:"expander"`
	Args      map[string]any `json:"args,omitempty"       yaml:"args,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// JobBuilder turns a job type and its configuration into a job.
type JobBuilder interface {
	Build(jobType string, config map[string]any) (protocol.Trackable, error)
}

// Loader reads manifests and builds their jobs.
type Loader struct {
	builder JobBuilder
	schema  *gojsonschema.Schema
}

func NewLoader(builder JobBuilder) (*Loader, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	return &Loader{builder: builder, schema: schema}, nil
}

// LoadFile reads the manifest at path.
func (l *Loader) LoadFile(path string) (definition.Workflow, error) {
	format, err := FormatOf(path)
	if err != nil {
		return definition.Workflow{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return definition.Workflow{}, fmt.Errorf("failed to read manifest: %w", err)
	}

	return l.Load(data, format, path)
}

// Load decodes a manifest, checks it against the manifest schema and builds
// its jobs. filename is only used in error messages.
func (l *Loader) Load(data []byte, format Format, filename string) (definition.Workflow, error) {
	doc, err := l.Decode(data, format, filename)
	if err != nil {
		return definition.Workflow{}, err
	}

	return l.Build(doc)
}

// Decode decodes and checks a manifest without building its jobs.
func (l *Loader) Decode(data []byte, format Format, filename string) (*Document, error) {
	var (
		doc *Document
		raw any
		err error
	)

	switch format {
	case FormatYAML:
		doc, raw, err = decodeYAML(data)
	case FormatHCL:
		doc, err = decodeHCL(data, filename)
		if err == nil {
			raw, err = toGeneric(doc)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if err != nil {
		return nil, err
	}

	err = l.validate(raw)
	if err != nil {
		return nil, err
	}

	return doc, nil
}

func (l *Loader) validate(raw any) error {
	result, err := l.schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(errs, "; "))
	}

	return nil
}

// Build creates the jobs of doc and returns the workflow definition.
func (l *Loader) Build(doc *Document) (definition.Workflow, error) {
	entries, err := l.buildEntries(doc.Tasks)
	if err != nil {
		return definition.Workflow{}, err
	}

	return definition.Workflow{Name: doc.Name, Tasks: entries}, nil
}

func (l *Loader) buildEntries(docs []Entry) ([]definition.Entry, error) {
	entries := make([]definition.Entry, 0, len(docs))

	for _, doc := range docs {
		switch {
		case doc.Group != nil:
			tasks, err := l.buildEntries(doc.Group.Tasks)
			if err != nil {
				return nil, err
			}

			entries = append(entries, &definition.TaskGroup{Tasks: tasks, DependsOn: doc.Group.DependsOn})
		case doc.FanOut != nil:
			entries = append(entries, &definition.FanOut{
				Name:      doc.FanOut.Name,
				Expander:  doc.FanOut.Expander,
				Args:      doc.FanOut.Args,
				DependsOn: doc.FanOut.DependsOn,
			})
		default:
			jobs := make([]protocol.Job, 0, len(doc.Jobs))

			for i, job := range doc.Jobs {
				built, err := l.builder.Build(job.Type, job.Config)
				if err != nil {
					return nil, fmt.Errorf("task %q job %d: %w", doc.Name, i+1, err)
				}

				jobs = append(jobs, built)
			}

			entries = append(entries, &definition.Task{Name: doc.Name, Jobs: jobs, DependsOn: doc.DependsOn})
		}
	}

	return entries, nil
}

// toGeneric converts doc into the plain maps and slices the schema validates.
func toGeneric(doc *Document) (any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	var raw any

	err = json.Unmarshal(data, &raw)
	if err != nil {
		return nil, err
	}

	return raw, nil
}
