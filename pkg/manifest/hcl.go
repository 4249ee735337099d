package manifest

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

var errValueUnknown = errors.New("value is not known")

var entryBlocks = []hcl.BlockHeaderSchema{
	{Type: "task", LabelNames: []string{"name"}},
	{Type: "group"},
	{Type: "fan_out", LabelNames: []string{"name"}},
}

var fileSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "name", Required: true},
	},
	Blocks: entryBlocks,
}

var groupSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "depends_on"},
	},
	Blocks: entryBlocks,
}

type taskBlock struct {
	DependsOn []string   `hcl:"depends_on,optional"`
	Jobs      []jobBlock `hcl:"job,block"`
}

type jobBlock struct {
	Type   string    `hcl:"type,label"`
	Config cty.Value `hcl:"config,optional"`
}

type fanOutBlock struct {
	Expander  string    `hcl:"expander"`
	Args      cty.Value `hcl:"args,optional"`
	DependsOn []string  `hcl:"depends_on,optional"`
}

// decodeHCL reads a manifest written as:
//
//	name = "release"
//
//	task "build" {
//	  job "log" {
//	    config = { message = "building" }
//	  }
//	}
//
//	group {
//	  depends_on = ["build"]
//	  task "test" { ... }
//	}
//
//	fan_out "shards" {
//	  expander = "range"
//	  args     = { count = 3, job = "log" }
//	}
//
// Entries keep their order in the file.
func decodeHCL(data []byte, filename string) (*Document, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, diags)
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, diags)
	}

	var doc Document

	diags = gohcl.DecodeExpression(content.Attributes["name"].Expr, nil, &doc.Name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, diags)
	}

	entries, diags := decodeEntries(content.Blocks)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, diags)
	}

	doc.Tasks = entries

	return &doc, nil
}

func decodeEntries(blocks hcl.Blocks) ([]Entry, hcl.Diagnostics) {
	var diags hcl.Diagnostics

	entries := make([]Entry, 0, len(blocks))

	for _, block := range blocks {
		entry, entryDiags := decodeEntry(block)
		diags = append(diags, entryDiags...)

		if !entryDiags.HasErrors() {
			entries = append(entries, entry)
		}
	}

	return entries, diags
}

func decodeEntry(block *hcl.Block) (Entry, hcl.Diagnostics) {
	switch block.Type {
	case "task":
		var task taskBlock

		diags := gohcl.DecodeBody(block.Body, nil, &task)
		if diags.HasErrors() {
			return Entry{}, diags
		}

		entry := Entry{Name: block.Labels[0], DependsOn: task.DependsOn}

		for _, job := range task.Jobs {
			config, err := ctyToMap(job.Config)
			if err != nil {
				return Entry{}, append(diags, valueDiagnostic(block, "config", err))
			}

			entry.Jobs = append(entry.Jobs, Job{Type: job.Type, Config: config})
		}

		return entry, diags
	case "group":
		content, diags := block.Body.Content(groupSchema)
		if diags.HasErrors() {
			return Entry{}, diags
		}

		group := &Group{}

		if attr, ok := content.Attributes["depends_on"]; ok {
			diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &group.DependsOn)...)
		}

		tasks, tasksDiags := decodeEntries(content.Blocks)
		diags = append(diags, tasksDiags...)
		group.Tasks = tasks

		return Entry{Group: group}, diags
	default:
		var fanOut fanOutBlock

		diags := gohcl.DecodeBody(block.Body, nil, &fanOut)
		if diags.HasErrors() {
			return Entry{}, diags
		}

		args, err := ctyToMap(fanOut.Args)
		if err != nil {
			return Entry{}, append(diags, valueDiagnostic(block, "args", err))
		}

		return Entry{FanOut: &FanOut{
			Name:      block.Labels[0],
			Expander:  fanOut.Expander,
			Args:      args,
			DependsOn: fanOut.DependsOn,
		}}, diags
	}
}

// ctyToMap converts an object value into plain Go values through its JSON form.
func ctyToMap(value cty.Value) (map[string]any, error) {
	if value.IsNull() {
		return nil, nil
	}

	if !value.IsWhollyKnown() {
		return nil, errValueUnknown
	}

	data, err := ctyjson.Marshal(value, value.Type())
	if err != nil {
		return nil, err
	}

	var out map[string]any

	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, fmt.Errorf("expected an object: %w", err)
	}

	return out, nil
}

func valueDiagnostic(block *hcl.Block, attribute string, err error) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Invalid %s", attribute),
		Detail:   fmt.Sprintf("The %s of %s %q could not be read: %s.", attribute, block.Type, labelOf(block), err),
		Subject:  &block.DefRange,
	}
}

func labelOf(block *hcl.Block) string {
	if len(block.Labels) == 0 {
		return ""
	}

	return block.Labels[0]
}
