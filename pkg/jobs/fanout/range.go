package fanout

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dukex/dagflow/pkg/protocol"
)

var ErrInvalidRangeArgs = errors.New("range expander requires a non-negative integer count")

// JobBuilder turns a configuration map into a job, usually through the registry.
type JobBuilder interface {
	Build(jobType string, config map[string]any) (protocol.Trackable, error)
}

// RangeExpander generates count items keyed 0..count-1, each running one job
// of the configured type with the item index merged into its config under "item".
//
//	args: {count: 3, job: "log", config: {message: "shard"}}
type RangeExpander struct {
	builder JobBuilder
}

func NewRangeExpander(builder JobBuilder) *RangeExpander {
	return &RangeExpander{builder: builder}
}

func (*RangeExpander) ID() string {
	return "range"
}

func (e *RangeExpander) Expand(_ context.Context, args map[string]any) ([]protocol.Item, error) {
	count, err := intArg(args["count"])
	if err != nil || count < 0 {
		return nil, ErrInvalidRangeArgs
	}

	jobType, _ := args["job"].(string)
	if jobType == "" {
		return nil, fmt.Errorf("range expander requires a job type: %w", ErrInvalidRangeArgs)
	}

	base, _ := args["config"].(map[string]any)

	items := make([]protocol.Item, 0, count)

	for i := range count {
		config := make(map[string]any, len(base)+1)
		for k, v := range base {
			config[k] = v
		}

		config["item"] = i

		job, err := e.builder.Build(jobType, config)
		if err != nil {
			return nil, fmt.Errorf("failed to build job for item %d: %w", i, err)
		}

		items = append(items, protocol.Item{Key: strconv.Itoa(i), Jobs: []protocol.Job{job}})
	}

	return items, nil
}

func intArg(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, ErrInvalidRangeArgs
	}
}
