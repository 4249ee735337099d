package protocol

import "context"

// Item is one element produced by a fan-out expansion. It becomes a task
// named "<fan-out>:<Key>" running Jobs in order.
type Item struct {
	Key  string
	Jobs []Job
}

// Expander enumerates the items of a fan-out task at run time.
type Expander interface {
	ID() string
	Expand(ctx context.Context, args map[string]any) ([]Item, error)
}
