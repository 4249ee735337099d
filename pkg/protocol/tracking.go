package protocol

import "github.com/dukex/dagflow/pkg/models"

// Tracking implements the identity half of Trackable. Embed it in a job
// struct; the bound step is never serialized with the job.
type Tracking struct {
	ref models.StepRef
}

func (t *Tracking) WorkflowID() int64 { return t.ref.WorkflowID }
func (t *Tracking) TaskID() int64     { return t.ref.TaskID }
func (t *Tracking) StepID() int64     { return t.ref.StepID }

// Step returns the bound step identity.
func (t *Tracking) Step() models.StepRef { return t.ref }

func (t *Tracking) Bind(ref models.StepRef) {
	t.ref = ref
}

// Middleware registers the tracker as the only interceptor.
func (t *Tracking) Middleware(tracker Middleware) []Middleware {
	return []Middleware{tracker}
}
