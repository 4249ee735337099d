// Package events defines the messages exchanged between the engine and its workers.
package events

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/dukex/dagflow/pkg/models"
)

type EventType string

// Topic is the default topic carrying step deliveries.
const Topic = "dagflow.steps"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	StepAvailableEvent EventType = "step.available"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID int64          `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StepAvailable announces a PENDING step ready to run. It carries the stored
// job payload, so a worker does not need to read it back from the store.
type StepAvailable struct {
	BaseEvent

	TaskID  int64           `json:"task_id"`
	StepID  int64           `json:"step_id"`
	Order   int             `json:"order"`
	Class   string          `json:"class"`
	Payload json.RawMessage `json:"payload"`
}

func (e StepAvailable) GetType() EventType {
	return StepAvailableEvent
}

// Key is the partitioning key of the event: steps of one workflow stay ordered
// on transports that partition by key.
func (e StepAvailable) Key() string {
	return "workflow-" + strconv.FormatInt(e.WorkflowID, 10)
}

// Ref returns the identity the step's job is bound to.
func (e StepAvailable) Ref() models.StepRef {
	return models.StepRef{
		WorkflowID: e.WorkflowID,
		TaskID:     e.TaskID,
		StepID:     e.StepID,
		Order:      e.Order,
	}
}

// NewStepAvailable builds the delivery of a stored step.
func NewStepAvailable(id string, step *models.Step, now time.Time) StepAvailable {
	return StepAvailable{
		BaseEvent: BaseEvent{
			ID:         id,
			Type:       StepAvailableEvent,
			Timestamp:  now,
			WorkflowID: step.WorkflowID,
		},
		TaskID:  step.TaskID,
		StepID:  step.ID,
		Order:   step.Order,
		Class:   step.Class,
		Payload: json.RawMessage(step.Payload),
	}
}
