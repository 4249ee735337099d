package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/dagflow/pkg/protocol"
)

var ErrInvalidPayload = errors.New("invalid job payload")

// envelope is the stored form of a job: its registered type and its JSON body.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a job into a step payload. The job type must be registered
// so the payload can be decoded by any worker.
func (r *Registry) Encode(job protocol.Trackable) ([]byte, error) {
	r.mu.RLock()
	_, ok := r.jobFactories[job.Type()]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("job type '%s': %w", job.Type(), ErrJobTypeNotRegistered)
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job '%s': %w", job.Type(), err)
	}

	payload, err := json.Marshal(envelope{Type: job.Type(), Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job envelope: %w", err)
	}

	return payload, nil
}

// Decode rebuilds a job from a step payload.
func (r *Registry) Decode(payload []byte) (protocol.Trackable, error) {
	var env envelope

	err := json.Unmarshal(payload, &env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidPayload)
	}

	job, err := r.NewJob(env.Type)
	if err != nil {
		return nil, err
	}

	if len(env.Data) > 0 {
		err = json.Unmarshal(env.Data, job)
		if err != nil {
			return nil, fmt.Errorf("%w: job '%s': %w", ErrInvalidPayload, env.Type, err)
		}
	}

	return job, nil
}

// PayloadType returns the job type recorded in a payload without decoding the job.
func PayloadType(payload []byte) (string, error) {
	var env envelope

	err := json.Unmarshal(payload, &env)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return env.Type, nil
}
