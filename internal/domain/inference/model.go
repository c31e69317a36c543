// Package inference tracks long-running requests handed to an external
// inference engine. Requests move through a small state machine and are
// retried a bounded number of times before they are declared failed.
package inference

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State of an inference request.
type State string

const (
	StatePending    State = "Pending"
	StateInProgress State = "InProgress"
	StateSuccess    State = "Success"
	StateFailed     State = "Failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Resource names one input the inference engine should read. Interface is
// the retrieval protocol ("DICOMweb", "FHIR"); URI points at the data.
type Resource struct {
	Interface string `json:"interface" bson:"interface"`
	URI       string `json:"uri" bson:"uri"`
}

// Request is one outstanding inference request.
type Request struct {
	ID             uuid.UUID  `json:"id"`
	TransactionID  string     `json:"transaction_id"`
	State          State      `json:"state"`
	TryCount       int        `json:"try_count"`
	LastError      string     `json:"last_error,omitempty"`
	PayloadID      uuid.UUID  `json:"payload_id,omitempty"`
	InputResources []Resource `json:"input_resources,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (r *Request) Validate() error {
	if r.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	return nil
}

// StateError reports a transition attempted against a request whose current
// state forbids it.
type StateError struct {
	TransactionID string
	From          State
	To            State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("inference: request %s cannot move from %s to %s",
		e.TransactionID, e.From, e.To)
}
