// Package payload groups received data units under a correlation key and
// hands completed groups to the workflow notifier.
package payload

import (
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/internal/platform/storage"
)

// State of a payload.
type State string

const (
	// StateCreated: still collecting files.
	StateCreated State = "created"
	// StateFinalizing: claimed for persistence and notification.
	StateFinalizing State = "finalizing"
	// StateNotified: persisted and announced to the workflow broker.
	StateNotified State = "notified"
)

// Payload is one group of files sharing a correlation key. Files appear in
// arrival order. The elapsed clock restarts on every Add, so a payload times
// out only after a quiet period, not a fixed lifetime.
type Payload struct {
	ID            uuid.UUID      `json:"id"`
	Key           string         `json:"key"`
	CorrelationID string         `json:"correlation_id"`
	State         State          `json:"state"`
	Timeout       time.Duration  `json:"timeout"`
	Files         []storage.File `json:"files"`
	RetryCount    int            `json:"retry_count"`
	CreatedAt     time.Time      `json:"created_at"`
	LastReceived  time.Time      `json:"last_received"`
}

func New(key, correlationID string, timeout time.Duration) *Payload {
	now := time.Now().UTC()
	return &Payload{
		ID:            uuid.New(),
		Key:           key,
		CorrelationID: correlationID,
		State:         StateCreated,
		Timeout:       timeout,
		CreatedAt:     now,
		LastReceived:  now,
	}
}

// Add appends a file and restarts the elapsed clock.
func (p *Payload) Add(f storage.File) {
	p.Files = append(p.Files, f)
	p.LastReceived = time.Now().UTC()
}

// HasTimedOut reports whether the quiet period since the last Add has
// reached the payload's timeout.
func (p *Payload) HasTimedOut(now time.Time) bool {
	return now.Sub(p.LastReceived) >= p.Timeout
}

// WorkflowInstanceID returns the workflow that owns this payload, taken from
// the first file stamped with one. Empty when no upstream workflow is known.
func (p *Payload) WorkflowInstanceID() string {
	for _, f := range p.Files {
		if f.WorkflowInstanceID != "" {
			return f.WorkflowInstanceID
		}
	}
	return ""
}

// TaskID returns the export task that owns this payload, if any.
func (p *Payload) TaskID() string {
	for _, f := range p.Files {
		if f.TaskID != "" {
			return f.TaskID
		}
	}
	return ""
}
