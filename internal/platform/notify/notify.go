// Package notify publishes gateway events for downstream workflow consumers.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medgate/medgate/internal/platform/storage"
)

// WorkflowRequestEvent announces that a payload is complete and ready for
// processing.
type WorkflowRequestEvent struct {
	PayloadID          uuid.UUID      `json:"payload_id"`
	Bucket             string         `json:"bucket"`
	CorrelationID      string         `json:"correlation_id"`
	Timestamp          time.Time      `json:"timestamp"`
	FileCount          int            `json:"file_count"`
	Files              []storage.File `json:"files"`
	WorkflowInstanceID string         `json:"workflow_instance_id,omitempty"`
	TaskID             string         `json:"task_id,omitempty"`
}

// Notifier delivers events to the message broker.
type Notifier interface {
	NotifyWorkflowRequest(ctx context.Context, ev WorkflowRequestEvent) error
	Close()
}
