package remoteapp

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("remoteapp: execution not found")

	// ErrAlreadyExists is returned when a record with the same ID is added twice.
	ErrAlreadyExists = errors.New("remoteapp: execution already exists")
)

// Repository is the identity map over outbound executions.
//
// GetByComposite first matches on (workflow, export task, study, series);
// when no row matches and a series was given, it retries without the series.
type Repository interface {
	Add(ctx context.Context, e *Execution) error
	GetBySopInstanceUID(ctx context.Context, sopUID string) (*Execution, error)
	GetByPatientID(ctx context.Context, patientID string) (*Execution, error)
	GetByStudyInstanceUID(ctx context.Context, studyUID string) (*Execution, error)
	GetByComposite(ctx context.Context, workflowInstanceID, exportTaskID, studyUID, seriesUID string) (*Execution, error)
	Remove(ctx context.Context, id uuid.UUID) (*Execution, error)
	List(ctx context.Context, limit, offset int) ([]*Execution, int, error)
}
