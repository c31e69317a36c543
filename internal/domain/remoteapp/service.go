package remoteapp

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service wraps the repository with validation and identity assignment.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record stores a new execution. A zero ID gets one assigned; a zero
// RequestTime is stamped with the current time.
func (s *Service) Record(ctx context.Context, e *Execution) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.RequestTime.IsZero() {
		e.RequestTime = time.Now().UTC()
	}
	return s.repo.Add(ctx, e)
}

func (s *Service) FindBySopInstanceUID(ctx context.Context, sopUID string) (*Execution, error) {
	return s.repo.GetBySopInstanceUID(ctx, sopUID)
}

func (s *Service) FindByPatientID(ctx context.Context, patientID string) (*Execution, error) {
	return s.repo.GetByPatientID(ctx, patientID)
}

func (s *Service) FindByStudyInstanceUID(ctx context.Context, studyUID string) (*Execution, error) {
	return s.repo.GetByStudyInstanceUID(ctx, studyUID)
}

func (s *Service) FindByComposite(ctx context.Context, workflowInstanceID, exportTaskID, studyUID, seriesUID string) (*Execution, error) {
	return s.repo.GetByComposite(ctx, workflowInstanceID, exportTaskID, studyUID, seriesUID)
}

// Consume removes the execution from the map and returns it. Records are
// single use; once results are matched the entry is gone.
func (s *Service) Consume(ctx context.Context, id uuid.UUID) (*Execution, error) {
	return s.repo.Remove(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Execution, int, error) {
	return s.repo.List(ctx, limit, offset)
}
