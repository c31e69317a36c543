package routing

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("routing: not found")

type ConfigRepository interface {
	Create(ctx context.Context, c *HL7Config) error
	GetByID(ctx context.Context, id uuid.UUID) (*HL7Config, error)
	GetAll(ctx context.Context) ([]*HL7Config, error)
	List(ctx context.Context, limit, offset int) ([]*HL7Config, int, error)
	Update(ctx context.Context, c *HL7Config) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type SourceRepository interface {
	Create(ctx context.Context, a *SourceApplication) error
	GetByAETitle(ctx context.Context, aeTitle string) (*SourceApplication, error)
	List(ctx context.Context, limit, offset int) ([]*SourceApplication, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type DestinationRepository interface {
	Create(ctx context.Context, a *DestinationApplication) error
	GetByAETitle(ctx context.Context, aeTitle string) (*DestinationApplication, error)
	List(ctx context.Context, limit, offset int) ([]*DestinationApplication, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
