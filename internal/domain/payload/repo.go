package payload

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no payload matches a lookup.
var ErrNotFound = errors.New("payload: not found")

// Repository persists finalized payloads.
type Repository interface {
	Create(ctx context.Context, p *Payload) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payload, error)
	Update(ctx context.Context, p *Payload) error
	List(ctx context.Context, limit, offset int) ([]*Payload, int, error)
}
