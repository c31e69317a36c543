package inference

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no request matches a lookup.
	ErrNotFound = errors.New("inference: request not found")

	// ErrAlreadyExists is returned when a transaction ID is submitted twice.
	ErrAlreadyExists = errors.New("inference: transaction already exists")
)

// Repository persists inference requests. TakeNextPending atomically claims
// the oldest Pending request and marks it InProgress; concurrent callers
// never claim the same request.
type Repository interface {
	Create(ctx context.Context, r *Request) error
	GetByTransactionID(ctx context.Context, transactionID string) (*Request, error)
	Update(ctx context.Context, r *Request) error
	TakeNextPending(ctx context.Context) (*Request, error)
	List(ctx context.Context, limit, offset int) ([]*Request, int, error)
}
