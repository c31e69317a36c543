package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/retry"
)

// Status is the outcome of one processing attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusFail
)

const takePollInterval = 250 * time.Millisecond

// Tracker owns the request state machine. Mutations go through the retry
// policy so transient storage failures do not lose state changes.
type Tracker struct {
	repo       Repository
	policy     retry.Policy
	maxRetries int
	logger     zerolog.Logger
}

func NewTracker(repo Repository, policy retry.Policy, maxRetries int, logger zerolog.Logger) *Tracker {
	return &Tracker{
		repo:       repo,
		policy:     policy,
		maxRetries: maxRetries,
		logger:     logger.With().Str("component", "inference-tracker").Logger(),
	}
}

// Add registers a new request in Pending state. A duplicate transaction ID
// is rejected with ErrAlreadyExists.
func (t *Tracker) Add(ctx context.Context, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.State = StatePending
	req.TryCount = 0
	req.CreatedAt = now
	req.UpdatedAt = now

	err := t.policy.Do(ctx, t.logger, "inference create", func() error {
		err := t.repo.Create(ctx, req)
		if errors.Is(err, ErrAlreadyExists) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return err
	}

	t.logger.Info().Str("transaction_id", req.TransactionID).Msg("inference request queued")
	return nil
}

// Status returns the current persisted request for a transaction ID.
func (t *Tracker) Status(ctx context.Context, transactionID string) (*Request, error) {
	return t.repo.GetByTransactionID(ctx, transactionID)
}

// Take blocks until a Pending request can be claimed, marking it InProgress.
// Returns the context error when ctx is cancelled first.
func (t *Tracker) Take(ctx context.Context) (*Request, error) {
	for {
		req, err := t.repo.TakeNextPending(ctx)
		if err == nil {
			t.logger.Info().
				Str("transaction_id", req.TransactionID).
				Int("try_count", req.TryCount).
				Msg("inference request taken")
			return req, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(takePollInterval):
		}
	}
}

// Update records the outcome of a processing attempt. A failed attempt
// increments the try count and requeues the request unless the retry budget
// is spent, in which case the request moves to Failed. Updates against a
// terminal request are rejected with a *StateError.
func (t *Tracker) Update(ctx context.Context, transactionID string, status Status, cause error) (*Request, error) {
	req, err := t.repo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if req.State.Terminal() {
		return nil, &StateError{
			TransactionID: req.TransactionID,
			From:          req.State,
			To:            attemptedState(status),
		}
	}

	switch status {
	case StatusSuccess:
		req.State = StateSuccess
		req.LastError = ""
		t.logger.Info().
			Str("transaction_id", req.TransactionID).
			Int("try_count", req.TryCount).
			Msg("inference request succeeded")
	case StatusFail:
		req.TryCount++
		if cause != nil {
			req.LastError = cause.Error()
		}
		if req.TryCount >= t.maxRetries {
			req.State = StateFailed
			t.logger.Error().
				Str("transaction_id", req.TransactionID).
				Int("try_count", req.TryCount).
				Msg("inference request exceeded maximum retries")
		} else {
			req.State = StatePending
			t.logger.Warn().
				Str("transaction_id", req.TransactionID).
				Int("try_count", req.TryCount).
				Msg("inference request failed, will retry later")
		}
	default:
		return nil, fmt.Errorf("inference: unknown status %d", status)
	}

	req.UpdatedAt = time.Now().UTC()
	err = t.policy.Do(ctx, t.logger, "inference update", func() error {
		err := t.repo.Update(ctx, req)
		if errors.Is(err, ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (t *Tracker) List(ctx context.Context, limit, offset int) ([]*Request, int, error) {
	return t.repo.List(ctx, limit, offset)
}

func attemptedState(status Status) State {
	if status == StatusSuccess {
		return StateSuccess
	}
	return StatePending
}
