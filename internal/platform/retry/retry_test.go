package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "write", func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RecoverOnSecondTry(t *testing.T) {
	calls := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "write", func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ExhaustsAttemptsAndSurfacesOriginalError(t *testing.T) {
	original := errors.New("connection refused")
	calls := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "write", func() error {
		calls++
		return original
	})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, original) {
		t.Errorf("expected original error to surface, got %v", err)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	original := errors.New("duplicate key")
	calls := 0
	err := testPolicy().Do(context.Background(), zerolog.Nop(), "write", func() error {
		calls++
		return Permanent(original)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, original) {
		t.Errorf("expected original error to surface, got %v", err)
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testPolicy().Do(ctx, zerolog.Nop(), "write", func() error {
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
