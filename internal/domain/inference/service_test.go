package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/retry"
)

type memRepo struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func newMemRepo() *memRepo {
	return &memRepo{requests: make(map[string]*Request)}
}

func (m *memRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.TransactionID]; ok {
		return ErrAlreadyExists
	}
	cp := *r
	m.requests[r.TransactionID] = &cp
	return nil
}

func (m *memRepo) GetByTransactionID(_ context.Context, transactionID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) Update(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.TransactionID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.requests[r.TransactionID] = &cp
	return nil
}

func (m *memRepo) TakeNextPending(_ context.Context) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*Request
	for _, r := range m.requests {
		if r.State == StatePending {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	claimed := pending[0]
	claimed.State = StateInProgress
	cp := *claimed
	return &cp, nil
}

func (m *memRepo) List(_ context.Context, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*Request, 0, len(m.requests))
	for _, r := range m.requests {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func testTracker(repo Repository, maxRetries int) *Tracker {
	policy := retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
	return NewTracker(repo, policy, maxRetries, zerolog.Nop())
}

func TestTracker_Add(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	ctx := context.Background()

	req := &Request{TransactionID: "txn-1"}
	if err := tracker.Add(ctx, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.State != StatePending {
		t.Errorf("expected state Pending, got %s", req.State)
	}
	if req.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("expected an assigned ID")
	}
}

func TestTracker_Add_Duplicate(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	ctx := context.Background()

	if err := tracker.Add(ctx, &Request{TransactionID: "txn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := tracker.Add(ctx, &Request{TransactionID: "txn-1"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestTracker_Add_RequiresTransactionID(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	if err := tracker.Add(context.Background(), &Request{}); err == nil {
		t.Error("expected validation error")
	}
}

func TestTracker_Take_ClaimsOldestPending(t *testing.T) {
	repo := newMemRepo()
	tracker := testTracker(repo, 3)
	ctx := context.Background()

	if err := tracker.Add(ctx, &Request{TransactionID: "txn-old"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := tracker.Add(ctx, &Request{TransactionID: "txn-new"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := tracker.Take(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TransactionID != "txn-old" {
		t.Errorf("expected txn-old first, got %s", got.TransactionID)
	}
	if got.State != StateInProgress {
		t.Errorf("expected state InProgress, got %s", got.State)
	}
}

func TestTracker_Take_BlocksUntilCancelled(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := tracker.Take(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestTracker_Take_PicksUpLateArrival(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(300 * time.Millisecond)
		_ = tracker.Add(context.Background(), &Request{TransactionID: "txn-late"})
	}()

	got, err := tracker.Take(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TransactionID != "txn-late" {
		t.Errorf("expected txn-late, got %s", got.TransactionID)
	}
}

func TestTracker_Update_SuccessAfterRetries(t *testing.T) {
	repo := newMemRepo()
	tracker := testTracker(repo, 3)
	ctx := context.Background()

	if err := tracker.Add(ctx, &Request{TransactionID: "txn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two failed attempts, then success on the third.
	for i := 0; i < 2; i++ {
		if _, err := tracker.Take(ctx); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		got, err := tracker.Update(ctx, "txn-1", StatusFail, fmt.Errorf("engine unavailable"))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		if got.State != StatePending {
			t.Fatalf("attempt %d: expected Pending, got %s", i, got.State)
		}
	}

	if _, err := tracker.Take(ctx); err != nil {
		t.Fatalf("final take: %v", err)
	}
	got, err := tracker.Update(ctx, "txn-1", StatusSuccess, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.State != StateSuccess {
		t.Errorf("expected Success, got %s", got.State)
	}
	if got.TryCount != 2 {
		t.Errorf("expected try count 2, got %d", got.TryCount)
	}
}

func TestTracker_Update_FailsAfterMaxRetries(t *testing.T) {
	repo := newMemRepo()
	tracker := testTracker(repo, 3)
	ctx := context.Background()

	if err := tracker.Add(ctx, &Request{TransactionID: "txn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got *Request
	for i := 0; i < 3; i++ {
		if _, err := tracker.Take(ctx); err != nil {
			t.Fatalf("take %d: %v", i, err)
		}
		var err error
		got, err = tracker.Update(ctx, "txn-1", StatusFail, fmt.Errorf("engine unavailable"))
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	if got.State != StateFailed {
		t.Errorf("expected Failed after 3 failures, got %s", got.State)
	}
	if got.LastError != "engine unavailable" {
		t.Errorf("expected last error recorded, got %q", got.LastError)
	}
}

func TestTracker_Update_TerminalRejected(t *testing.T) {
	repo := newMemRepo()
	tracker := testTracker(repo, 3)
	ctx := context.Background()

	if err := tracker.Add(ctx, &Request{TransactionID: "txn-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tracker.Take(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tracker.Update(ctx, "txn-1", StatusSuccess, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := tracker.Update(ctx, "txn-1", StatusFail, fmt.Errorf("late failure"))
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected *StateError, got %v", err)
	}
	if stateErr.From != StateSuccess {
		t.Errorf("expected From=Success, got %s", stateErr.From)
	}

	// The stored request is untouched.
	stored, err := tracker.Status(ctx, "txn-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.State != StateSuccess {
		t.Errorf("terminal state mutated to %s", stored.State)
	}
}

func TestTracker_Update_UnknownTransaction(t *testing.T) {
	tracker := testTracker(newMemRepo(), 3)
	_, err := tracker.Update(context.Background(), "missing", StatusSuccess, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestState_Terminal(t *testing.T) {
	cases := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StateSuccess, true},
		{StateFailed, true},
	}
	for _, tc := range cases {
		if got := tc.state.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}
