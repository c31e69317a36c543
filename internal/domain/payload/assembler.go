package payload

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/medgate/medgate/internal/platform/notify"
	"github.com/medgate/medgate/internal/platform/retry"
	"github.com/medgate/medgate/internal/platform/storage"
)

const sweepInterval = time.Second

// Config tunes the assembler.
type Config struct {
	// Timeout is the default quiet period before a bucket finalizes.
	Timeout time.Duration
	// MaxFiles finalizes a bucket as soon as it holds this many files.
	// Zero disables the count trigger.
	MaxFiles int
	// MaxRetries bounds finalize attempts before a payload is dropped.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

// bucket wraps an open payload. The claimed flag is the finalize-once
// guard: whichever trigger wins the CAS owns the payload from then on.
type bucket struct {
	mu      sync.Mutex
	payload *Payload
	claimed atomic.Bool
}

func (b *bucket) tryClaim() bool {
	return b.claimed.CompareAndSwap(false, true)
}

// pending is a claimed payload on its way out. persisted survives requeues
// so a payload is never inserted twice.
type pending struct {
	payload   *Payload
	persisted bool
}

// Assembler groups incoming files into payloads by correlation key. A
// bucket finalizes when its quiet period elapses or its file count reaches
// the configured threshold, whichever comes first.
type Assembler struct {
	cfg      Config
	repo     Repository
	notifier notify.Notifier
	policy   retry.Policy
	logger   zerolog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
	retries []*pending

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewAssembler(cfg Config, repo Repository, notifier notify.Notifier, policy retry.Policy, logger zerolog.Logger) *Assembler {
	return &Assembler{
		cfg:      cfg.withDefaults(),
		repo:     repo,
		notifier: notifier,
		policy:   policy,
		logger:   logger.With().Str("component", "payload-assembler").Logger(),
		buckets:  make(map[string]*bucket),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep.
func (a *Assembler) Start() {
	a.wg.Add(1)
	go a.sweepLoop()
}

// Stop ends the sweep and finalizes everything still open.
func (a *Assembler) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
	a.wg.Wait()
	a.flush()
}

// Queue adds a file to the bucket for key, creating the bucket on first
// use. A non-positive timeout takes the configured default. Files for the
// same key land in arrival order; distinct keys never contend.
func (a *Assembler) Queue(ctx context.Context, key string, f storage.File, timeout time.Duration) {
	if timeout <= 0 {
		timeout = a.cfg.Timeout
	}

	for {
		b := a.bucketFor(key, f.CorrelationID, timeout)

		b.mu.Lock()
		if b.claimed.Load() {
			// Lost the race against a finalizer; the bucket is already
			// out of the map, so the next lookup creates a fresh one.
			b.mu.Unlock()
			continue
		}
		b.payload.Add(f)
		count := len(b.payload.Files)
		// Claim under the bucket lock so no other session can append
		// once finalization owns the file list.
		full := a.cfg.MaxFiles > 0 && count >= a.cfg.MaxFiles && b.tryClaim()
		b.mu.Unlock()

		a.logger.Debug().
			Str("key", key).
			Str("file", f.RelativePath).
			Int("count", count).
			Msg("file queued")

		if full {
			a.remove(key, b)
			a.finalize(ctx, &pending{payload: b.payload})
		}
		return
	}
}

// OpenBuckets reports how many buckets are still collecting files.
func (a *Assembler) OpenBuckets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

func (a *Assembler) bucketFor(key, correlationID string, timeout time.Duration) *bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buckets[key]; ok && !b.claimed.Load() {
		return b
	}
	b := &bucket{payload: New(key, correlationID, timeout)}
	a.buckets[key] = b
	return b
}

// remove drops the bucket from the index, but only if the entry still is
// this bucket; a fresh bucket may already have taken the key.
func (a *Assembler) remove(key string, b *bucket) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.buckets[key]; ok && cur == b {
		delete(a.buckets, key)
	}
}

func (a *Assembler) sweepLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.sweep(time.Now().UTC())
		}
	}
}

func (a *Assembler) sweep(now time.Time) {
	a.mu.Lock()
	type claimable struct {
		key string
		b   *bucket
	}
	var expired []claimable
	for key, b := range a.buckets {
		expired = append(expired, claimable{key, b})
	}
	redo := a.retries
	a.retries = nil
	a.mu.Unlock()

	for _, c := range expired {
		c.b.mu.Lock()
		timedOut := c.b.payload.HasTimedOut(now) && c.b.tryClaim()
		c.b.mu.Unlock()
		if timedOut {
			a.remove(c.key, c.b)
			a.wg.Add(1)
			go func(p *Payload) {
				defer a.wg.Done()
				a.finalize(context.Background(), &pending{payload: p})
			}(c.b.payload)
		}
	}

	for _, pen := range redo {
		a.wg.Add(1)
		go func(pen *pending) {
			defer a.wg.Done()
			a.finalize(context.Background(), pen)
		}(pen)
	}
}

// flush finalizes every remaining bucket and queued retry synchronously.
// Called once during shutdown, after the sweep loop has exited.
func (a *Assembler) flush() {
	a.mu.Lock()
	remaining := a.buckets
	a.buckets = make(map[string]*bucket)
	redo := a.retries
	a.retries = nil
	a.mu.Unlock()

	for _, b := range remaining {
		b.mu.Lock()
		claimed := b.tryClaim()
		b.mu.Unlock()
		if claimed {
			a.finalize(context.Background(), &pending{payload: b.payload})
		}
	}
	for _, pen := range redo {
		a.finalize(context.Background(), pen)
	}
}

// finalize persists the payload, announces it, and marks it notified. On
// failure the payload is requeued until its retry budget is spent.
func (a *Assembler) finalize(ctx context.Context, pen *pending) {
	p := pen.payload
	p.State = StateFinalizing

	if !pen.persisted {
		err := a.policy.Do(ctx, a.logger, "persist payload", func() error {
			return a.repo.Create(ctx, p)
		})
		if err != nil {
			a.requeue(pen, err)
			return
		}
		pen.persisted = true
	}

	ev := notify.WorkflowRequestEvent{
		PayloadID:          p.ID,
		Bucket:             p.Key,
		CorrelationID:      p.CorrelationID,
		Timestamp:          time.Now().UTC(),
		FileCount:          len(p.Files),
		Files:              p.Files,
		WorkflowInstanceID: p.WorkflowInstanceID(),
		TaskID:             p.TaskID(),
	}
	err := a.policy.Do(ctx, a.logger, "notify workflow", func() error {
		return a.notifier.NotifyWorkflowRequest(ctx, ev)
	})
	if err != nil {
		a.requeue(pen, err)
		return
	}

	p.State = StateNotified
	err = a.policy.Do(ctx, a.logger, "mark payload notified", func() error {
		return a.repo.Update(ctx, p)
	})
	if err != nil {
		// The event is out; losing the state update is not worth
		// another notification.
		a.logger.Error().Err(err).
			Str("payload_id", p.ID.String()).
			Msg("payload notified but state update failed")
		return
	}

	a.logger.Info().
		Str("payload_id", p.ID.String()).
		Str("key", p.Key).
		Int("file_count", len(p.Files)).
		Msg("payload ready")
}

func (a *Assembler) requeue(pen *pending, cause error) {
	p := pen.payload
	p.RetryCount++
	if p.RetryCount >= a.cfg.MaxRetries {
		a.logger.Error().Err(cause).
			Str("payload_id", p.ID.String()).
			Str("key", p.Key).
			Int("retry_count", p.RetryCount).
			Int("file_count", len(p.Files)).
			Msg("dropping payload, retries exhausted")
		return
	}
	a.logger.Warn().Err(cause).
		Str("payload_id", p.ID.String()).
		Int("retry_count", p.RetryCount).
		Msg("payload finalize failed, requeued")
	a.mu.Lock()
	a.retries = append(a.retries, pen)
	a.mu.Unlock()
}
