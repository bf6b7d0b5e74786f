package peer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// MaxConcurrentInteractions is the bounded-concurrency limit for an
// InteractionQueue: at most four interactions admitted at once.
const MaxConcurrentInteractions = 4

// AdmissionDelay is the minimum spacing between successive admissions from
// the same queue, to avoid burstiness against resource-constrained
// endpoints.
const AdmissionDelay = 100 * time.Millisecond

// InteractionQueue is a bounded FIFO for outgoing interaction requests. It
// admits up to MaxConcurrentInteractions concurrently and spaces successive
// admissions by at least AdmissionDelay. Close is graceful: in-flight
// entries complete, no new admissions are accepted. No priority; strict
// arrival order, mirroring the RetransmitTable's timer-driven bookkeeping
// in pkg/exchange/retransmit.go but for admission pacing instead of resend
// timing.
type InteractionQueue struct {
	clock clock.Clock
	sem   chan struct{} // capacity MaxConcurrentInteractions
	log   logging.LeveledLogger

	mu           sync.Mutex
	lastAdmitted time.Time
	closed       bool
}

// QueueConfig configures an InteractionQueue.
type QueueConfig struct {
	// Clock is the injectable time source for admission pacing. If nil, the
	// real wall clock is used; tests inject clock.NewMock() to avoid
	// sleeping.
	Clock clock.Clock

	// LoggerFactory creates the queue's logger. If nil, admissions are not
	// logged.
	LoggerFactory logging.LoggerFactory
}

// NewInteractionQueue creates a queue per config.
func NewInteractionQueue(config QueueConfig) *InteractionQueue {
	c := config.Clock
	if c == nil {
		c = clock.New()
	}
	q := &InteractionQueue{
		clock: c,
		sem:   make(chan struct{}, MaxConcurrentInteractions),
	}
	if config.LoggerFactory != nil {
		q.log = config.LoggerFactory.NewLogger("peer-queue")
	}
	for i := 0; i < MaxConcurrentInteractions; i++ {
		q.sem <- struct{}{}
	}
	return q
}

// Admit blocks until a concurrency slot is free and the inter-admission
// delay has elapsed, then returns a release function that the caller MUST
// call exactly once when the interaction completes. Returns ErrClosed
// immediately (without consuming a slot) if the queue has been closed.
func (q *InteractionQueue) Admit(ctx context.Context) (release func(), err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.mu.Unlock()

	select {
	case <-q.sem:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := q.waitForSpacing(ctx); err != nil {
		q.sem <- struct{}{}
		return nil, err
	}

	ticket := uuid.New().String()
	if q.log != nil {
		q.log.Tracef("interaction queue ticket %s admitted", ticket)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if q.log != nil {
				q.log.Tracef("interaction queue ticket %s released", ticket)
			}
			q.sem <- struct{}{}
		})
	}, nil
}

func (q *InteractionQueue) waitForSpacing(ctx context.Context) error {
	q.mu.Lock()
	now := q.clock.Now()
	var wait time.Duration
	if !q.lastAdmitted.IsZero() {
		wait = AdmissionDelay - now.Sub(q.lastAdmitted)
		if wait < 0 {
			wait = 0
		}
	}
	q.lastAdmitted = now.Add(wait)
	q.mu.Unlock()

	if wait == 0 {
		return nil
	}

	timer := q.clock.Timer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new admissions. In-flight entries (those that
// already passed Admit) complete normally; their release funcs still work.
func (q *InteractionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
