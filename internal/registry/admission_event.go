package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// AdmissionEvent is a one-shot latch: a pending task request waits on it
// until the dispatcher has confirmed capacity exists on a platform the
// request can use. It is safe to enqueue the same event onto more than one
// platform's admission queue (the unspecified-requiredPlatform case) —
// Fire is idempotent, so only the first platform to reach it actually
// releases the waiter.
type AdmissionEvent struct {
	id uuid.UUID

	mu    sync.Mutex
	fired bool
	ch    chan struct{}
}

// ID returns the event's diagnostic identifier, useful for correlating log
// lines across the admission, dispatch, and selection phases of one
// taskRequest.
func (e *AdmissionEvent) ID() uuid.UUID { return e.id }

// Fire signals the event. It reports true the first time it is called for
// this event, and false on every subsequent call — callers use this to
// decide whether they were the platform that actually released the
// waiter, versus one that popped an already-discarded stale copy.
func (e *AdmissionEvent) Fire() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fired {
		return false
	}
	e.fired = true
	close(e.ch)
	return true
}

// Fired reports whether the event has already been signaled.
func (e *AdmissionEvent) Fired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// Wait blocks until the event fires or ctx is canceled.
func (e *AdmissionEvent) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
