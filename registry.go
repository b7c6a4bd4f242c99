package iotsdk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownOperation is returned by resolve for an identifier that is
	// not (or no longer) registered. Confirmations hitting this are late
	// arrivals after a timeout and are discarded, not failed.
	ErrUnknownOperation = errors.New("unknown operation identifier")
	// ErrAlreadyResolved is returned for a second resolution of the same
	// entry. That is a programming error in the runtime binding, never an
	// expected condition.
	ErrAlreadyResolved = errors.New("operation already resolved")
)

// pendingOperation is one in-flight outbound operation awaiting its
// confirmation. The done channel is 1-buffered and written at most once;
// resolved is guarded by the registry mutex.
type pendingOperation struct {
	id        string
	createdAt time.Time
	resolved  bool
	done      chan Outcome
}

// operationRegistry tracks in-flight operations. One producer (the do-work
// driver via the relay) resolves entries; arbitrarily many consumer tasks
// await them. Resolution of one entry never blocks another.
type operationRegistry struct {
	mu  sync.Mutex
	ops map[string]*pendingOperation

	logger    Logger
	clock     Clock
	discarded atomic.Uint64
}

func newOperationRegistry(logger Logger, clock Clock) *operationRegistry {
	return &operationRegistry{
		ops:    make(map[string]*pendingOperation),
		logger: logger,
		clock:  clock,
	}
}

// register creates an entry and returns it. The entry must be registered
// before the native call is issued so a confirmation arriving before the
// call returns locally still finds it.
func (r *operationRegistry) register() *pendingOperation {
	op := &pendingOperation{
		id:        uuid.New().String(),
		createdAt: r.clock.Now(),
		done:      make(chan Outcome, 1),
	}
	r.mu.Lock()
	r.ops[op.id] = op
	r.mu.Unlock()
	return op
}

// resolve delivers the outcome for an entry exactly once. Lookup, flag and
// delivery happen under one lock so a timeout removing the entry and a
// confirmation for it cannot interleave: the loser deterministically sees
// the discard path. The buffered send never blocks, so holding the lock
// across it is safe from the driver thread.
func (r *operationRegistry) resolve(id string, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		r.discarded.Add(1)
		return ErrUnknownOperation
	}
	if op.resolved {
		return ErrAlreadyResolved
	}
	op.resolved = true
	op.done <- outcome
	return nil
}

// await suspends the caller until the entry resolves or the timeout
// elapses. On timeout the entry is dropped so a late confirmation is
// discarded upstream. Context cancellation abandons the wait; the entry
// stays registered until its natural deadline because the native side
// cannot be cancelled, only ignored.
func (r *operationRegistry) await(ctx context.Context, op *pendingOperation, timeout time.Duration) (Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-op.done:
		r.remove(op.id)
		return outcome, nil
	case <-timer.C:
		r.mu.Lock()
		resolved := op.resolved
		delete(r.ops, op.id)
		r.mu.Unlock()
		if resolved {
			// The confirmation landed as the timer fired; it won the
			// race under the lock, so take it.
			return <-op.done, nil
		}
		r.logger.Warn("no confirmation within bound, operation presumed lost",
			"operation_id", op.id, "timeout", timeout.String())
		return Outcome{Status: OutcomeTimedOut}, nil
	case <-ctx.Done():
		remaining := timeout - r.clock.Now().Sub(op.createdAt)
		if remaining < 0 {
			remaining = 0
		}
		time.AfterFunc(remaining, func() { r.remove(op.id) })
		return Outcome{}, ctx.Err()
	}
}

// abort drops an entry whose native call failed synchronously. No outcome
// is delivered; the caller already has the error.
func (r *operationRegistry) abort(id string) {
	r.remove(id)
}

// resolveAll delivers the given outcome to every entry still pending and
// empties the registry. Used on shutdown and driver-fatal so no waiter
// leaks.
func (r *operationRegistry) resolveAll(outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, op := range r.ops {
		delete(r.ops, id)
		if !op.resolved {
			op.resolved = true
			op.done <- outcome
		}
	}
}

func (r *operationRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.ops, id)
	r.mu.Unlock()
}

// pending returns the number of in-flight entries.
func (r *operationRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// discardCount returns how many confirmations arrived for identifiers no
// longer registered.
func (r *operationRegistry) discardCount() uint64 {
	return r.discarded.Load()
}
