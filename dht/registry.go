package dht

import (
	"context"
	"sync"
)

// Waker is signalled when a transaction the caller previously polled
// transitions from Awaiting to Completed. It must not block.
type Waker func()

type txState int

const (
	txAwaiting txState = iota
	txCompleted
)

type transaction struct {
	state    txState
	envelope *Envelope
	waker    Waker
}

// Registry is the shared map of outstanding correlation ids to their wait
// state. It is safe for concurrent use by senders, pollers, and the
// receive demultiplexer; every state transition holds the registry's lock
// for exactly the duration of that transition.
//
// Go's sync.Mutex has no notion of poisoning the way Rust's
// std::sync::Mutex does, which spec.md's LockPoisoned kind assumes. lock
// recovers from a panic inside the critical section and latches poisoned
// so every subsequent call fails fast instead of silently proceeding with
// a map that may be left half-mutated.
type Registry struct {
	mu       sync.Mutex
	poisoned any
	entries  map[uint32]*transaction
}

// NewRegistry creates an empty transaction registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[uint32]*transaction)}
}

// lock runs fn with the registry's mutex held, converting any panic into a
// latched poisoned state rather than letting it propagate past the
// registry's API boundary.
func (r *Registry) lock(fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned != nil {
		return LockPoisonedError{Cause: r.poisoned}
	}
	defer func() {
		if p := recover(); p != nil {
			r.poisoned = p
			err = LockPoisonedError{Cause: p}
		}
	}()
	return fn()
}

// Add registers tid as awaiting a response. It fails with
// DuplicateTransactionError if tid is already present.
func (r *Registry) Add(tid uint32) error {
	return r.lock(func() error {
		if _, exists := r.entries[tid]; exists {
			return DuplicateTransactionError{TransactionID: tid}
		}
		r.entries[tid] = &transaction{state: txAwaiting}
		return nil
	})
}

// Deliver completes tid with envelope if it is currently Awaiting, waking
// any installed waker. An envelope for an unknown or already-completed tid
// is dropped silently — it may be late, spurious, or belong to a
// transaction id a peer allocated for itself. Deliver never fails fatally.
func (r *Registry) Deliver(tid uint32, envelope *Envelope) {
	var waker Waker
	_ = r.lock(func() error {
		tx, ok := r.entries[tid]
		if !ok || tx.state != txAwaiting {
			return nil
		}
		tx.state = txCompleted
		tx.envelope = envelope
		waker = tx.waker
		return nil
	})
	// The waker is invoked after releasing the lock: an eager waker that
	// turns around and calls Poll must not deadlock against Deliver.
	if waker != nil {
		waker()
	}
}

// Poll checks tid's current state without blocking. If the entry is
// Completed, it is removed and its envelope returned. If Awaiting, waker
// replaces any previously stored waker and pending is reported true. If no
// entry exists, Poll fails with TransactionNotFoundError.
func (r *Registry) Poll(tid uint32, waker Waker) (envelope *Envelope, pending bool, err error) {
	err = r.lock(func() error {
		tx, ok := r.entries[tid]
		if !ok {
			return TransactionNotFoundError{TransactionID: tid}
		}
		switch tx.state {
		case txCompleted:
			envelope = tx.envelope
			delete(r.entries, tid)
		case txAwaiting:
			tx.waker = waker
			pending = true
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return envelope, pending, nil
}

// Cancel removes tid's entry regardless of state. It is idempotent: any
// response that arrives afterward finds no entry and is dropped by
// Deliver.
func (r *Registry) Cancel(tid uint32) {
	_ = r.lock(func() error {
		delete(r.entries, tid)
		return nil
	})
}

// Await blocks until tid completes or ctx is done, bridging Registry's
// non-blocking Poll/Waker surface into a single call the request engine can
// await. An error from Poll (a poisoned registry, or tid no longer
// registered) is returned as is; poisoning that happens while Await is
// waiting is only seen once ctx is done. Cancelling ctx cancels the
// transaction before returning.
func (r *Registry) Await(ctx context.Context, tid uint32) (*Envelope, error) {
	ready := make(chan struct{}, 1)
	waker := func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}

	for {
		envelope, pending, err := r.Poll(tid, waker)
		if err != nil {
			return nil, err
		}
		if !pending {
			return envelope, nil
		}

		select {
		case <-ready:
			continue
		case <-ctx.Done():
			r.Cancel(tid)
			return nil, TimeoutError{TransactionID: tid}
		}
	}
}

// Len reports the number of outstanding transactions, primarily for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
