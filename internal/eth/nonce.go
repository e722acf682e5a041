package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceTracker tracks the locally known next nonce for a single account.
//
// Unlike an allocator, it does not consume nonces on read: Current returns
// the same value until Advance is called. The submission pipeline calls
// Advance exactly once per successfully broadcast transaction, so a failed
// broadcast never burns a nonce slot and a confirmed-failed transaction
// (which did broadcast) correctly does.
//
// The tracker never decreases its notion of "next": Sync adopts a backend
// nonce only when it is higher than the local one.
type NonceTracker struct {
	backend PendingNoncer
	addr    common.Address

	mu   sync.Mutex
	next uint64
	have bool
}

func NewNonceTracker(backend PendingNoncer, addr common.Address) *NonceTracker {
	return &NonceTracker{
		backend: backend,
		addr:    addr,
	}
}

// Current returns the next nonce to use, reading the backend's pending nonce
// on first use.
func (t *NonceTracker) Current(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.have {
		n, err := t.backend.PendingNonceAt(ctx, t.addr)
		if err != nil {
			return 0, err
		}
		t.next = n
		t.have = true
	}
	return t.next, nil
}

// Advance marks the current nonce as consumed by a broadcast transaction.
func (t *NonceTracker) Advance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
}

// Sync refreshes the next nonce from the backend, but never decreases it.
//
// The returned value is the backend's current pending nonce.
func (t *NonceTracker) Sync(ctx context.Context) (uint64, error) {
	n, err := t.backend.PendingNonceAt(ctx, t.addr)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.have || n > t.next {
		t.next = n
		t.have = true
	}
	return n, nil
}
