package eth

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNonceTracker_CurrentInitializesFromBackendOnce(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.pendingNonce = 5
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

	tr := NewNonceTracker(backend, addr)

	n0, err := tr.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n0 != 5 {
		t.Fatalf("nonce: got %d want %d", n0, 5)
	}

	// Current is stable until Advance.
	n1, err := tr.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n1 != 5 {
		t.Fatalf("nonce: got %d want %d", n1, 5)
	}

	tr.Advance()
	n2, err := tr.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n2 != 6 {
		t.Fatalf("nonce after Advance: got %d want %d", n2, 6)
	}

	if backend.nonceCalls != 1 {
		t.Fatalf("backend calls: got %d want %d", backend.nonceCalls, 1)
	}
}

func TestNonceTracker_SyncDoesNotDecrease(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.pendingNonce = 10
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

	tr := NewNonceTracker(backend, addr)

	if _, err := tr.Current(ctx); err != nil {
		t.Fatalf("Current: %v", err)
	}
	tr.Advance() // 11
	tr.Advance() // 12

	backend.pendingNonce = 9
	if _, err := tr.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	n, err := tr.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n != 12 {
		t.Fatalf("nonce after Sync: got %d want %d", n, 12)
	}
}

func TestNonceTracker_SyncAdoptsHigherBackendNonce(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.pendingNonce = 1
	addr := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

	tr := NewNonceTracker(backend, addr)

	if _, err := tr.Current(ctx); err != nil {
		t.Fatalf("Current: %v", err)
	}
	backend.pendingNonce = 20

	got, err := tr.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got != 20 {
		t.Fatalf("Sync nonce: got %d want %d", got, 20)
	}

	n, err := tr.Current(ctx)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n != 20 {
		t.Fatalf("nonce after Sync: got %d want %d", n, 20)
	}
}
