package eth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrTxReverted reports a receipt with a failure status.
	ErrTxReverted = errors.New("eth: transaction reverted")
	// ErrReceiptTimeout reports that no receipt appeared within the wait
	// window. The transaction's outcome is unknown; every flow in this
	// repo treats it as a failure of the operation, never as a signal to
	// resubmit.
	ErrReceiptTimeout = errors.New("eth: no receipt before timeout")
)

type WaitStatus int

const (
	WaitStatusSuccess WaitStatus = iota + 1
	WaitStatusFailed
	WaitStatusTimeout
)

// WaitResult is the terminal classification of a confirmation wait.
type WaitResult struct {
	Status  WaitStatus
	Receipt *types.Receipt

	// LastLookupErr is the most recent non-NotFound lookup error observed
	// before a timeout, kept for diagnosis.
	LastLookupErr error
}

// Err folds the classification into the repo-wide error taxonomy: nil on
// success, ErrTxReverted on confirmed failure, ErrReceiptTimeout (wrapping
// the last lookup error, if any) on timeout.
func (r WaitResult) Err() error {
	switch r.Status {
	case WaitStatusSuccess:
		return nil
	case WaitStatusFailed:
		return ErrTxReverted
	default:
		if r.LastLookupErr != nil {
			return fmt.Errorf("%w (last lookup error: %v)", ErrReceiptTimeout, r.LastLookupErr)
		}
		return ErrReceiptTimeout
	}
}

// WaitConfig bounds a receipt poll loop.
type WaitConfig struct {
	PollInterval time.Duration // default 2s
	Timeout      time.Duration // default 240s

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (c WaitConfig) withDefaults() WaitConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 240 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WaitMined polls for a transaction receipt until one appears or the timeout
// elapses. A present receipt terminates the wait immediately with a
// success/failure classification. Lookup errors (not-yet-indexed and
// otherwise transient conditions) are remembered and polling continues.
//
// The only returned error is context cancellation; a timeout is expressed in
// the result, not raised.
func WaitMined(ctx context.Context, backend ReceiptReader, txHash common.Hash, cfg WaitConfig) (WaitResult, error) {
	cfg = cfg.withDefaults()

	var lastErr error
	deadline := cfg.Now().Add(cfg.Timeout)
	for {
		receipt, err := backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			status := WaitStatusFailed
			if receipt.Status == types.ReceiptStatusSuccessful {
				status = WaitStatusSuccess
			}
			return WaitResult{Status: status, Receipt: receipt}, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			lastErr = err
		}

		if !cfg.Now().Before(deadline) {
			return WaitResult{Status: WaitStatusTimeout, LastLookupErr: lastErr}, nil
		}
		if err := cfg.Sleep(ctx, cfg.PollInterval); err != nil {
			return WaitResult{}, err
		}
	}
}
