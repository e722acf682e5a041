package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidHandleConfig = errors.New("eth: invalid handle config")

// Backend is the subset of an EVM JSON-RPC client the engine touches.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// HandleConfig describes one (network, account) binding.
type HandleConfig struct {
	// Name tags the network and selects the fee profile (see ProfileFor).
	Name    string
	RPC     string
	ChainID *big.Int

	Backend Backend
	Signer  Signer

	// RequiresFundsCheck enables the pre-broadcast native-balance guard,
	// including the wait-for-credit pass. Set it on the L2-style network
	// where funds may arrive asynchronously from an L1 deposit.
	RequiresFundsCheck bool

	// ExplorerTxBase is the prefix for operator-facing transaction links,
	// e.g. "https://sepolia.etherscan.io/tx/". Optional.
	ExplorerTxBase string
}

// Handle binds one account to one network.
//
// A handle owns the account's local next-nonce for that network. It is safe
// only for one sequential caller at a time; flows must not share a handle
// across concurrent work.
type Handle struct {
	Name    string
	RPC     string
	ChainID *big.Int

	Backend Backend
	Signer  Signer

	Profile            FeeProfile
	RequiresFundsCheck bool
	ExplorerTxBase     string

	nonce *NonceTracker
}

func NewHandle(cfg HandleConfig) (*Handle, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidHandleConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be > 0", ErrInvalidHandleConfig)
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidHandleConfig)
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: nil signer", ErrInvalidHandleConfig)
	}
	addr := cfg.Signer.Address()
	if (addr == common.Address{}) {
		return nil, fmt.Errorf("%w: signer has zero address", ErrInvalidHandleConfig)
	}

	return &Handle{
		Name:               cfg.Name,
		RPC:                cfg.RPC,
		ChainID:            new(big.Int).Set(cfg.ChainID),
		Backend:            cfg.Backend,
		Signer:             cfg.Signer,
		Profile:            ProfileFor(cfg.Name),
		RequiresFundsCheck: cfg.RequiresFundsCheck,
		ExplorerTxBase:     cfg.ExplorerTxBase,
		nonce:              NewNonceTracker(cfg.Backend, addr),
	}, nil
}

// Address returns the signing account's address.
func (h *Handle) Address() common.Address { return h.Signer.Address() }

// Nonce exposes the handle's nonce tracker.
func (h *Handle) Nonce() *NonceTracker { return h.nonce }

// ExplorerTx renders an operator-facing transaction reference. Falls back to
// the bare hash when no explorer base is configured.
func (h *Handle) ExplorerTx(txHash common.Hash) string {
	if h.ExplorerTxBase == "" {
		return txHash.Hex()
	}
	return h.ExplorerTxBase + txHash.Hex()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
