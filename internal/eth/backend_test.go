package eth

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type fakeBackend struct {
	mu sync.Mutex

	pendingNonce uint64
	nonceCalls   int

	baseFee   *big.Int
	headerErr error

	gasEst    uint64
	gasEstErr error

	balance      *big.Int
	balanceSeq   []*big.Int // consumed per BalanceAt call when non-empty
	balanceCalls int

	sent     []*types.Transaction
	sendHook func(tx *types.Transaction) error

	receipts    map[common.Hash]*types.Receipt
	receiptErr  error
	receiptHook func(h common.Hash) (*types.Receipt, error)

	callHook func(msg ethereum.CallMsg) ([]byte, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		baseFee:  big.NewInt(1_000_000_000),
		gasEst:   50_000,
		balance:  mustWei("10"),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (b *fakeBackend) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nonceCalls++
	return b.pendingNonce, nil
}

func (b *fakeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.headerErr != nil {
		return nil, b.headerErr
	}
	return &types.Header{BaseFee: new(big.Int).Set(b.baseFee)}, nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gasEstErr != nil {
		return 0, b.gasEstErr
	}
	return b.gasEst, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	if b.sendHook != nil {
		return b.sendHook(tx)
	}
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.receiptHook != nil {
		return b.receiptHook(h)
	}
	if b.receiptErr != nil {
		return nil, b.receiptErr
	}
	if r, ok := b.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) BalanceAt(_ context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balanceCalls++
	if len(b.balanceSeq) > 0 {
		v := b.balanceSeq[0]
		b.balanceSeq = b.balanceSeq[1:]
		return new(big.Int).Set(v), nil
	}
	return new(big.Int).Set(b.balance), nil
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.callHook != nil {
		return b.callHook(msg)
	}
	return nil, nil
}

func mustWei(eth string) *big.Int {
	f, ok := new(big.Rat).SetString(eth)
	if !ok {
		panic("bad wei literal: " + eth)
	}
	f.Mul(f, new(big.Rat).SetInt64(1_000_000_000_000_000_000))
	if !f.IsInt() {
		panic("fractional wei: " + eth)
	}
	return new(big.Int).Set(f.Num())
}

func testHandle(t *testing.T, backend Backend, name string, fundsCheck bool) *Handle {
	t.Helper()

	key, err := crypto.HexToECDSA("4f3edf983ac636a65a842ce7c78d9aa706d3b113b37c2b1b4c1c5f5d8f5e2d3a")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	h, err := NewHandle(HandleConfig{
		Name:               name,
		RPC:                "http://localhost:8545",
		ChainID:            big.NewInt(11155111),
		Backend:            backend,
		Signer:             NewLocalSigner(key),
		RequiresFundsCheck: fundsCheck,
	})
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	return h
}
