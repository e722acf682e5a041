package bridge

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/giwa-labs/bridge-runner/internal/erc20"
	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
)

// callABI decodes every selector the fake chain has to understand: the
// token surface plus all three bridge contracts.
var callABI = mustABI(`[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"claimFaucet","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"depositETHTo","type":"function","stateMutability":"payable","inputs":[{"name":"_to","type":"address"},{"name":"_l2Gas","type":"uint32"},{"name":"_data","type":"bytes"}],"outputs":[]},
	{"name":"depositERC20To","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_l1Token","type":"address"},{"name":"_l2Token","type":"address"},{"name":"_to","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_l2Gas","type":"uint32"},{"name":"_data","type":"bytes"}],"outputs":[]},
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"_l2Token","type":"address"},{"name":"_amount","type":"uint256"},{"name":"_minGasLimit","type":"uint32"},{"name":"_extraData","type":"bytes"}],"outputs":[]},
	{"name":"initiateWithdrawal","type":"function","stateMutability":"payable","inputs":[{"name":"_target","type":"address"},{"name":"_gasLimit","type":"uint256"},{"name":"_data","type":"bytes"}],"outputs":[]}
]`)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

func wei(eth int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(eth), big.NewInt(1_000_000_000_000_000_000))
}

// fakeChain is one chain's backend: native balance, one token contract, and
// a mempool whose bridge and token calls mutate state when they mine.
type fakeChain struct {
	mu sync.Mutex

	native       *big.Int
	tokenBalance *big.Int
	allowance    *big.Int
	faucetGrant  *big.Int
	faucetErr    error

	// failTxIndex marks the nth accepted tx (0-based) as reverted.
	failTxIndex int

	sent []*types.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		native:       wei(10),
		tokenBalance: big.NewInt(0),
		allowance:    big.NewInt(0),
		faucetGrant:  big.NewInt(0),
		failTxIndex:  -1,
	}
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }

func (f *fakeChain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 60_000, nil
}

func (f *fakeChain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.native), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	mines := f.failTxIndex != len(f.sent)
	data := tx.Data()
	if len(data) >= 4 {
		method, err := callABI.MethodById(data[:4])
		if err == nil && mines {
			args, _ := method.Inputs.Unpack(data[4:])
			switch method.Name {
			case "claimFaucet":
				if f.faucetErr != nil {
					return f.faucetErr
				}
				f.tokenBalance = new(big.Int).Add(f.tokenBalance, f.faucetGrant)
			case "approve":
				f.allowance = new(big.Int).Set(args[1].(*big.Int))
			case "depositERC20To":
				f.tokenBalance = new(big.Int).Sub(f.tokenBalance, args[3].(*big.Int))
			case "withdraw":
				f.tokenBalance = new(big.Int).Sub(f.tokenBalance, args[1].(*big.Int))
			}
		}
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, tx := range f.sent {
		if tx.Hash() == h {
			status := types.ReceiptStatusSuccessful
			if i == f.failTxIndex {
				status = types.ReceiptStatusFailed
			}
			return &types.Receipt{TxHash: h, Status: status, BlockNumber: big.NewInt(1), GasUsed: 50_000}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(msg.Data) < 4 {
		return nil, errors.New("missing selector")
	}
	method, err := callABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		return common.LeftPadBytes(f.tokenBalance.Bytes(), 32), nil
	case "decimals":
		return common.LeftPadBytes([]byte{18}, 32), nil
	case "allowance":
		return common.LeftPadBytes(f.allowance.Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call: " + method.Name)
}

// methodName decodes which contract function a sent tx targeted, or ""
// for a plain value transfer.
func methodName(tx *types.Transaction) string {
	data := tx.Data()
	if len(data) < 4 {
		return ""
	}
	method, err := callABI.MethodById(data[:4])
	if err != nil {
		return "?"
	}
	return method.Name
}

var testAddresses = Addresses{
	L1StandardBridge: common.HexToAddress("0x4200000000000000000000000000000000000001"),
	L2StandardBridge: common.HexToAddress("0x4200000000000000000000000000000000000010"),
	L2MessagePasser:  common.HexToAddress("0x4200000000000000000000000000000000000016"),
	L1Token:          common.HexToAddress("0x50B1eF6e0fe05a32F3E63F02f3c0151BD9004C7c"),
	L2Token:          common.HexToAddress("0x683E9c64e7D0b70B68aC0b5b0b7c37Ad9c56A77B"),
}

func testSetup(t *testing.T) (l1c, l2c *fakeChain, l1h, l2h *eth.Handle, ops *Ops) {
	t.Helper()

	l1c = newFakeChain()
	l2c = newFakeChain()
	key, err := crypto.HexToECDSA("4f3edf983ac636a65a842ce7c78d9aa706d3b113b37c2b1b4c1c5f5d8f5e2d3a")
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	signer := eth.NewLocalSigner(key)

	l1h, err = eth.NewHandle(eth.HandleConfig{
		Name:    "Ethereum Sepolia",
		ChainID: big.NewInt(11155111),
		Backend: l1c,
		Signer:  signer,
	})
	if err != nil {
		t.Fatalf("NewHandle l1: %v", err)
	}
	l2h, err = eth.NewHandle(eth.HandleConfig{
		Name:    "GIWA Sepolia",
		ChainID: big.NewInt(91342),
		Backend: l2c,
		Signer:  signer,
	})
	if err != nil {
		t.Fatalf("NewHandle l2: %v", err)
	}

	sub := eth.NewSubmitter(eth.SubmitterConfig{
		Wait: eth.WaitConfig{
			Sleep: func(context.Context, time.Duration) error { return nil },
		},
	})
	acct, err := erc20.NewAccountant(sub, reporter.Nop{}, erc20.AllowanceConfig{})
	if err != nil {
		t.Fatalf("NewAccountant: %v", err)
	}
	ops, err = New(Config{Addresses: testAddresses}, sub, acct, reporter.Nop{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l1c, l2c, l1h, l2h, ops
}

func TestDepositERC20_ClampsToActualBalance(t *testing.T) {
	l1c, _, l1h, l2h, ops := testSetup(t)
	l1c.tokenBalance = wei(4)

	res, err := ops.DepositERC20(context.Background(), l1h, l2h, wei(10))
	if err != nil {
		t.Fatalf("DepositERC20: %v", err)
	}
	if res.Amount.Cmp(wei(4)) != 0 {
		t.Fatalf("amount: got %s want %s", res.Amount, wei(4))
	}
	if res.Remaining.Sign() != 0 {
		t.Fatalf("remaining: got %s want 0", res.Remaining)
	}

	// Short balance triggers a faucet attempt, then approval, then deposit.
	var names []string
	for _, tx := range l1c.sent {
		names = append(names, methodName(tx))
	}
	want := []string{"claimFaucet", "approve", "depositERC20To"}
	if len(names) != len(want) {
		t.Fatalf("sent: got %v want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("sent[%d]: got %q want %q", i, names[i], want[i])
		}
	}
	if res.TxRef == "" || res.Chain != "Ethereum Sepolia" {
		t.Fatalf("outcome: %+v", res.TxOutcome)
	}
}

func TestDepositERC20_SufficientBalanceSkipsFaucet(t *testing.T) {
	l1c, _, l1h, l2h, ops := testSetup(t)
	l1c.tokenBalance = wei(12)

	res, err := ops.DepositERC20(context.Background(), l1h, l2h, wei(10))
	if err != nil {
		t.Fatalf("DepositERC20: %v", err)
	}
	if res.Amount.Cmp(wei(10)) != 0 {
		t.Fatalf("amount: got %s want %s", res.Amount, wei(10))
	}
	if res.Remaining.Cmp(wei(2)) != 0 {
		t.Fatalf("remaining: got %s want %s", res.Remaining, wei(2))
	}
	for _, tx := range l1c.sent {
		if methodName(tx) == "claimFaucet" {
			t.Fatalf("unexpected faucet claim")
		}
	}
}

func TestDepositERC20_NoUsableBalanceFails(t *testing.T) {
	l1c, _, l1h, l2h, ops := testSetup(t)
	l1c.faucetErr = errors.New("execution reverted: cooldown")

	_, err := ops.DepositERC20(context.Background(), l1h, l2h, wei(10))
	if !errors.Is(err, erc20.ErrNoUsableBalance) {
		t.Fatalf("err: got %v want ErrNoUsableBalance", err)
	}
	for _, tx := range l1c.sent {
		if methodName(tx) == "depositERC20To" {
			t.Fatalf("deposit submitted despite zero balance")
		}
	}
}

func TestDepositETH_TargetsStandardBridge(t *testing.T) {
	l1c, _, l1h, _, ops := testSetup(t)
	recipient := common.HexToAddress("0x77b2ffc0F57598cAe1DB76cb398059cF5d10A7E7")

	out, err := ops.DepositETH(context.Background(), l1h, recipient, wei(1))
	if err != nil {
		t.Fatalf("DepositETH: %v", err)
	}
	if len(l1c.sent) != 1 {
		t.Fatalf("sent: got %d want 1", len(l1c.sent))
	}
	tx := l1c.sent[0]
	if *tx.To() != testAddresses.L1StandardBridge {
		t.Fatalf("to: got %s", tx.To())
	}
	if tx.Value().Cmp(wei(1)) != 0 {
		t.Fatalf("value: got %s", tx.Value())
	}
	if methodName(tx) != "depositETHTo" {
		t.Fatalf("method: got %q", methodName(tx))
	}
	if out.GasUsed != 50_000 {
		t.Fatalf("gas used: got %d", out.GasUsed)
	}
}

func TestWithdrawETH_UsesMessagePasser(t *testing.T) {
	_, l2c, _, l2h, ops := testSetup(t)

	out, err := ops.WithdrawETH(context.Background(), l2h, common.HexToAddress("0x77b2ffc0F57598cAe1DB76cb398059cF5d10A7E7"), wei(1))
	if err != nil {
		t.Fatalf("WithdrawETH: %v", err)
	}
	if len(l2c.sent) != 1 {
		t.Fatalf("sent: got %d want 1", len(l2c.sent))
	}
	tx := l2c.sent[0]
	if *tx.To() != testAddresses.L2MessagePasser {
		t.Fatalf("to: got %s", tx.To())
	}
	if methodName(tx) != "initiateWithdrawal" {
		t.Fatalf("method: got %q", methodName(tx))
	}
	if out.Chain != "GIWA Sepolia" {
		t.Fatalf("chain: got %q", out.Chain)
	}
}

func TestWithdrawERC20_ClampsToBalance(t *testing.T) {
	_, l2c, l1h, l2h, ops := testSetup(t)
	l2c.tokenBalance = wei(3)

	res, err := ops.WithdrawERC20(context.Background(), l2h, l1h, wei(5))
	if err != nil {
		t.Fatalf("WithdrawERC20: %v", err)
	}
	if res.Amount.Cmp(wei(3)) != 0 {
		t.Fatalf("amount: got %s want %s", res.Amount, wei(3))
	}
	if res.Remaining.Sign() != 0 {
		t.Fatalf("remaining: got %s want 0", res.Remaining)
	}
	if len(l2c.sent) != 1 || methodName(l2c.sent[0]) != "withdraw" {
		t.Fatalf("sent: %d txs", len(l2c.sent))
	}
	if *l2c.sent[0].To() != testAddresses.L2StandardBridge {
		t.Fatalf("to: got %s", l2c.sent[0].To())
	}
}

func TestWithdrawERC20_RecoveryImpossibleWithoutL1Gas(t *testing.T) {
	l1c, l2c, l1h, l2h, ops := testSetup(t)
	l1c.native = big.NewInt(1_000_000) // far below the recovery floor

	_, err := ops.WithdrawERC20(context.Background(), l2h, l1h, wei(5))
	if !errors.Is(err, ErrRecoveryImpossible) {
		t.Fatalf("err: got %v want ErrRecoveryImpossible", err)
	}
	if len(l1c.sent) != 0 || len(l2c.sent) != 0 {
		t.Fatalf("sent: l1=%d l2=%d want 0/0", len(l1c.sent), len(l2c.sent))
	}
}

func TestWithdrawERC20_RecoveryDepositsAndReportsPendingCredit(t *testing.T) {
	l1c, l2c, l1h, l2h, ops := testSetup(t)
	l1c.faucetGrant = wei(5)

	_, err := ops.WithdrawERC20(context.Background(), l2h, l1h, wei(5))
	if !errors.Is(err, ErrCreditPending) {
		t.Fatalf("err: got %v want ErrCreditPending", err)
	}
	var deposited bool
	for _, tx := range l1c.sent {
		if methodName(tx) == "depositERC20To" {
			deposited = true
		}
	}
	if !deposited {
		t.Fatalf("recovery deposit not submitted, l1 sent: %d", len(l1c.sent))
	}
	if len(l2c.sent) != 0 {
		t.Fatalf("l2 sent: got %d want 0", len(l2c.sent))
	}
}

func TestSelfTransfer_SendsToOwnAddress(t *testing.T) {
	l1c, _, l1h, _, ops := testSetup(t)

	out, err := ops.SelfTransfer(context.Background(), l1h, wei(1))
	if err != nil {
		t.Fatalf("SelfTransfer: %v", err)
	}
	if len(l1c.sent) != 1 {
		t.Fatalf("sent: got %d want 1", len(l1c.sent))
	}
	if *l1c.sent[0].To() != l1h.Address() {
		t.Fatalf("to: got %s want self", l1c.sent[0].To())
	}
	if out.TxHash != l1c.sent[0].Hash() {
		t.Fatalf("hash mismatch")
	}
}

func TestDistributeAndBridge_TwoLegsPerTarget(t *testing.T) {
	l1c, _, l1h, _, ops := testSetup(t)
	targets := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}

	outcomes, err := ops.DistributeAndBridge(context.Background(), l1h, targets, DistributeConfig{
		PerTarget:         wei(1),
		BridgeFractionPct: 50,
	})
	if err != nil {
		t.Fatalf("DistributeAndBridge: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes: got %d want 2", len(outcomes))
	}
	for i, out := range outcomes {
		if !out.Completed() {
			t.Fatalf("outcome %d incomplete: %+v", i, out)
		}
	}
	if len(l1c.sent) != 4 {
		t.Fatalf("sent: got %d want 4", len(l1c.sent))
	}
	// Legs alternate: plain transfer then bridge deposit, per target.
	for i := 0; i < 4; i += 2 {
		transfer, deposit := l1c.sent[i], l1c.sent[i+1]
		if methodName(transfer) != "" || *transfer.To() != targets[i/2] {
			t.Fatalf("tx %d is not the transfer leg", i)
		}
		if transfer.Gas() != 21_000 {
			t.Fatalf("transfer gas: got %d want 21000", transfer.Gas())
		}
		if methodName(deposit) != "depositETHTo" {
			t.Fatalf("tx %d is not the bridge leg", i+1)
		}
		if deposit.Value().Cmp(new(big.Int).Div(wei(1), big.NewInt(2))) != 0 {
			t.Fatalf("bridge value: got %s want half", deposit.Value())
		}
	}
}

func TestDistributeAndBridge_SkipsTargetWhoseTransferReverts(t *testing.T) {
	l1c, _, l1h, _, ops := testSetup(t)
	l1c.failTxIndex = 0 // first target's transfer reverts
	targets := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}

	outcomes, err := ops.DistributeAndBridge(context.Background(), l1h, targets, DistributeConfig{
		PerTarget:         wei(1),
		BridgeFractionPct: 50,
	})
	if err != nil {
		t.Fatalf("DistributeAndBridge: %v", err)
	}
	if outcomes[0].Completed() || outcomes[0].Err == nil {
		t.Fatalf("first target should have failed: %+v", outcomes[0])
	}
	if outcomes[0].Bridge != nil {
		t.Fatalf("bridge leg ran after failed transfer")
	}
	if !outcomes[1].Completed() {
		t.Fatalf("second target should have completed: %+v", outcomes[1])
	}
	// 1 failed transfer + 2 legs for the surviving target.
	if len(l1c.sent) != 3 {
		t.Fatalf("sent: got %d want 3", len(l1c.sent))
	}
}

func TestDistributeAndBridge_AbortsWhenSourceCannotFundTransfer(t *testing.T) {
	l1c, _, l1h, _, ops := testSetup(t)
	// Balance covers the transfer value but not value plus worst-case gas,
	// so the batch must stop before the first broadcast.
	l1c.native = wei(1)
	targets := []common.Address{
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}

	outcomes, err := ops.DistributeAndBridge(context.Background(), l1h, targets, DistributeConfig{
		PerTarget:         wei(1),
		BridgeFractionPct: 50,
	})
	if !errors.Is(err, eth.ErrInsufficientFunds) {
		t.Fatalf("err: got %v want ErrInsufficientFunds", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes: got %d want 0", len(outcomes))
	}
	if len(l1c.sent) != 0 {
		t.Fatalf("sent: got %d want 0, nothing should broadcast for a batch every target would fail", len(l1c.sent))
	}
}
