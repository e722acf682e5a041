package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/giwa-labs/bridge-runner/internal/erc20"
	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
)

var (
	ErrInvalidConfig = errors.New("bridge: invalid config")
	// ErrNothingToBridge reports that the clamped amount came out zero:
	// the account holds none of the token even after the faucet fallback.
	ErrNothingToBridge = errors.New("bridge: zero usable token balance")
	// ErrCreditPending reports that the withdraw-token auto-acquire
	// deposit succeeded and its L2 credit is in flight. The caller should
	// retry the withdrawal later rather than block on destination
	// finality, whose timing is unknown.
	ErrCreditPending = errors.New("bridge: L2 token credit pending, retry the withdrawal later")
	// ErrRecoveryImpossible reports that the auto-acquire sub-flow could
	// not start: the L1 native balance cannot pay for a recovery deposit.
	ErrRecoveryImpossible = errors.New("bridge: token recovery impossible")
)

// ChallengePeriodNote is the operator-facing caveat attached to every
// initiated withdrawal. Proving and finalizing on L1 are outside this
// engine.
const ChallengePeriodNote = "withdrawal initiated; funds arrive on L1 only after the multi-day challenge period and a prove/finalize step"

// Addresses are the well-known bridge and token contracts on both chains.
type Addresses struct {
	L1StandardBridge common.Address
	L2StandardBridge common.Address
	L2MessagePasser  common.Address
	L1Token          common.Address
	L2Token          common.Address
}

type Config struct {
	Addresses Addresses

	// L2GasHint rides along with deposit messages. Defaults to
	// DefaultL2GasHint.
	L2GasHint uint32

	// RecoveryMinL1Balance gates the withdraw-token auto-acquire sub-flow:
	// below this native balance the recovery deposit cannot pay its own
	// gas. Defaults to 0.01 ETH.
	RecoveryMinL1Balance *big.Int
}

var defaultRecoveryMinL1Balance = big.NewInt(10_000_000_000_000_000) // 0.01 ETH

// Ops composes the submission and token primitives into the bridging state
// machines. Each operation is a short linear sequence; failures abort the
// operation and propagate, and no operation retries beyond the submitter's
// single underpriced bump.
type Ops struct {
	cfg  Config
	sub  *eth.Submitter
	acct *erc20.Accountant
	rep  reporter.Reporter
	log  *slog.Logger
}

func New(cfg Config, sub *eth.Submitter, acct *erc20.Accountant, rep reporter.Reporter, log *slog.Logger) (*Ops, error) {
	if sub == nil || acct == nil {
		return nil, fmt.Errorf("%w: nil submitter or accountant", ErrInvalidConfig)
	}
	for _, addr := range []common.Address{
		cfg.Addresses.L1StandardBridge,
		cfg.Addresses.L2StandardBridge,
		cfg.Addresses.L2MessagePasser,
		cfg.Addresses.L1Token,
		cfg.Addresses.L2Token,
	} {
		if (addr == common.Address{}) {
			return nil, fmt.Errorf("%w: zero contract address", ErrInvalidConfig)
		}
	}
	if cfg.L2GasHint == 0 {
		cfg.L2GasHint = DefaultL2GasHint
	}
	if cfg.RecoveryMinL1Balance == nil || cfg.RecoveryMinL1Balance.Sign() <= 0 {
		cfg.RecoveryMinL1Balance = defaultRecoveryMinL1Balance
	}
	if rep == nil {
		rep = reporter.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ops{cfg: cfg, sub: sub, acct: acct, rep: rep, log: log}, nil
}

// TxOutcome correlates a confirmed operation with its transaction for
// operator-facing reporting.
type TxOutcome struct {
	TxHash  common.Hash
	TxRef   string
	Chain   string
	GasUsed uint64
}

type DepositResult struct {
	TxOutcome
	// Amount is the bridged amount after any clamp to the actual balance.
	Amount    *big.Int
	Remaining *big.Int
}

type WithdrawResult struct {
	TxOutcome
	Amount    *big.Int
	Remaining *big.Int
}

func outcomeFrom(h *eth.Handle, txHash common.Hash, res eth.WaitResult) TxOutcome {
	out := TxOutcome{TxHash: txHash, TxRef: h.ExplorerTx(txHash), Chain: h.Name}
	if res.Receipt != nil {
		out.GasUsed = res.Receipt.GasUsed
	}
	return out
}

// DepositERC20 bridges the configured token pair from L1 to the L2 account.
//
// Sequence: acquire L1 token balance (faucet fallback) -> re-read and clamp
// the requested amount down to the actual balance -> raise the bridge
// allowance -> depositERC20To -> confirm. The L2-side credit is asynchronous
// and not this operation's responsibility.
func (o *Ops) DepositERC20(ctx context.Context, l1, l2 *eth.Handle, amount *big.Int) (DepositResult, error) {
	token, err := erc20.NewToken(o.cfg.Addresses.L1Token, l1.Backend)
	if err != nil {
		return DepositResult{}, err
	}

	if _, err := o.acct.EnsureBalanceViaFaucet(ctx, l1, token, amount); err != nil {
		return DepositResult{}, fmt.Errorf("bridge: acquire L1 token balance: %w", err)
	}

	actual, err := token.BalanceOf(ctx, l1.Address())
	if err != nil {
		return DepositResult{}, err
	}
	if actual.Cmp(amount) < 0 {
		// Deliberate policy: proceed with what is there instead of failing.
		o.rep.Warning("balance below requested amount, clamping", "requested", amount, "actual", actual)
		amount = actual
	}
	if amount.Sign() == 0 {
		return DepositResult{}, ErrNothingToBridge
	}

	if _, err := o.acct.EnsureAllowance(ctx, l1, token, o.cfg.Addresses.L1StandardBridge, amount); err != nil {
		return DepositResult{}, err
	}

	data, err := DepositERC20ToCalldata(o.cfg.Addresses.L1Token, o.cfg.Addresses.L2Token, l2.Address(), amount, o.cfg.L2GasHint)
	if err != nil {
		return DepositResult{}, err
	}
	txHash, res, err := o.sub.SubmitAndWait(ctx, l1, eth.CallRequest{
		To:   &o.cfg.Addresses.L1StandardBridge,
		Data: data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return DepositResult{}, fmt.Errorf("bridge: deposit token: %w", err)
	}
	if err := res.Err(); err != nil {
		return DepositResult{}, fmt.Errorf("bridge: deposit token: %w", err)
	}

	remaining, err := token.BalanceOf(ctx, l1.Address())
	if err != nil {
		return DepositResult{}, err
	}
	o.rep.Success("token deposit initiated, L2 credit arrives asynchronously",
		"tx", l1.ExplorerTx(txHash), "amount", amount, "remaining", remaining)
	return DepositResult{
		TxOutcome: outcomeFrom(l1, txHash, res),
		Amount:    amount,
		Remaining: remaining,
	}, nil
}

// DepositETH bridges native currency from L1 to an L2 recipient through the
// standard bridge.
func (o *Ops) DepositETH(ctx context.Context, l1 *eth.Handle, recipient common.Address, amount *big.Int) (TxOutcome, error) {
	data, err := DepositETHToCalldata(recipient, o.cfg.L2GasHint)
	if err != nil {
		return TxOutcome{}, err
	}
	txHash, res, err := o.sub.SubmitAndWait(ctx, l1, eth.CallRequest{
		To:    &o.cfg.Addresses.L1StandardBridge,
		Value: amount,
		Data:  data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: deposit native: %w", err)
	}
	if err := res.Err(); err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: deposit native: %w", err)
	}
	o.rep.Success("native deposit initiated", "tx", l1.ExplorerTx(txHash), "amount", amount)
	return outcomeFrom(l1, txHash, res), nil
}

// WithdrawETH initiates a native withdrawal from L2 toward the L1 recipient
// through the message passer. Finalization happens days later on L1 and is
// out of scope.
func (o *Ops) WithdrawETH(ctx context.Context, l2 *eth.Handle, l1Recipient common.Address, amount *big.Int) (TxOutcome, error) {
	data, err := InitiateWithdrawalCalldata(l1Recipient)
	if err != nil {
		return TxOutcome{}, err
	}
	txHash, res, err := o.sub.SubmitAndWait(ctx, l2, eth.CallRequest{
		To:    &o.cfg.Addresses.L2MessagePasser,
		Value: amount,
		Data:  data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: withdraw native: %w", err)
	}
	if err := res.Err(); err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: withdraw native: %w", err)
	}
	o.rep.Success("native withdrawal initiated", "tx", l2.ExplorerTx(txHash), "amount", amount)
	o.rep.Warning(ChallengePeriodNote)
	return outcomeFrom(l2, txHash, res), nil
}

// WithdrawERC20 initiates a token withdrawal from L2 toward L1.
//
// A zero L2 token balance triggers the auto-acquire fallback: when the L1
// native balance can pay for it, the same faucet-claim + deposit sequence as
// DepositERC20 runs with the account's own address as recipient, and the
// operation finishes with ErrCreditPending so the caller retries once the
// credit lands. A balance below the requested amount is clamped, not an
// error.
func (o *Ops) WithdrawERC20(ctx context.Context, l2, l1 *eth.Handle, amount *big.Int) (WithdrawResult, error) {
	token, err := erc20.NewToken(o.cfg.Addresses.L2Token, l2.Backend)
	if err != nil {
		return WithdrawResult{}, err
	}

	balance, err := token.BalanceOf(ctx, l2.Address())
	if err != nil {
		return WithdrawResult{}, err
	}
	if balance.Sign() == 0 {
		return WithdrawResult{}, o.recoverL2Tokens(ctx, l2, l1, amount)
	}
	if balance.Cmp(amount) < 0 {
		o.rep.Warning("L2 token balance below requested amount, clamping", "requested", amount, "actual", balance)
		amount = balance
	}

	data, err := WithdrawCalldata(o.cfg.Addresses.L2Token, amount)
	if err != nil {
		return WithdrawResult{}, err
	}
	txHash, res, err := o.sub.SubmitAndWait(ctx, l2, eth.CallRequest{
		To:   &o.cfg.Addresses.L2StandardBridge,
		Data: data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("bridge: withdraw token: %w", err)
	}
	if err := res.Err(); err != nil {
		return WithdrawResult{}, fmt.Errorf("bridge: withdraw token: %w", err)
	}

	remaining, err := token.BalanceOf(ctx, l2.Address())
	if err != nil {
		return WithdrawResult{}, err
	}
	o.rep.Success("token withdrawal initiated", "tx", l2.ExplorerTx(txHash), "amount", amount, "remaining", remaining)
	o.rep.Warning(ChallengePeriodNote)
	return WithdrawResult{
		TxOutcome: outcomeFrom(l2, txHash, res),
		Amount:    amount,
		Remaining: remaining,
	}, nil
}

// recoverL2Tokens runs the auto-acquire sub-flow for a zero L2 token
// balance. Its return value is always non-nil: ErrCreditPending on success,
// ErrRecoveryImpossible or the sub-flow's failure otherwise.
func (o *Ops) recoverL2Tokens(ctx context.Context, l2, l1 *eth.Handle, amount *big.Int) error {
	o.rep.Warning("L2 token balance is zero, attempting L1 acquire and deposit")

	l1Native, err := l1.Backend.BalanceAt(ctx, l1.Address(), nil)
	if err != nil {
		return fmt.Errorf("bridge: read L1 native balance: %w", err)
	}
	if l1Native.Cmp(o.cfg.RecoveryMinL1Balance) < 0 {
		o.reportManualRecovery()
		return fmt.Errorf("%w: L1 native balance %s below %s",
			ErrRecoveryImpossible, l1Native, o.cfg.RecoveryMinL1Balance)
	}

	if _, err := o.DepositERC20(ctx, l1, l2, amount); err != nil {
		o.reportManualRecovery()
		return fmt.Errorf("bridge: auto-acquire deposit failed: %w", err)
	}

	o.rep.Success("recovery deposit initiated; L2 credit typically lands within minutes")
	return ErrCreditPending
}

func (o *Ops) reportManualRecovery() {
	o.rep.Warning("automatic recovery failed, manual steps:")
	o.rep.Info("1. claim L1 test tokens from the faucet")
	o.rep.Info("2. bridge the L1 tokens to L2 with a token deposit")
	o.rep.Info("3. retry the withdrawal after the L2 credit lands")
}

// SelfTransfer sends a plain value transfer from the account to itself,
// exercising the whole submission and confirmation pipeline.
func (o *Ops) SelfTransfer(ctx context.Context, h *eth.Handle, amount *big.Int) (TxOutcome, error) {
	self := h.Address()
	txHash, res, err := o.sub.SubmitAndWait(ctx, h, eth.CallRequest{
		To:    &self,
		Value: amount,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: self transfer: %w", err)
	}
	if err := res.Err(); err != nil {
		return TxOutcome{}, fmt.Errorf("bridge: self transfer: %w", err)
	}
	o.rep.Success("self transfer confirmed", "tx", h.ExplorerTx(txHash), "amount", amount)
	return outcomeFrom(h, txHash, res), nil
}

// DistributeConfig shapes a DistributeAndBridge batch.
type DistributeConfig struct {
	// PerTarget is the native amount transferred to each target.
	PerTarget *big.Int
	// BridgeFractionPct of PerTarget is then bridged to the same target on
	// L2, e.g. 50 bridges half.
	BridgeFractionPct int64
}

// TargetOutcome records how far one target got through its two-leg sequence.
type TargetOutcome struct {
	Target   common.Address
	Transfer *TxOutcome
	Bridge   *TxOutcome
	Err      error
}

func (t TargetOutcome) Completed() bool {
	return t.Err == nil && t.Transfer != nil && t.Bridge != nil
}

// DistributeAndBridge transfers PerTarget native currency from the source
// account to each target and then bridges a fraction of it to the same
// address on L2, both legs on L1.
//
// A target whose transfer or bridge confirmation fails is skipped and the
// batch continues. A source balance too low to fund a transfer aborts the
// whole batch, since every later leg would fail the same way; the balance is
// checked explicitly before each transfer leg because the distribution
// handle is not a funds-checked network.
func (o *Ops) DistributeAndBridge(ctx context.Context, l1 *eth.Handle, targets []common.Address, cfg DistributeConfig) ([]TargetOutcome, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidConfig)
	}
	if cfg.PerTarget == nil || cfg.PerTarget.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive per-target amount", ErrInvalidConfig)
	}
	if cfg.BridgeFractionPct <= 0 || cfg.BridgeFractionPct > 100 {
		return nil, fmt.Errorf("%w: bridge fraction out of range", ErrInvalidConfig)
	}
	bridgeAmount := new(big.Int).Mul(cfg.PerTarget, big.NewInt(cfg.BridgeFractionPct))
	bridgeAmount.Div(bridgeAmount, big.NewInt(100))

	quote := eth.QuoteFees(ctx, l1.Backend, l1.Profile)

	outcomes := make([]TargetOutcome, 0, len(targets))
	for i, target := range targets {
		o.rep.Step("TARGET", fmt.Sprintf("%d/%d %s", i+1, len(targets), target.Hex()))
		out := TargetOutcome{Target: target}

		check, err := eth.CheckFunds(ctx, l1, cfg.PerTarget, 21_000, quote.FeeCap)
		if err != nil {
			return outcomes, fmt.Errorf("bridge: distribute funds check: %w", err)
		}
		if !check.Sufficient {
			o.rep.Error("source balance exhausted, aborting distribution",
				"target", target.Hex(), "shortfall", check.Shortfall)
			return outcomes, fmt.Errorf("bridge: distribute transfer: %w: short %s wei on %s",
				eth.ErrInsufficientFunds, check.Shortfall, l1.Name)
		}

		to := target
		txHash, res, err := o.sub.SubmitAndWait(ctx, l1, eth.CallRequest{
			To:       &to,
			Value:    cfg.PerTarget,
			GasLimit: 21_000,
		}, eth.SubmitOptions{AllowUnderpricedRetry: true})
		if err != nil {
			if errors.Is(err, eth.ErrInsufficientFunds) || ctx.Err() != nil {
				return outcomes, fmt.Errorf("bridge: distribute transfer: %w", err)
			}
			out.Err = fmt.Errorf("transfer: %w", err)
			o.rep.Error("transfer failed, skipping target", "target", target.Hex(), "err", err)
			outcomes = append(outcomes, out)
			continue
		}
		if err := res.Err(); err != nil {
			out.Err = fmt.Errorf("transfer: %w", err)
			o.rep.Error("transfer not confirmed, skipping target", "target", target.Hex(), "err", err)
			outcomes = append(outcomes, out)
			continue
		}
		transfer := outcomeFrom(l1, txHash, res)
		out.Transfer = &transfer
		o.rep.Step("TX1", l1.ExplorerTx(txHash))

		data, err := DepositETHToCalldata(target, o.cfg.L2GasHint)
		if err != nil {
			return outcomes, err
		}
		txHash, res, err = o.sub.SubmitAndWait(ctx, l1, eth.CallRequest{
			To:    &o.cfg.Addresses.L1StandardBridge,
			Value: bridgeAmount,
			Data:  data,
		}, eth.SubmitOptions{AllowUnderpricedRetry: true})
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, fmt.Errorf("bridge: distribute bridge leg: %w", err)
			}
			out.Err = fmt.Errorf("bridge leg: %w", err)
			o.rep.Error("bridge leg failed, skipping target", "target", target.Hex(), "err", err)
			outcomes = append(outcomes, out)
			continue
		}
		if err := res.Err(); err != nil {
			out.Err = fmt.Errorf("bridge leg: %w", err)
			o.rep.Error("bridge leg not confirmed, skipping target", "target", target.Hex(), "err", err)
			outcomes = append(outcomes, out)
			continue
		}
		bridged := outcomeFrom(l1, txHash, res)
		out.Bridge = &bridged
		o.rep.Step("TX2", l1.ExplorerTx(txHash))
		outcomes = append(outcomes, out)
	}
	o.rep.Success("distribute and bridge finished, L2 balances land within minutes")
	return outcomes, nil
}

// ClaimFaucet claims the test token faucet on the handle's chain. l2 selects
// between the configured token addresses.
func (o *Ops) ClaimFaucet(ctx context.Context, h *eth.Handle, l2 bool) (TxOutcome, error) {
	addr := o.cfg.Addresses.L1Token
	if l2 {
		addr = o.cfg.Addresses.L2Token
	}
	token, err := erc20.NewToken(addr, h.Backend)
	if err != nil {
		return TxOutcome{}, err
	}
	txHash, err := o.acct.ClaimFaucet(ctx, h, token)
	if err != nil {
		return TxOutcome{}, err
	}
	return TxOutcome{TxHash: txHash, TxRef: h.ExplorerTx(txHash), Chain: h.Name}, nil
}
