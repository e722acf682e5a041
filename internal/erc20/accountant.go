package erc20

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
)

var (
	ErrApprovalFailed = errors.New("erc20: approval not confirmed")
	// ErrNoUsableBalance reports that the faucet claim failed and the
	// account holds exactly zero of the token; there is nothing to proceed
	// with.
	ErrNoUsableBalance = errors.New("erc20: zero balance and faucet claim failed")
)

// AllowanceConfig tunes the over-approval heuristic. Approvals are sized
// max(required*Multiplier, Ceiling) to avoid a fresh approval transaction on
// every operation; both knobs stay configurable so production tokens can use
// tighter values.
type AllowanceConfig struct {
	Multiplier int64    // default 10
	Ceiling    *big.Int // default 1_000_000 ether
}

// defaultApprovalCeiling is 1e24 wei (1,000,000 tokens at 18 decimals).
var defaultApprovalCeiling, _ = new(big.Int).SetString("1000000000000000000000000", 10)

func (c AllowanceConfig) withDefaults() AllowanceConfig {
	if c.Multiplier <= 0 {
		c.Multiplier = 10
	}
	if c.Ceiling == nil || c.Ceiling.Sign() <= 0 {
		c.Ceiling = defaultApprovalCeiling
	}
	return c
}

// Accountant manages ERC-20 preconditions for the bridging flows: raising
// allowances and acquiring balance through the test-token faucet.
type Accountant struct {
	sub      *eth.Submitter
	rep      reporter.Reporter
	allowCfg AllowanceConfig
}

func NewAccountant(sub *eth.Submitter, rep reporter.Reporter, allowCfg AllowanceConfig) (*Accountant, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: nil submitter", ErrInvalidToken)
	}
	if rep == nil {
		rep = reporter.Nop{}
	}
	return &Accountant{sub: sub, rep: rep, allowCfg: allowCfg.withDefaults()}, nil
}

// EnsureAllowance guarantees spender may pull at least required from the
// handle's account. When the current allowance already covers it, no
// transaction is issued (the call is idempotent). Otherwise an over-sized
// approval is submitted and confirmed; a non-success confirmation is fatal
// because the allowance is a hard precondition for a token transfer-from.
//
// Returns the approval transaction hash, or nil when none was needed.
func (a *Accountant) EnsureAllowance(ctx context.Context, h *eth.Handle, token *Token, spender common.Address, required *big.Int) (*common.Hash, error) {
	current, err := token.Allowance(ctx, h.Address(), spender)
	if err != nil {
		return nil, err
	}
	a.rep.Step("APPROVE", "allowance checked", "current", current, "required", required)
	if current.Cmp(required) >= 0 {
		return nil, nil
	}

	amount := new(big.Int).Mul(required, big.NewInt(a.allowCfg.Multiplier))
	if amount.Cmp(a.allowCfg.Ceiling) < 0 {
		amount.Set(a.allowCfg.Ceiling)
	}

	data, err := ApproveCalldata(spender, amount)
	if err != nil {
		return nil, err
	}

	txHash, res, err := a.sub.SubmitAndWait(ctx, h, eth.CallRequest{
		To:   &token.Addr,
		Data: data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return nil, fmt.Errorf("erc20: approve: %w", err)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrApprovalFailed, err)
	}
	a.rep.Success("allowance raised", "tx", h.ExplorerTx(txHash), "amount", amount)
	return &txHash, nil
}

// EnsureBalanceViaFaucet makes the account hold a usable amount of the
// token, claiming from the faucet when short.
//
// Policy, in order:
//   - balance >= required: succeed, no faucet call
//   - claim confirms and post-claim balance >= required: succeed
//   - post-claim balance positive but short: succeed with what is there;
//     downstream steps clamp their amounts to the actual balance
//   - claim fails for any reason (no faucet, cooldown, exhausted, network):
//     succeed iff the pre-existing balance is positive
//   - zero balance and the claim failed: ErrNoUsableBalance
//
// The returned balance is the usable amount after the routine ran.
func (a *Accountant) EnsureBalanceViaFaucet(ctx context.Context, h *eth.Handle, token *Token, required *big.Int) (*big.Int, error) {
	balance, err := token.BalanceOf(ctx, h.Address())
	if err != nil {
		return nil, err
	}
	a.rep.Step("BALANCE", "token balance read", "balance", balance, "required", required)
	if balance.Cmp(required) >= 0 {
		return balance, nil
	}

	a.rep.Warning("token balance short, trying faucet claim", "token", token.Addr.Hex())
	claimed, err := a.claimFaucet(ctx, h, token)
	if err != nil || !claimed {
		if balance.Sign() > 0 {
			a.rep.Warning("faucet claim failed, proceeding with existing balance", "balance", balance)
			return balance, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoUsableBalance, err)
		}
		return nil, ErrNoUsableBalance
	}

	after, err := token.BalanceOf(ctx, h.Address())
	if err != nil {
		return nil, err
	}
	if after.Cmp(required) >= 0 {
		a.rep.Success("faucet claim covered the requirement", "balance", after)
		return after, nil
	}
	if after.Sign() > 0 {
		a.rep.Warning("balance still short after claim, proceeding with what is there", "balance", after)
		return after, nil
	}
	return nil, ErrNoUsableBalance
}

// ClaimFaucet submits a bare faucet claim and confirms it. Used directly by
// the cycle's global task; EnsureBalanceViaFaucet wraps it with the usable-
// balance policy.
func (a *Accountant) ClaimFaucet(ctx context.Context, h *eth.Handle, token *Token) (common.Hash, error) {
	data, err := ClaimFaucetCalldata()
	if err != nil {
		return common.Hash{}, err
	}
	txHash, res, err := a.sub.SubmitAndWait(ctx, h, eth.CallRequest{
		To:   &token.Addr,
		Data: data,
	}, eth.SubmitOptions{AllowUnderpricedRetry: true})
	if err != nil {
		return common.Hash{}, fmt.Errorf("erc20: claim faucet: %w", err)
	}
	if err := res.Err(); err != nil {
		return txHash, fmt.Errorf("erc20: claim faucet: %w", err)
	}
	a.rep.Success("faucet claim confirmed", "tx", h.ExplorerTx(txHash))
	return txHash, nil
}

func (a *Accountant) claimFaucet(ctx context.Context, h *eth.Handle, token *Token) (bool, error) {
	if _, err := a.ClaimFaucet(ctx, h, token); err != nil {
		return false, err
	}
	return true, nil
}
