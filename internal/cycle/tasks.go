package cycle

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/giwa-labs/bridge-runner/internal/bridge"
	"github.com/giwa-labs/bridge-runner/internal/erc20"
	"github.com/giwa-labs/bridge-runner/internal/eth"
)

// Per-account task names. The global faucet claim runs once per cycle on
// top of these.
const (
	TaskDepositERC20  = "deposit-erc20"
	TaskWithdrawETH   = "withdraw-eth"
	TaskWithdrawERC20 = "withdraw-erc20"
	TaskSelfTransfer  = "self-transfer"

	TaskGlobalFaucetClaim = "faucet-claim"
)

var baseTasks = []string{TaskDepositERC20, TaskWithdrawETH, TaskWithdrawERC20, TaskSelfTransfer}

var (
	// Accounts below both floors are skipped outright.
	minL1AccountBalance = big.NewInt(10_000_000_000_000_000) // 0.01 ETH
	minL2AccountBalance = big.NewInt(5_000_000_000_000_000)  // 0.005 ETH

	// L2-side tasks need at least this much native balance for gas.
	minL2TaskBalance = big.NewInt(1_000_000_000_000_000) // 0.001 ETH
)

// Amounts are the per-task transfer sizes.
type Amounts struct {
	DepositERC20 *big.Int
	WithdrawETH  *big.Int
	SelfTransfer *big.Int
}

func (a Amounts) withDefaults() Amounts {
	if a.DepositERC20 == nil {
		a.DepositERC20 = new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))
	}
	if a.WithdrawETH == nil {
		a.WithdrawETH = big.NewInt(100_000_000_000_000) // 0.0001 ETH
	}
	if a.SelfTransfer == nil {
		a.SelfTransfer = big.NewInt(50_000_000_000_000) // 0.00005 ETH
	}
	return a
}

// taskPrecondition reports whether a task's balance gate passes, and a
// reason when it does not.
func taskPrecondition(task string, l1Balance, l2Balance *big.Int) (bool, string) {
	switch task {
	case TaskDepositERC20:
		if l1Balance.Cmp(minL1AccountBalance) < 0 {
			return false, "L1 balance below 0.01 ETH"
		}
	case TaskWithdrawETH, TaskWithdrawERC20, TaskSelfTransfer:
		if l2Balance.Cmp(minL2TaskBalance) < 0 {
			return false, "L2 balance below 0.001 ETH"
		}
	}
	return true, ""
}

// taskOutcome classifies one task attempt.
type taskOutcome struct {
	skipped bool
	reason  string
	txHash  common.Hash
	txRef   string
	err     error
}

// runTask executes one per-account task. Conditions that leave nothing to do
// (no usable token balance, credit still in flight) come back as skips rather
// than failures.
func (r *Runner) runTask(ctx context.Context, task string, l1h, l2h *eth.Handle) taskOutcome {
	switch task {
	case TaskDepositERC20:
		res, err := r.ops.DepositERC20(ctx, l1h, l2h, r.amounts.DepositERC20)
		if err != nil {
			if errors.Is(err, erc20.ErrNoUsableBalance) || errors.Is(err, bridge.ErrNothingToBridge) {
				return taskOutcome{skipped: true, reason: "no usable L1 token balance"}
			}
			return taskOutcome{err: err}
		}
		return taskOutcome{txHash: res.TxHash, txRef: res.TxRef}

	case TaskWithdrawETH:
		out, err := r.ops.WithdrawETH(ctx, l2h, l1h.Address(), r.amounts.WithdrawETH)
		if err != nil {
			return taskOutcome{err: err}
		}
		return taskOutcome{txHash: out.TxHash, txRef: out.TxRef}

	case TaskWithdrawERC20:
		res, err := r.ops.WithdrawERC20(ctx, l2h, l1h, r.amounts.DepositERC20)
		if err != nil {
			if errors.Is(err, bridge.ErrCreditPending) {
				return taskOutcome{skipped: true, reason: "L2 token credit pending"}
			}
			if errors.Is(err, bridge.ErrRecoveryImpossible) {
				return taskOutcome{skipped: true, reason: "no L2 tokens and recovery impossible"}
			}
			return taskOutcome{err: err}
		}
		return taskOutcome{txHash: res.TxHash, txRef: res.TxRef}

	case TaskSelfTransfer:
		out, err := r.ops.SelfTransfer(ctx, l2h, r.amounts.SelfTransfer)
		if err != nil {
			return taskOutcome{err: err}
		}
		return taskOutcome{txHash: out.TxHash, txRef: out.TxRef}
	}
	return taskOutcome{err: errors.New("cycle: unknown task " + task)}
}
