// Package cycle orchestrates the recurring bridge exercise: every account
// runs a shuffled task list with jittered pauses, outcomes are persisted and
// published, and the cycle ends with a banded success summary.
package cycle

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/giwa-labs/bridge-runner/internal/archive"
	"github.com/giwa-labs/bridge-runner/internal/bridge"
	"github.com/giwa-labs/bridge-runner/internal/eth"
	"github.com/giwa-labs/bridge-runner/internal/queue"
	"github.com/giwa-labs/bridge-runner/internal/reporter"
	"github.com/giwa-labs/bridge-runner/internal/runstore"
)

var ErrInvalidConfig = errors.New("cycle: invalid config")

// Success-rate bands.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandPoor      = "poor"
)

// DefaultLoopInterval spaces cycles in loop mode.
const DefaultLoopInterval = 24 * time.Hour

// ChainConfig describes one network shared by every account in the cycle.
type ChainConfig struct {
	Name               string
	ChainID            *big.Int
	Backend            eth.Backend
	RequiresFundsCheck bool
	ExplorerTxBase     string
}

// Config wires the runner. Store, Events and Archiver are optional; a nil
// value disables that sink.
type Config struct {
	L1 ChainConfig
	L2 ChainConfig

	// Accounts are the operator keys. The first account also runs the
	// cycle's global task.
	Accounts []*ecdsa.PrivateKey

	Ops     *bridge.Ops
	Amounts Amounts

	Store    runstore.Store
	Events   *queue.Events
	Archiver archive.Archiver

	Reporter reporter.Reporter
	Log      *slog.Logger

	// Rand drives the task shuffle and the jitter pauses.
	Rand  *rand.Rand
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Summary is the cycle result, also what the archiver persists as JSON.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Accounts  int `json:"accounts"`
	Planned   int `json:"planned"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// SuccessRatePct is succeeded over planned operations, 0-100.
	SuccessRatePct float64 `json:"success_rate_pct"`
	Band           string  `json:"band"`

	AccountFailures []AccountFailure `json:"account_failures,omitempty"`
}

type AccountFailure struct {
	Account string `json:"account"`
	Reason  string `json:"reason"`
}

type Runner struct {
	cfg     Config
	ops     *bridge.Ops
	amounts Amounts
	rep     reporter.Reporter
	log     *slog.Logger

	rnd   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(cfg Config) (*Runner, error) {
	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("%w: no accounts", ErrInvalidConfig)
	}
	if cfg.Ops == nil {
		return nil, fmt.Errorf("%w: nil bridge ops", ErrInvalidConfig)
	}
	if cfg.L1.Backend == nil || cfg.L2.Backend == nil {
		return nil, fmt.Errorf("%w: nil chain backend", ErrInvalidConfig)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = reporter.Nop{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		}
	}
	return &Runner{
		cfg:     cfg,
		ops:     cfg.Ops,
		amounts: cfg.Amounts.withDefaults(),
		rep:     cfg.Reporter,
		log:     cfg.Log,
		rnd:     cfg.Rand,
		now:     cfg.Now,
		sleep:   cfg.Sleep,
	}, nil
}

// RunCycle executes one full cycle over all accounts. The returned error is
// non-nil only for cancellation; individual task failures land in the
// summary instead.
func (r *Runner) RunCycle(ctx context.Context) (Summary, error) {
	startedAt := r.now().UTC()
	runID := RunIDV1(startedAt, r.cfg.Accounts)
	runHex := RunIDHex(runID)

	// One global task on top of the per-account lists.
	planned := len(r.cfg.Accounts)*len(baseTasks) + 1

	sum := Summary{
		RunID:     runHex,
		StartedAt: startedAt,
		Accounts:  len(r.cfg.Accounts),
		Planned:   planned,
	}
	r.rep.Step("PLAN", fmt.Sprintf("%d operations over %d accounts", planned, len(r.cfg.Accounts)), "run", runHex)

	r.storeBegin(ctx, runstore.CycleRecord{
		RunID:     runID,
		Accounts:  len(r.cfg.Accounts),
		StartedAt: startedAt,
	})

	for i, key := range r.cfg.Accounts {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := r.runAccount(ctx, runID, key, &sum); err != nil {
			return sum, err
		}
		if i < len(r.cfg.Accounts)-1 {
			if err := r.jitter(ctx, 10, 30); err != nil {
				return sum, err
			}
		}
	}

	r.runGlobalTask(ctx, runID, &sum)

	sum.FinishedAt = r.now().UTC()
	sum.Failed = sum.Planned - sum.Succeeded - sum.Skipped
	if sum.Planned > 0 {
		sum.SuccessRatePct = float64(sum.Succeeded) / float64(sum.Planned) * 100
	}
	sum.Band = bandFor(sum.SuccessRatePct)

	r.finishCycle(ctx, runID, sum)
	r.reportSummary(sum)
	return sum, nil
}

// RunLoop repeats cycles on a fixed interval until the context ends. The
// wait between cycles counts down in interruptible hourly slices.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultLoopInterval
	}
	for n := 1; ; n++ {
		r.rep.Step("CYCLE", fmt.Sprintf("cycle %d starting", n))
		if _, err := r.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				r.rep.Warning("loop interrupted", "completed_cycles", n-1)
				return err
			}
			r.rep.Error("cycle failed", "cycle", n, "err", err)
		} else {
			r.rep.Success(fmt.Sprintf("cycle %d finished", n))
		}

		if err := r.countdown(ctx, interval); err != nil {
			r.rep.Warning("loop interrupted", "completed_cycles", n)
			return err
		}
	}
}

func (r *Runner) countdown(ctx context.Context, total time.Duration) error {
	remaining := total
	for remaining > 0 {
		step := time.Hour
		if remaining < step {
			step = remaining
		}
		r.rep.Info("next cycle countdown", "remaining", remaining.String())
		if err := r.sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

func (r *Runner) runAccount(ctx context.Context, runID [32]byte, key *ecdsa.PrivateKey, sum *Summary) error {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	r.rep.Step("ACCOUNT", addr.Hex())

	l1h, l2h, err := r.handles(key)
	if err != nil {
		return err
	}

	l1Balance, err := r.cfg.L1.Backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		l1Balance = big.NewInt(0)
		r.rep.Warning("L1 balance read failed", "err", err)
	}
	l2Balance, err := r.cfg.L2.Backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		l2Balance = big.NewInt(0)
		r.rep.Warning("L2 balance read failed", "err", err)
	}
	r.rep.Step("BALANCE", "native balances", "l1", l1Balance, "l2", l2Balance)

	if l1Balance.Cmp(minL1AccountBalance) < 0 && l2Balance.Cmp(minL2AccountBalance) < 0 {
		r.rep.Warning("balances too low, skipping account", "account", addr.Hex())
		sum.AccountFailures = append(sum.AccountFailures, AccountFailure{Account: addr.Hex(), Reason: "insufficient balance"})
		for _, task := range baseTasks {
			r.recordTask(ctx, runID, addr, task, taskOutcome{skipped: true, reason: "insufficient account balance"}, sum)
		}
		return nil
	}

	tasks := append([]string(nil), baseTasks...)
	r.rnd.Shuffle(len(tasks), func(i, j int) { tasks[i], tasks[j] = tasks[j], tasks[i] })

	accountSucceeded := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		out := r.attemptTask(ctx, task, l1h, l2h, l1Balance, l2Balance)
		r.recordTask(ctx, runID, addr, task, out, sum)

		switch {
		case out.skipped:
			// No pause for skipped tasks.
		case out.err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := r.sleep(ctx, 2*time.Second); err != nil {
				return err
			}
		default:
			accountSucceeded++
			if err := r.jitter(ctx, 3, 8); err != nil {
				return err
			}
		}
	}

	r.rep.Step("RESULT", fmt.Sprintf("%d/%d tasks succeeded", accountSucceeded, len(tasks)), "account", addr.Hex())
	if accountSucceeded == 0 {
		sum.AccountFailures = append(sum.AccountFailures, AccountFailure{Account: addr.Hex(), Reason: "all tasks failed"})
	}
	return nil
}

func (r *Runner) attemptTask(ctx context.Context, task string, l1h, l2h *eth.Handle, l1Balance, l2Balance *big.Int) taskOutcome {
	if ok, reason := taskPrecondition(task, l1Balance, l2Balance); !ok {
		r.rep.Warning("task precondition not met", "task", task, "reason", reason)
		return taskOutcome{skipped: true, reason: reason}
	}
	r.rep.Step("TASK", task)
	out := r.runTask(ctx, task, l1h, l2h)
	switch {
	case out.skipped:
		r.rep.Warning("task skipped", "task", task, "reason", out.reason)
	case out.err != nil:
		r.rep.Error("task failed", "task", task, "err", out.err)
	default:
		r.rep.Success("task finished", "task", task, "tx", out.txRef)
	}
	return out
}

// runGlobalTask claims the L1 token faucet with the first account, balance
// checks deliberately bypassed.
func (r *Runner) runGlobalTask(ctx context.Context, runID [32]byte, sum *Summary) {
	key := r.cfg.Accounts[0]
	addr := crypto.PubkeyToAddress(key.PublicKey)
	r.rep.Step("GLOBAL", TaskGlobalFaucetClaim, "account", addr.Hex())

	l1h, _, err := r.handles(key)
	if err != nil {
		r.recordTask(ctx, runID, addr, TaskGlobalFaucetClaim, taskOutcome{err: err}, sum)
		return
	}
	out, err := r.ops.ClaimFaucet(ctx, l1h, false)
	if err != nil {
		r.rep.Error("global task failed", "err", err)
		r.recordTask(ctx, runID, addr, TaskGlobalFaucetClaim, taskOutcome{err: err}, sum)
		return
	}
	r.rep.Success("global task finished", "tx", out.TxRef)
	r.recordTask(ctx, runID, addr, TaskGlobalFaucetClaim, taskOutcome{txHash: out.TxHash, txRef: out.TxRef}, sum)
}

// handles builds fresh per-account handles, so every cycle re-reads the
// pending nonce instead of trusting stale local state.
func (r *Runner) handles(key *ecdsa.PrivateKey) (l1h, l2h *eth.Handle, err error) {
	signer := eth.NewLocalSigner(key)
	l1h, err = eth.NewHandle(eth.HandleConfig{
		Name:               r.cfg.L1.Name,
		ChainID:            r.cfg.L1.ChainID,
		Backend:            r.cfg.L1.Backend,
		Signer:             signer,
		RequiresFundsCheck: r.cfg.L1.RequiresFundsCheck,
		ExplorerTxBase:     r.cfg.L1.ExplorerTxBase,
	})
	if err != nil {
		return nil, nil, err
	}
	l2h, err = eth.NewHandle(eth.HandleConfig{
		Name:               r.cfg.L2.Name,
		ChainID:            r.cfg.L2.ChainID,
		Backend:            r.cfg.L2.Backend,
		Signer:             signer,
		RequiresFundsCheck: r.cfg.L2.RequiresFundsCheck,
		ExplorerTxBase:     r.cfg.L2.ExplorerTxBase,
	})
	if err != nil {
		return nil, nil, err
	}
	return l1h, l2h, nil
}

func (r *Runner) jitter(ctx context.Context, minSec, maxSec int) error {
	d := time.Duration(minSec+r.rnd.Intn(maxSec-minSec+1)) * time.Second
	return r.sleep(ctx, d)
}

// recordTask tallies the outcome and fans it out to the store and the event
// queue. Sink failures are logged, never fatal to the cycle.
func (r *Runner) recordTask(ctx context.Context, runID [32]byte, addr common.Address, task string, out taskOutcome, sum *Summary) {
	now := r.now().UTC()
	status := runstore.StatusSucceeded
	reason := ""
	switch {
	case out.skipped:
		status = runstore.StatusSkipped
		reason = out.reason
		sum.Skipped++
	case out.err != nil:
		status = runstore.StatusFailed
		reason = out.err.Error()
	default:
		sum.Succeeded++
	}

	if r.cfg.Store != nil {
		rec := runstore.TaskRecord{
			RunID:      runID,
			Account:    addr,
			Task:       task,
			Status:     status,
			Reason:     reason,
			TxHash:     out.txHash,
			StartedAt:  now,
			FinishedAt: now,
		}
		if err := r.cfg.Store.RecordTask(ctx, rec); err != nil {
			r.log.Warn("record task", "task", task, "err", err)
		}
	}
	if r.cfg.Events != nil {
		ev := queue.TaskEvent{
			RunID:   RunIDHex(runID),
			Account: addr.Hex(),
			Task:    task,
			Status:  status.String(),
			Reason:  reason,
			TxRef:   out.txRef,
			At:      now,
		}
		if err := r.cfg.Events.PublishTask(ctx, ev); err != nil {
			r.log.Warn("publish task event", "task", task, "err", err)
		}
	}
}

func (r *Runner) storeBegin(ctx context.Context, rec runstore.CycleRecord) {
	if r.cfg.Store == nil {
		return
	}
	if err := r.cfg.Store.BeginCycle(ctx, rec); err != nil {
		r.log.Warn("begin cycle", "err", err)
	}
}

func (r *Runner) finishCycle(ctx context.Context, runID [32]byte, sum Summary) {
	if r.cfg.Store != nil {
		rec := runstore.CycleRecord{
			RunID:      runID,
			Accounts:   sum.Accounts,
			Attempted:  sum.Planned,
			Succeeded:  sum.Succeeded,
			Skipped:    sum.Skipped,
			Band:       sum.Band,
			StartedAt:  sum.StartedAt,
			FinishedAt: sum.FinishedAt,
		}
		if err := r.cfg.Store.FinishCycle(ctx, rec); err != nil {
			r.log.Warn("finish cycle", "err", err)
		}
	}
	if r.cfg.Events != nil {
		ev := queue.CycleEvent{
			RunID:     sum.RunID,
			Accounts:  sum.Accounts,
			Attempted: sum.Planned,
			Succeeded: sum.Succeeded,
			Skipped:   sum.Skipped,
			Band:      sum.Band,
			At:        sum.FinishedAt,
		}
		if err := r.cfg.Events.PublishCycle(ctx, ev); err != nil {
			r.log.Warn("publish cycle event", "err", err)
		}
	}
	if r.cfg.Archiver != nil {
		payload, err := json.Marshal(sum)
		if err != nil {
			r.log.Warn("encode summary", "err", err)
			return
		}
		if err := r.cfg.Archiver.SaveSummary(ctx, sum.RunID, sum.StartedAt, payload); err != nil {
			r.log.Warn("archive summary", "err", err)
		}
	}
}

func (r *Runner) reportSummary(sum Summary) {
	r.rep.Step("SUCCESS", fmt.Sprintf("%d/%d operations", sum.Succeeded, sum.Planned),
		"skipped", sum.Skipped, "failed", sum.Failed)
	for _, f := range sum.AccountFailures {
		r.rep.Warning("account had no successful task", "account", f.Account, "reason", f.Reason)
	}
	switch sum.Band {
	case BandExcellent:
		r.rep.Success(fmt.Sprintf("success rate %.1f%%, excellent", sum.SuccessRatePct))
	case BandGood:
		r.rep.Info(fmt.Sprintf("success rate %.1f%%, good", sum.SuccessRatePct))
	default:
		r.rep.Warning(fmt.Sprintf("success rate %.1f%%, poor", sum.SuccessRatePct))
	}
}

func bandFor(ratePct float64) string {
	switch {
	case ratePct >= 80:
		return BandExcellent
	case ratePct >= 60:
		return BandGood
	default:
		return BandPoor
	}
}
