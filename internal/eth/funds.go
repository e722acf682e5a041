package eth

import (
	"context"
	"math/big"
	"time"
)

// CreditWaitConfig bounds the destination-balance polling loop used while an
// L1-initiated deposit may still be in flight toward the L2.
type CreditWaitConfig struct {
	// MinDelta is the smallest balance increase that counts as the expected
	// credit. Defaults to 0.00015 ETH.
	MinDelta *big.Int

	PollInterval time.Duration // default 5s
	Timeout      time.Duration // default 300s

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

var defaultCreditMinDelta = big.NewInt(150_000_000_000_000) // 0.00015 ETH

func (c CreditWaitConfig) withDefaults() CreditWaitConfig {
	if c.MinDelta == nil || c.MinDelta.Sign() <= 0 {
		c.MinDelta = defaultCreditMinDelta
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// FundsCheck is the outcome of a worst-case affordability check.
type FundsCheck struct {
	Sufficient bool
	Balance    *big.Int
	WorstCost  *big.Int
	// Shortfall is worstCost-balance when insufficient, zero otherwise.
	Shortfall *big.Int
}

// CheckFunds verifies the account's native balance covers value plus the
// worst-case gas cost (gas * feeCap) for a pending call.
func CheckFunds(ctx context.Context, h *Handle, value *big.Int, gasLimit uint64, feeCap *big.Int) (FundsCheck, error) {
	if value == nil {
		value = big.NewInt(0)
	}

	bal, err := h.Backend.BalanceAt(ctx, h.Address(), nil)
	if err != nil {
		return FundsCheck{}, err
	}

	worst := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	worst.Add(worst, value)

	out := FundsCheck{
		Balance:   bal,
		WorstCost: worst,
		Shortfall: big.NewInt(0),
	}
	if bal.Cmp(worst) >= 0 {
		out.Sufficient = true
		return out, nil
	}
	out.Shortfall = new(big.Int).Sub(worst, bal)
	return out, nil
}

// WaitForCredit polls the handle's native balance until it has grown by at
// least cfg.MinDelta over before, or the timeout elapses.
//
// Timeout is a normal, reportable outcome: the function returns (false, nil).
// Only backend read failures and context cancellation surface as errors.
func WaitForCredit(ctx context.Context, h *Handle, before *big.Int, cfg CreditWaitConfig) (bool, error) {
	cfg = cfg.withDefaults()

	deadline := cfg.Now().Add(cfg.Timeout)
	for {
		now, err := h.Backend.BalanceAt(ctx, h.Address(), nil)
		if err != nil {
			return false, err
		}
		delta := new(big.Int).Sub(now, before)
		if delta.Cmp(cfg.MinDelta) >= 0 {
			return true, nil
		}

		if !cfg.Now().Before(deadline) {
			return false, nil
		}
		if err := cfg.Sleep(ctx, cfg.PollInterval); err != nil {
			return false, err
		}
	}
}
