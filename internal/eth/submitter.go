package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/giwa-labs/bridge-runner/internal/reporter"
)

var (
	ErrInvalidSubmitterConfig = errors.New("eth: invalid submitter config")
	// ErrInsufficientFunds reports that the funds guard refused a broadcast:
	// the account cannot cover value plus worst-case gas, even after the
	// wait-for-credit pass on funds-checked networks.
	ErrInsufficientFunds = errors.New("eth: insufficient funds for transaction")
	// ErrStillUnderpriced reports that the bumped resubmission was rejected
	// as underpriced again. There is no third attempt.
	ErrStillUnderpriced = errors.New("eth: transaction underpriced after fee bump")
)

// underpricedBumpPercent is the single automatic fee bump applied to an
// underpriced rejection (1.25x).
const underpricedBumpPercent = 25

// CallRequest is a not-yet-signed transaction. Unset fields are filled in by
// the submission pipeline before signing: fees from the handle's profile,
// nonce from the handle's tracker, gas from estimation, chain id from the
// handle.
type CallRequest struct {
	To    *common.Address // nil deploys a contract
	Value *big.Int
	Data  []byte

	GasLimit uint64 // 0 => estimate

	TipCap *big.Int // set both or neither; both nil => quote fresh
	FeeCap *big.Int
}

// SubmitOptions are per-call submission knobs.
type SubmitOptions struct {
	// AllowUnderpricedRetry opts into the single bump-and-resubmit on an
	// underpriced rejection.
	AllowUnderpricedRetry bool
	// SkipFundsCheck bypasses the funds guard on funds-checked networks.
	SkipFundsCheck bool
}

// SubmitterConfig tunes the submission pipeline. The zero value is usable.
type SubmitterConfig struct {
	Wait   WaitConfig
	Credit CreditWaitConfig

	Reporter reporter.Reporter
}

// Submitter assembles, signs, and broadcasts transactions against a Handle,
// and advances the handle's nonce exactly once per successful broadcast.
type Submitter struct {
	cfg SubmitterConfig
	rep reporter.Reporter
}

func NewSubmitter(cfg SubmitterConfig) *Submitter {
	rep := cfg.Reporter
	if rep == nil {
		rep = reporter.Nop{}
	}
	return &Submitter{cfg: cfg, rep: rep}
}

// Submit fills in the request's missing fields, signs with the handle's
// identity, and broadcasts. On an underpriced rejection with
// AllowUnderpricedRetry set, both fee caps are bumped 1.25x and the same
// nonce is re-signed and rebroadcast once; a second rejection is fatal.
//
// The handle's nonce advances if and only if a broadcast was accepted, so a
// later confirmed-failed receipt still consumes the slot, matching chain
// semantics.
func (s *Submitter) Submit(ctx context.Context, h *Handle, req CallRequest, opts SubmitOptions) (common.Hash, error) {
	if h == nil {
		return common.Hash{}, fmt.Errorf("%w: nil handle", ErrInvalidSubmitterConfig)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	if (req.TipCap == nil) != (req.FeeCap == nil) {
		return common.Hash{}, fmt.Errorf("%w: tip cap and fee cap must be set together", ErrInvalidSubmitterConfig)
	}
	tipCap, feeCap := req.TipCap, req.FeeCap
	if tipCap == nil {
		quote := QuoteFees(ctx, h.Backend, h.Profile)
		tipCap, feeCap = quote.TipCap, quote.FeeCap
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasCap := GasCapFor(req.Data)
		gasLimit = EstimateGasWithCap(ctx, h.Backend, h.Address(), req.To, value, req.Data, gasCap)
		s.rep.Step("GAS", "gas limit chosen", "gas", gasLimit, "cap", gasCap)
	}

	if h.RequiresFundsCheck && !opts.SkipFundsCheck {
		if err := s.guardFunds(ctx, h, value, gasLimit, feeCap); err != nil {
			return common.Hash{}, err
		}
	}

	nonce, err := h.Nonce().Current(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: read nonce: %w", err)
	}

	makeSigned := func(tip, fee *big.Int) (*types.Transaction, error) {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   h.ChainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: fee,
			Gas:       gasLimit,
			To:        req.To,
			Value:     value,
			Data:      req.Data,
		})
		return h.Signer.SignTx(tx, h.ChainID)
	}

	signed, err := makeSigned(tipCap, feeCap)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: sign: %w", err)
	}

	err = h.Backend.SendTransaction(ctx, signed)
	if err == nil {
		h.Nonce().Advance()
		s.rep.Step("SEND", "transaction broadcast", "tx", signed.Hash().Hex(), "nonce", nonce)
		return signed.Hash(), nil
	}
	if !opts.AllowUnderpricedRetry || !isUnderpriced(err) {
		return common.Hash{}, fmt.Errorf("eth: broadcast: %w", err)
	}

	// Single bumped resubmission at the same nonce. This is a two-state
	// attempt, not a loop: a second underpriced rejection propagates.
	s.rep.Warning("broadcast rejected as underpriced, bumping fees", "nonce", nonce)
	tipCap, feeCap, err = BumpFees(tipCap, feeCap, underpricedBumpPercent)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err = makeSigned(tipCap, feeCap)
	if err != nil {
		return common.Hash{}, fmt.Errorf("eth: re-sign: %w", err)
	}
	if err := h.Backend.SendTransaction(ctx, signed); err != nil {
		if isUnderpriced(err) {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrStillUnderpriced, err)
		}
		return common.Hash{}, fmt.Errorf("eth: rebroadcast: %w", err)
	}
	h.Nonce().Advance()
	s.rep.Step("SEND", "bumped transaction broadcast", "tx", signed.Hash().Hex(), "nonce", nonce)
	return signed.Hash(), nil
}

// SubmitAndWait broadcasts the call and blocks for its terminal
// confirmation classification.
func (s *Submitter) SubmitAndWait(ctx context.Context, h *Handle, req CallRequest, opts SubmitOptions) (common.Hash, WaitResult, error) {
	txHash, err := s.Submit(ctx, h, req, opts)
	if err != nil {
		return common.Hash{}, WaitResult{}, err
	}
	res, err := WaitMined(ctx, h.Backend, txHash, s.cfg.Wait)
	if err != nil {
		return txHash, WaitResult{}, err
	}
	return txHash, res, nil
}

// guardFunds aborts a submission the account cannot afford rather than
// broadcasting a call that would revert on-chain and still consume the
// nonce. On shortfall it runs one bounded wait for an expected cross-chain
// credit, then re-checks.
func (s *Submitter) guardFunds(ctx context.Context, h *Handle, value *big.Int, gasLimit uint64, feeCap *big.Int) error {
	check, err := CheckFunds(ctx, h, value, gasLimit, feeCap)
	if err != nil {
		return fmt.Errorf("eth: funds check: %w", err)
	}
	if check.Sufficient {
		return nil
	}

	s.rep.Warning("balance short of worst-case cost, waiting for incoming credit",
		"balance", check.Balance, "worst_cost", check.WorstCost, "shortfall", check.Shortfall)

	credited, err := WaitForCredit(ctx, h, check.Balance, s.cfg.Credit)
	if err != nil {
		return fmt.Errorf("eth: wait for credit: %w", err)
	}
	if !credited {
		s.rep.Warning("no credit observed before timeout")
	}

	check, err = CheckFunds(ctx, h, value, gasLimit, feeCap)
	if err != nil {
		return fmt.Errorf("eth: funds re-check: %w", err)
	}
	if !check.Sufficient {
		return fmt.Errorf("%w: short %s wei on %s", ErrInsufficientFunds, check.Shortfall, h.Name)
	}
	return nil
}

func isUnderpriced(err error) bool {
	return err != nil && strings.Contains(err.Error(), "underpriced")
}
