package eth

import (
	"context"
	"errors"
	"math/big"
	"strings"
)

var ErrInvalidFeeArgs = errors.New("eth: invalid fee args")

// L2NamePrefix marks the L2-style network in a handle name and selects the
// cheaper fee profile.
const L2NamePrefix = "GIWA"

// fallbackBaseFeeWei substitutes for the observed base fee when the latest
// header cannot be read (2 gwei).
var fallbackBaseFeeWei = big.NewInt(2_000_000_000)

// FeeProfile is a per-network fee posture: a fixed priority tip and a base
// fee multiplier expressed in percent (250 => 2.5x).
type FeeProfile struct {
	TipCap        *big.Int
	MultiplierPct int64
}

var (
	// l2Profile assumes cheap, predictable blocks.
	l2Profile = FeeProfile{TipCap: big.NewInt(2_000_000_000), MultiplierPct: 250}
	// defaultProfile tolerates base-fee volatility on busier networks.
	defaultProfile = FeeProfile{TipCap: big.NewInt(8_000_000_000), MultiplierPct: 400}
)

// ProfileFor returns the fee profile for a network tag.
func ProfileFor(name string) FeeProfile {
	if strings.HasPrefix(name, L2NamePrefix) {
		return l2Profile
	}
	return defaultProfile
}

// FeeQuote is one submission attempt's EIP-1559 fee parameters. Quotes are
// immutable; retries bump a copy rather than re-quoting.
type FeeQuote struct {
	BaseFee *big.Int
	TipCap  *big.Int
	FeeCap  *big.Int
}

// QuoteFees derives a fresh FeeQuote from the latest observed base fee.
//
// Policy:
//   - baseFee = latest header's base fee; any read failure substitutes a
//     fixed 2 gwei default instead of failing the caller
//   - feeCap = baseFee*multiplier + 2*tipCap, so feeCap >= 2*tipCap always
func QuoteFees(ctx context.Context, backend Backend, profile FeeProfile) FeeQuote {
	base := new(big.Int).Set(fallbackBaseFeeWei)
	if header, err := backend.HeaderByNumber(ctx, nil); err == nil && header != nil && header.BaseFee != nil && header.BaseFee.Sign() >= 0 {
		base.Set(header.BaseFee)
	}

	tip := new(big.Int).Set(profile.TipCap)

	fee := new(big.Int).Mul(base, big.NewInt(profile.MultiplierPct))
	fee.Div(fee, big.NewInt(100))
	fee.Add(fee, new(big.Int).Mul(tip, big.NewInt(2)))

	return FeeQuote{BaseFee: base, TipCap: tip, FeeCap: fee}
}

// BumpFees scales both fee caps by a percentage for an underpriced
// resubmission. bumpPercent 25 yields the 1.25x resubmission factor.
func BumpFees(tipCap, feeCap *big.Int, bumpPercent int) (newTipCap, newFeeCap *big.Int, err error) {
	if tipCap == nil || feeCap == nil {
		return nil, nil, ErrInvalidFeeArgs
	}
	if tipCap.Sign() < 0 || feeCap.Sign() < 0 {
		return nil, nil, ErrInvalidFeeArgs
	}
	if bumpPercent <= 0 {
		return nil, nil, ErrInvalidFeeArgs
	}

	pct := big.NewInt(int64(100 + bumpPercent))
	hundred := big.NewInt(100)

	newTip := new(big.Int).Mul(tipCap, pct)
	newTip.Div(newTip, hundred)

	newFee := new(big.Int).Mul(feeCap, pct)
	newFee.Div(newFee, hundred)

	// Ensure feeCap is always >= tipCap.
	if newFee.Cmp(newTip) < 0 {
		newFee = new(big.Int).Set(newTip)
	}

	return newTip, newFee, nil
}
