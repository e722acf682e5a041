package eth

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultGasCapPlain caps plain value transfers and empty-data calls.
	DefaultGasCapPlain uint64 = 300_000
	// DefaultGasCapData caps calls carrying payload data.
	DefaultGasCapData uint64 = 700_000

	// gasHeadroomPct pads raw node estimates (15%).
	gasHeadroomPct = 115
)

// GasCapFor picks the default gas cap for a call based on whether it carries
// payload data.
func GasCapFor(data []byte) uint64 {
	if len(data) > 0 {
		return DefaultGasCapData
	}
	return DefaultGasCapPlain
}

// EstimateGasWithCap estimates gas for a call, pads the estimate by 15%, and
// caps the result. Estimation failure is never fatal: the cap is used
// unconditionally, accepting an oversized limit over blocking the submission.
func EstimateGasWithCap(ctx context.Context, backend Backend, from common.Address, to *common.Address, value *big.Int, data []byte, gasCap uint64) uint64 {
	est, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return gasCap
	}

	if est > math.MaxUint64/gasHeadroomPct {
		return gasCap
	}
	padded := est * gasHeadroomPct / 100
	if padded > gasCap {
		return gasCap
	}
	return padded
}
