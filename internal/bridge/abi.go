// Package bridge drives the canonical L1<->L2 bridge: token deposits, native
// and token withdrawals, and the pipeline-exercising self transfer.
package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidInput = errors.New("bridge: invalid input")

// DefaultL2GasHint is the minimum-gas hint passed with deposit messages to
// the L2 side of the standard bridge.
const DefaultL2GasHint uint32 = 200_000

const l1BridgeABIJSON = `[
	{"name":"depositETHTo","type":"function","stateMutability":"payable","inputs":[
		{"name":"_to","type":"address"},
		{"name":"_l2Gas","type":"uint32"},
		{"name":"_data","type":"bytes"}],"outputs":[]},
	{"name":"depositERC20To","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"_l1Token","type":"address"},
		{"name":"_l2Token","type":"address"},
		{"name":"_to","type":"address"},
		{"name":"_amount","type":"uint256"},
		{"name":"_l2Gas","type":"uint32"},
		{"name":"_data","type":"bytes"}],"outputs":[]}
]`

const l2BridgeABIJSON = `[
	{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"_l2Token","type":"address"},
		{"name":"_amount","type":"uint256"},
		{"name":"_minGasLimit","type":"uint32"},
		{"name":"_extraData","type":"bytes"}],"outputs":[]}
]`

const messagePasserABIJSON = `[
	{"name":"initiateWithdrawal","type":"function","stateMutability":"payable","inputs":[
		{"name":"_target","type":"address"},
		{"name":"_gasLimit","type":"uint256"},
		{"name":"_data","type":"bytes"}],"outputs":[]}
]`

var (
	initOnce sync.Once
	initErr  error

	l1BridgeABI      abi.ABI
	l2BridgeABI      abi.ABI
	messagePasserABI abi.ABI
)

func initABIs() error {
	initOnce.Do(func() {
		parse := func(name, src string) abi.ABI {
			if initErr != nil {
				return abi.ABI{}
			}
			parsed, err := abi.JSON(strings.NewReader(src))
			if err != nil {
				initErr = fmt.Errorf("bridge: parse %s ABI: %w", name, err)
			}
			return parsed
		}
		l1BridgeABI = parse("l1 bridge", l1BridgeABIJSON)
		l2BridgeABI = parse("l2 bridge", l2BridgeABIJSON)
		messagePasserABI = parse("message passer", messagePasserABIJSON)
	})
	return initErr
}

// DepositETHToCalldata encodes depositETHTo(to, l2Gas, data) with empty
// extra data.
func DepositETHToCalldata(to common.Address, l2Gas uint32) ([]byte, error) {
	if err := initABIs(); err != nil {
		return nil, err
	}
	return l1BridgeABI.Pack("depositETHTo", to, l2Gas, []byte{})
}

// DepositERC20ToCalldata encodes depositERC20To for a registered token pair.
func DepositERC20ToCalldata(l1Token, l2Token, to common.Address, amount *big.Int, l2Gas uint32) ([]byte, error) {
	if err := initABIs(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	return l1BridgeABI.Pack("depositERC20To", l1Token, l2Token, to, amount, l2Gas, []byte{})
}

// WithdrawCalldata encodes the L2 bridge's withdraw(token, amount, 0, "").
func WithdrawCalldata(l2Token common.Address, amount *big.Int) ([]byte, error) {
	if err := initABIs(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidInput)
	}
	return l2BridgeABI.Pack("withdraw", l2Token, amount, uint32(0), []byte{})
}

// InitiateWithdrawalCalldata encodes the message passer's
// initiateWithdrawal(target, 0, ""). The withdrawn value rides along as the
// transaction value.
func InitiateWithdrawalCalldata(target common.Address) ([]byte, error) {
	if err := initABIs(); err != nil {
		return nil, err
	}
	return messagePasserABI.Pack("initiateWithdrawal", target, big.NewInt(0), []byte{})
}
