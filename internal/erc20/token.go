// Package erc20 is the typed ERC-20 surface used by the bridging flows:
// balance/decimals/allowance reads and the calldata for approve, transfer,
// and the test-token faucet claim.
package erc20

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidToken = errors.New("erc20: invalid token")
	ErrBadCallData  = errors.New("erc20: bad call result")
)

// DefaultDecimals substitutes when a token's decimals() read fails; test
// tokens routinely omit a non-standard override but comply with the common
// default.
const DefaultDecimals uint8 = 18

const tokenABIJSON = `[
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8","name":""}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"type":"uint256","name":""}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256","name":""}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"type":"bool","name":""}]},
	{"name":"claimFaucet","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool","name":""}]}
]`

var (
	initOnce sync.Once
	initErr  error
	tokenABI abi.ABI
)

func initABI() error {
	initOnce.Do(func() {
		var err error
		tokenABI, err = abi.JSON(strings.NewReader(tokenABIJSON))
		if err != nil {
			initErr = fmt.Errorf("erc20: parse token ABI: %w", err)
		}
	})
	return initErr
}

type CallBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Token is a read handle on one deployed ERC-20 contract.
type Token struct {
	Addr    common.Address
	backend CallBackend
}

func NewToken(addr common.Address, backend CallBackend) (*Token, error) {
	if (addr == common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidToken)
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidToken)
	}
	if err := initABI(); err != nil {
		return nil, err
	}
	return &Token{Addr: addr, backend: backend}, nil
}

func (t *Token) view(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack %s: %w", method, err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.Addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20: call %s: %w", method, err)
	}
	vals, err := tokenABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrBadCallData, method, err)
	}
	return vals, nil
}

// BalanceOf reads the owner's token balance.
func (t *Token) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	vals, err := t.view(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", ErrBadCallData, vals[0])
	}
	return bal, nil
}

// Decimals reads the token's decimals, defaulting to 18 on any failure.
func (t *Token) Decimals(ctx context.Context) uint8 {
	vals, err := t.view(ctx, "decimals")
	if err != nil {
		return DefaultDecimals
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return DefaultDecimals
	}
	return d
}

// Allowance reads the spender's current allowance from owner.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	vals, err := t.view(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	al, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: allowance returned %T", ErrBadCallData, vals[0])
	}
	return al, nil
}

// ApproveCalldata encodes approve(spender, amount).
func ApproveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return tokenABI.Pack("approve", spender, amount)
}

// TransferCalldata encodes transfer(to, amount).
func TransferCalldata(to common.Address, amount *big.Int) ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return tokenABI.Pack("transfer", to, amount)
}

// ClaimFaucetCalldata encodes the no-argument claimFaucet call.
func ClaimFaucetCalldata() ([]byte, error) {
	if err := initABI(); err != nil {
		return nil, err
	}
	return tokenABI.Pack("claimFaucet")
}
