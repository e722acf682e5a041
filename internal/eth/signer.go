package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSigner = errors.New("eth: invalid signer")

// Signer is the signing identity a Handle broadcasts as. The chain id is
// passed per call because the same identity signs for both networks of a
// bridge pair.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// LocalSigner signs with an in-process secp256k1 key, the form operator keys
// take after the secrets provider decodes them.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	s := &LocalSigner{key: key}
	if key != nil {
		s.addr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return s
}

func (s *LocalSigner) Address() common.Address { return s.addr }

// SignTx signs with the EIP-155 replay-protected signer for chainID. A nil
// key is reported here rather than at construction so building a signer from
// unvalidated key material stays infallible until first use.
func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.key == nil {
		return nil, fmt.Errorf("%w: no key material", ErrInvalidSigner)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidSigner)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id %v", ErrInvalidSigner, chainID)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
