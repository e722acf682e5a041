package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidPrivateKey = errors.New("eth: invalid private key")

// ParsePrivateKeys parses one or more secp256k1 private keys from a string.
//
// Input format:
// - keys separated by commas or newlines
// - blank entries and lines starting with '#' are skipped
// - each key is 32 bytes hex, with optional 0x prefix
//
// This accepts both the comma-separated form used in secret values and the
// line-per-key form used in local key files. The returned error is sanitized
// and must not include key material.
func ParsePrivateKeys(s string) ([]*ecdsa.PrivateKey, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	var out []*ecdsa.PrivateKey
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		p = strings.TrimPrefix(p, "0x")
		key, err := crypto.HexToECDSA(p)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d", ErrInvalidPrivateKey, i)
		}
		out = append(out, key)
	}
	if len(out) == 0 {
		return nil, ErrInvalidPrivateKey
	}
	return out, nil
}
