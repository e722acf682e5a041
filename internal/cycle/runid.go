package cycle

import (
	"crypto/ecdsa"
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// RunIDV1 computes the run identifier for one cycle:
// keccak256("bridge_cycle_v1" || startUnixNanoBE64 || account addresses).
// Distinct starts or account sets never collide on an id.
func RunIDV1(startedAt time.Time, accounts []*ecdsa.PrivateKey) [32]byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte("bridge_cycle_v1"))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(startedAt.UnixNano()))
	_, _ = h.Write(ts[:])

	for _, key := range accounts {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		_, _ = h.Write(addr[:])
	}

	sum := h.Sum(nil)
	var out [32]byte
	copy(out[:], sum)
	return out
}

// RunIDHex renders a run id the way events and archive keys carry it.
func RunIDHex(id [32]byte) string {
	return common.Hash(id).Hex()
}
