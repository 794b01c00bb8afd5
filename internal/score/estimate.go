package score

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoProvider indicates no signal provider is configured.
var ErrNoProvider = errors.New("score: no signal provider configured")

// estimateSpread bounds how far an estimated score can rise above the
// floor. Estimates are deliberately conservative: without observed
// activity a wallet never estimates above the lower half of the range.
const estimateSpread = 200

// Estimate produces a lower-confidence deterministic score derived only
// from the wallet address. It is used when activity signals are
// unavailable so that linking never fails outright. The keccak digest of
// the normalized address seeds the value, keeping repeated calls stable.
func Estimate(address string) Result {
	h := crypto.Keccak256([]byte(strings.ToLower(strings.TrimSpace(address))))
	seed := binary.BigEndian.Uint64(h[:8])
	value := MinScore + int(seed%uint64(estimateSpread+1))

	return Result{
		Address:   address,
		Value:     Clamp(value),
		Estimated: true,
		Components: Components{
			Base: baseFloor,
		},
	}
}
