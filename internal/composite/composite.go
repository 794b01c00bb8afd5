// Package composite blends on-chain and off-chain scores into one
// composite credit score.
package composite

import "math"

// Weight split when both signals are present. Off-chain data reflects an
// established, longer-horizon signal; wallet history is shorter and
// noisier. Tunable policy constant, not a derived law.
const (
	OnChainWeight  = 0.3
	OffChainWeight = 0.7
)

// Weights records how much each signal contributed to a blend.
type Weights struct {
	OnChain  float64 `json:"onChain"`
	OffChain float64 `json:"offChain"`
}

// Blend is the result of composing the two signals. Score is nil when
// neither signal is present.
type Blend struct {
	Score   *int    `json:"score"`
	Weights Weights `json:"weights"`
}

// Compose combines the scores under the data-availability policy:
//
//	both present  → round(onChain*0.3 + offChain*0.7)
//	on-chain only → onChain, weights (1, 0)
//	off-chain only → offChain, weights (0, 1)
//	neither       → nil score, weights (0, 0)
//
// Compose is pure; it never caches and recomputation is always safe.
func Compose(onChain, offChain *int) Blend {
	switch {
	case onChain != nil && offChain != nil:
		v := int(math.Round(float64(*onChain)*OnChainWeight + float64(*offChain)*OffChainWeight))
		return Blend{Score: &v, Weights: Weights{OnChain: OnChainWeight, OffChain: OffChainWeight}}
	case onChain != nil:
		v := *onChain
		return Blend{Score: &v, Weights: Weights{OnChain: 1, OffChain: 0}}
	case offChain != nil:
		v := *offChain
		return Blend{Score: &v, Weights: Weights{OnChain: 0, OffChain: 1}}
	default:
		return Blend{Weights: Weights{}}
	}
}
