// Package score computes per-wallet trust scores from on-chain activity.
//
// A wallet score is built from independent additive factors:
// - Balance tier (holdings)
// - Transaction count (activity)
// - Counterparty diversity (network breadth)
// - Recency (activity within a trailing window)
// - Risk deduction (concentrated large transfers, near-zero activity)
//
// Scores live in the same 300-850 band as traditional credit scores so
// they can be blended with bureau data without rescaling.
package score

import (
	"context"
	"math"
	"math/big"
	"time"
)

// Score bounds. Every score produced anywhere in the system is clamped
// to this range.
const (
	MinScore = 300
	MaxScore = 850
)

// Per-factor caps. Factors are capped individually before summation;
// base + all caps = MaxScore exactly.
const (
	baseFloor          = 300
	maxBalanceFactor   = 180
	maxActivityFactor  = 150
	maxDiversityFactor = 120
	maxRecencyFactor   = 100
	maxRiskDeduction   = 100
)

// recencyWindow is the trailing window considered "recent" activity.
const recencyWindow = 30 * 24 * time.Hour

// weiPerEther avoids float conversion of raw wei until the last moment.
var weiPerEther = new(big.Float).SetFloat64(1e18)

// Transaction is a single observed transfer involving the scored wallet.
type Transaction struct {
	Hash         string    `json:"hash"`
	Counterparty string    `json:"counterparty"`
	ValueWei     *big.Int  `json:"valueWei"`
	Timestamp    time.Time `json:"timestamp"`
}

// Signals are the raw activity inputs to a wallet score. AsOf anchors the
// trailing recency window; a zero AsOf falls back to the current time.
type Signals struct {
	BalanceWei       *big.Int      `json:"balanceWei"`
	TransactionCount int           `json:"transactionCount"`
	Recent           []Transaction `json:"recent"` // trailing-window transactions
	AsOf             time.Time     `json:"asOf"`   // observation time of the signals
}

// Components breaks down the score for caller visibility.
type Components struct {
	Base      int `json:"base"`
	Balance   int `json:"balance"`
	Activity  int `json:"activity"`
	Diversity int `json:"diversity"`
	Recency   int `json:"recency"`
	Risk      int `json:"risk"` // deduction, subtracted from the sum
}

// Result is a computed wallet score. Estimated is true when activity
// signals were unavailable and the score was derived from the address
// alone (degraded path).
type Result struct {
	Address    string     `json:"address"`
	Value      int        `json:"value"`
	Estimated  bool       `json:"estimated"`
	Components Components `json:"components"`
}

// SignalProvider fetches raw activity signals for a wallet.
// chain.Client implements this against a JSON-RPC endpoint.
type SignalProvider interface {
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	GetTransactionCount(ctx context.Context, address string) (int, error)
	GetRecentTransactions(ctx context.Context, address string, window int) ([]Transaction, error)
}

// Calculator computes wallet trust scores.
type Calculator struct {
	provider SignalProvider
	window   int // block window for recent-transaction lookups
}

// NewCalculator creates a calculator backed by the given signal provider.
// The provider may be nil, in which case every score takes the estimated
// path.
func NewCalculator(provider SignalProvider) *Calculator {
	return &Calculator{provider: provider, window: 512}
}

// FromSignals computes a score purely from the given signals. It is
// deterministic: identical signals always produce the identical result.
func (c *Calculator) FromSignals(address string, sig Signals) Result {
	comp := Components{Base: baseFloor}

	comp.Balance = balanceFactor(sig.BalanceWei)
	comp.Activity = activityFactor(sig.TransactionCount)
	comp.Diversity = diversityFactor(sig.Recent)
	comp.Recency = recencyFactor(sig.Recent, sig.AsOf)
	comp.Risk = riskDeduction(sig)

	value := comp.Base + comp.Balance + comp.Activity + comp.Diversity + comp.Recency - comp.Risk

	return Result{
		Address:    address,
		Value:      Clamp(value),
		Components: comp,
	}
}

// Clamp bounds a score value to [MinScore, MaxScore].
func Clamp(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// balanceFactor is a monotonic saturating step function of holdings.
func balanceFactor(balanceWei *big.Int) int {
	if balanceWei == nil || balanceWei.Sign() <= 0 {
		return 0
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(balanceWei), weiPerEther).Float64()

	switch {
	case eth >= 100:
		return maxBalanceFactor
	case eth >= 10:
		return 140
	case eth >= 1:
		return 100
	case eth >= 0.1:
		return 60
	case eth >= 0.01:
		return 30
	default:
		return 10
	}
}

// activityFactor rewards transaction count on a log scale, saturating
// around 2000 lifetime transactions.
func activityFactor(count int) int {
	if count <= 0 {
		return 0
	}
	f := 45 * math.Log10(float64(count)+1)
	return int(math.Min(maxActivityFactor, math.Floor(f)))
}

// diversityFactor rewards distinct counterparties on a log scale.
func diversityFactor(recent []Transaction) int {
	seen := make(map[string]struct{}, len(recent))
	for _, tx := range recent {
		if tx.Counterparty != "" {
			seen[tx.Counterparty] = struct{}{}
		}
	}
	d := len(seen)
	if d == 0 {
		return 0
	}
	f := 55 * math.Log10(float64(d)+1)
	return int(math.Min(maxDiversityFactor, math.Floor(f)))
}

// recencyFactor rewards activity inside the trailing window ending at
// asOf, so rescoring stored signals reproduces the original factor.
func recencyFactor(recent []Transaction, asOf time.Time) int {
	if asOf.IsZero() {
		asOf = time.Now()
	}
	cutoff := asOf.Add(-recencyWindow)
	n := 0
	for _, tx := range recent {
		if tx.Timestamp.After(cutoff) {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	f := 12 * n
	if f > maxRecencyFactor {
		return maxRecencyFactor
	}
	return f
}

// riskDeduction penalizes near-zero activity and wallets whose observed
// volume is dominated by a single abnormally large transfer.
func riskDeduction(sig Signals) int {
	deduction := 0

	switch {
	case sig.TransactionCount == 0:
		deduction += maxRiskDeduction
	case sig.TransactionCount < 3:
		deduction += 60
	}

	if largest, total := volumeProfile(sig.Recent); total != nil && total.Sign() > 0 {
		// Dominance test: largest transfer is >=60% of window volume
		// and is itself at least 10 ETH.
		threshold := new(big.Int).Mul(largest, big.NewInt(10))
		scaled := new(big.Int).Mul(total, big.NewInt(6))
		tenEth := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
		if threshold.Cmp(scaled) >= 0 && largest.Cmp(tenEth) >= 0 {
			deduction += 50
		}
	}

	if deduction > maxRiskDeduction {
		deduction = maxRiskDeduction
	}
	return deduction
}

// volumeProfile returns the largest single transfer and the total volume
// across the recent window.
func volumeProfile(recent []Transaction) (largest, total *big.Int) {
	largest = new(big.Int)
	total = new(big.Int)
	for _, tx := range recent {
		if tx.ValueWei == nil {
			continue
		}
		total.Add(total, tx.ValueWei)
		if tx.ValueWei.Cmp(largest) > 0 {
			largest = new(big.Int).Set(tx.ValueWei)
		}
	}
	return largest, total
}
