package score

import (
	"context"
	"time"

	"github.com/chainscore/chainscore/internal/logging"
	"github.com/chainscore/chainscore/internal/metrics"
	"github.com/chainscore/chainscore/internal/retry"
)

// Score fetches activity signals for the wallet and computes its score.
// It never returns an error: if signals cannot be fetched the score falls
// back to the address-derived estimate and is tagged Estimated.
func (c *Calculator) Score(ctx context.Context, address string) Result {
	sig, err := c.fetchSignals(ctx, address)
	if err != nil {
		logging.L(ctx).Warn("activity signals unavailable, using estimated score",
			"address", address, "error", err)
		metrics.ScoreComputationsTotal.WithLabelValues("estimated").Inc()
		return Estimate(address)
	}

	metrics.ScoreComputationsTotal.WithLabelValues("live").Inc()
	return c.FromSignals(address, *sig)
}

// fetchSignals gathers balance, transaction count, and recent transactions.
// Transient RPC failures are retried once; a provider that is down fails
// fast into the estimate path.
func (c *Calculator) fetchSignals(ctx context.Context, address string) (*Signals, error) {
	if c.provider == nil {
		return nil, ErrNoProvider
	}

	var sig Signals
	err := retry.Do(ctx, 2, 200*time.Millisecond, func() error {
		balance, err := c.provider.GetBalance(ctx, address)
		if err != nil {
			return err
		}
		count, err := c.provider.GetTransactionCount(ctx, address)
		if err != nil {
			return err
		}
		recent, err := c.provider.GetRecentTransactions(ctx, address, c.window)
		if err != nil {
			return err
		}
		sig = Signals{
			BalanceWei:       balance,
			TransactionCount: count,
			Recent:           recent,
			AsOf:             time.Now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sig, nil
}
