package storage

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/metrics"
	"github.com/chainscore/chainscore/internal/portfolio"
)

// Failover serves calls from the durable backend and falls back to the
// volatile backend when the durable one fails for an infrastructure
// reason. Writes served by the fallback carry Degraded=true so callers
// can distinguish authoritative from best-effort persistence.
// Business-rule errors propagate unchanged regardless of backend.
type Failover struct {
	durable  portfolio.Store
	volatile portfolio.Store
	logger   *slog.Logger

	degradedWrites atomic.Int64
}

// Compile-time check that Failover implements portfolio.Store.
var _ portfolio.Store = (*Failover)(nil)

// NewFailover wraps a durable primary with a volatile fallback.
func NewFailover(durable, volatile portfolio.Store, logger *slog.Logger) *Failover {
	return &Failover{durable: durable, volatile: volatile, logger: logger}
}

// shouldFallback reports whether the durable-backend error warrants a
// retry against the volatile backend. Only infrastructure failures
// qualify; a duplicate wallet is a duplicate wallet on any backend.
func (f *Failover) shouldFallback(err error) bool {
	return err != nil && !portfolio.IsBusinessError(err)
}

// write runs a mutating call against the durable backend, retrying once
// against the volatile backend on infrastructure failure.
func (f *Failover) write(ctx context.Context, op string, fn func(portfolio.Store) (*portfolio.Receipt, error)) (*portfolio.Receipt, error) {
	receipt, err := fn(f.durable)
	if !f.shouldFallback(err) {
		return receipt, err
	}

	f.logger.Warn("durable backend failed, degrading to volatile store",
		"op", op, "error", err)

	receipt, verr := fn(f.volatile)
	if verr != nil {
		// Fallback also failed; surface the original durable error.
		return nil, err
	}

	f.degradedWrites.Add(1)
	metrics.DegradedWritesTotal.WithLabelValues(op).Inc()
	receipt.Degraded = true
	return receipt, nil
}

// read runs a read against the durable backend, falling back on
// infrastructure failure.
func readFallback[T any](f *Failover, fn func(portfolio.Store) (T, error)) (T, error) {
	v, err := fn(f.durable)
	if !f.shouldFallback(err) {
		return v, err
	}
	return fn(f.volatile)
}

func (f *Failover) RegisterUser(ctx context.Context, p *portfolio.UserPortfolio) (*portfolio.Receipt, error) {
	return f.write(ctx, "register_user", func(s portfolio.Store) (*portfolio.Receipt, error) {
		return s.RegisterUser(ctx, p)
	})
}

func (f *Failover) LinkWallet(ctx context.Context, userID string, link *portfolio.WalletLink, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	return f.write(ctx, "link_wallet", func(s portfolio.Store) (*portfolio.Receipt, error) {
		return s.LinkWallet(ctx, userID, link, update)
	})
}

func (f *Failover) UpdateWalletScore(ctx context.Context, userID, address string, score int, estimated bool, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	return f.write(ctx, "update_wallet_score", func(s portfolio.Store) (*portfolio.Receipt, error) {
		return s.UpdateWalletScore(ctx, userID, address, score, estimated, update)
	})
}

func (f *Failover) UpdateOffChainScore(ctx context.Context, userID string, att *attestation.Result, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	return f.write(ctx, "update_off_chain_score", func(s portfolio.Store) (*portfolio.Receipt, error) {
		return s.UpdateOffChainScore(ctx, userID, att, update)
	})
}

func (f *Failover) GetPortfolio(ctx context.Context, userID string) (*portfolio.UserPortfolio, error) {
	return readFallback(f, func(s portfolio.Store) (*portfolio.UserPortfolio, error) {
		return s.GetPortfolio(ctx, userID)
	})
}

func (f *Failover) GetByExternalID(ctx context.Context, externalID string) (*portfolio.UserPortfolio, error) {
	return readFallback(f, func(s portfolio.Store) (*portfolio.UserPortfolio, error) {
		return s.GetByExternalID(ctx, externalID)
	})
}

func (f *Failover) IsWalletLinked(ctx context.Context, address string) (string, bool, error) {
	owner, linked, err := f.durable.IsWalletLinked(ctx, address)
	if !f.shouldFallback(err) {
		return owner, linked, err
	}
	return f.volatile.IsWalletLinked(ctx, address)
}

func (f *Failover) LatestAttestation(ctx context.Context, userID string) (*attestation.Result, error) {
	return readFallback(f, func(s portfolio.Store) (*attestation.Result, error) {
		return s.LatestAttestation(ctx, userID)
	})
}

func (f *Failover) GetStats(ctx context.Context) (*portfolio.Stats, error) {
	stats, err := readFallback(f, func(s portfolio.Store) (*portfolio.Stats, error) {
		return s.GetStats(ctx)
	})
	if err != nil {
		return nil, err
	}
	stats.DegradedWrites = int(f.degradedWrites.Load())
	return stats, nil
}
