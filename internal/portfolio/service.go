package portfolio

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/composite"
	"github.com/chainscore/chainscore/internal/idgen"
	"github.com/chainscore/chainscore/internal/logging"
	"github.com/chainscore/chainscore/internal/metrics"
	"github.com/chainscore/chainscore/internal/score"
	"github.com/chainscore/chainscore/internal/syncutil"
	"github.com/chainscore/chainscore/internal/traces"
	"github.com/chainscore/chainscore/internal/validation"
)

// Bridge requests off-chain attestations. attestation.Bridge implements it.
type Bridge interface {
	RequestAttestation(ctx context.Context, subject string, params attestation.Params) (*attestation.Result, error)
}

// Service provides portfolio business logic. Operations on the same
// portfolio are serialized through a per-user lock; operations on
// different portfolios run in parallel.
type Service struct {
	store  Store
	calc   *score.Calculator
	bridge Bridge
	locks  *syncutil.ContextShardedMutex
}

// NewService creates a portfolio service.
func NewService(store Store, calc *score.Calculator, bridge Bridge) *Service {
	return &Service{
		store:  store,
		calc:   calc,
		bridge: bridge,
		locks:  syncutil.NewContextShardedMutex(),
	}
}

// CreatePortfolio registers a new user portfolio for the given identity
// handle. The external identifier (attestation subject) is generated once
// here and never changes.
func (s *Service) CreatePortfolio(ctx context.Context, identity string) (*UserPortfolio, *Receipt, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, nil, ErrIdentityRequired
	}

	now := time.Now().UTC()
	p := &UserPortfolio{
		UserID:     idgen.New(),
		Identity:   identity,
		ExternalID: idgen.WithPrefix("sub_"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	receipt, err := s.store.RegisterUser(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	metrics.PortfoliosGauge.Inc()
	logging.L(ctx).Info("portfolio created", "user_id", p.UserID, "external_id", p.ExternalID)
	return p, receipt, nil
}

// LinkWallet validates the address and ownership proof, computes the
// wallet's score, and links it to the portfolio. The on-chain aggregate
// and composite are recomputed and persisted atomically with the link,
// before this method returns.
//
// Linking an address already in this portfolio is idempotent: the
// portfolio is returned unchanged alongside ErrWalletAlreadyLinked.
func (s *Service) LinkWallet(ctx context.Context, userID, address, ownershipProof string) (*UserPortfolio, *Receipt, error) {
	ctx, span := traces.StartSpan(ctx, "portfolio.link_wallet", traces.UserID(userID))
	defer span.End()

	if strings.TrimSpace(ownershipProof) == "" {
		metrics.WalletLinksTotal.WithLabelValues("invalid").Inc()
		return nil, nil, ErrProofRequired
	}
	address = validation.SanitizeAddress(address)
	if !validation.IsValidEthAddress(address) {
		metrics.WalletLinksTotal.WithLabelValues("invalid").Inc()
		return nil, nil, ErrInvalidAddress
	}
	span.SetAttributes(traces.WalletAddr(address))

	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	if p.HasWallet(address) {
		metrics.WalletLinksTotal.WithLabelValues("already_linked").Inc()
		return p, nil, ErrWalletAlreadyLinked
	}

	// Advisory fast path; the store re-checks atomically on write.
	if owner, linked, err := s.store.IsWalletLinked(ctx, address); err == nil && linked && owner != userID {
		metrics.WalletLinksTotal.WithLabelValues("conflict").Inc()
		return nil, nil, ErrWalletLinkedElsewhere
	}

	result := s.calc.Score(ctx, address)
	link := &WalletLink{
		Address:          address,
		LinkedAt:         time.Now().UTC(),
		Score:            result.Value,
		Estimated:        result.Estimated,
		ProofOfOwnership: ownershipProof,
	}

	scores := append(walletScores(p.Wallets), link.Score)
	update := s.recompute(meanScore(scores), p.OffChainScore)

	receipt, err := s.store.LinkWallet(ctx, userID, link, update)
	if err != nil {
		if err == ErrWalletLinkedElsewhere {
			metrics.WalletLinksTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.WalletLinksTotal.WithLabelValues("error").Inc()
		}
		return nil, nil, err
	}

	metrics.WalletLinksTotal.WithLabelValues("linked").Inc()
	metrics.LinkedWalletsGauge.Inc()
	logging.L(ctx).Info("wallet linked",
		"user_id", userID,
		"address", address,
		"score", link.Score,
		"estimated", link.Estimated,
	)

	refreshed, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, receipt, err
	}
	return refreshed, receipt, nil
}

// RefreshWallet recomputes the score of one already-linked wallet. This
// is the explicit re-link operation; scores are never refreshed
// automatically.
func (s *Service) RefreshWallet(ctx context.Context, userID, address string) (*UserPortfolio, *Receipt, error) {
	address = validation.SanitizeAddress(address)
	if !validation.IsValidEthAddress(address) {
		return nil, nil, ErrInvalidAddress
	}

	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !p.HasWallet(address) {
		return nil, nil, ErrWalletNotLinked
	}

	result := s.calc.Score(ctx, address)

	scores := make([]int, 0, len(p.Wallets))
	for _, w := range p.Wallets {
		if equalAddress(w.Address, address) {
			scores = append(scores, result.Value)
		} else {
			scores = append(scores, w.Score)
		}
	}
	update := s.recompute(meanScore(scores), p.OffChainScore)

	receipt, err := s.store.UpdateWalletScore(ctx, userID, address, result.Value, result.Estimated, update)
	if err != nil {
		return nil, nil, err
	}

	refreshed, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, receipt, err
	}
	return refreshed, receipt, nil
}

// RequestAttestation runs the attestation bridge for the portfolio's
// external identity and, on success, atomically persists the off-chain
// score, the attestation result, and the recomputed composite. A failed
// attestation leaves the portfolio untouched.
func (s *Service) RequestAttestation(ctx context.Context, userID string, params attestation.Params) (*attestation.Result, *UserPortfolio, *Receipt, error) {
	ctx, span := traces.StartSpan(ctx, "portfolio.request_attestation", traces.UserID(userID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	defer unlock()

	p, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}

	result, err := s.bridge.RequestAttestation(ctx, p.ExternalID, params)
	if err != nil {
		return nil, nil, nil, err
	}
	span.SetAttributes(
		traces.RequestID(result.RequestID),
		traces.AttestationState(string(result.State)),
	)

	offChain := score.Clamp(int(result.Payload.CreditScore))
	update := s.recompute(p.OnChainScore, &offChain)

	receipt, err := s.store.UpdateOffChainScore(ctx, userID, result, update)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persist attestation: %w", err)
	}

	logging.L(ctx).Info("off-chain score updated",
		"user_id", userID,
		"request_id", result.RequestID,
		"off_chain_score", offChain,
	)

	refreshed, err := s.store.GetPortfolio(ctx, userID)
	if err != nil {
		return result, nil, receipt, err
	}
	return result, refreshed, receipt, nil
}

// GetPortfolio returns a portfolio by user ID.
func (s *Service) GetPortfolio(ctx context.Context, userID string) (*UserPortfolio, error) {
	return s.store.GetPortfolio(ctx, userID)
}

// GetByExternalID returns a portfolio by its attestation subject.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*UserPortfolio, error) {
	return s.store.GetByExternalID(ctx, externalID)
}

// LatestAttestation returns the user's most recent attestation result.
func (s *Service) LatestAttestation(ctx context.Context, userID string) (*attestation.Result, error) {
	return s.store.LatestAttestation(ctx, userID)
}

// Stats returns operational counts and refreshes the related gauges.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	metrics.PortfoliosGauge.Set(float64(stats.Portfolios))
	metrics.LinkedWalletsGauge.Set(float64(stats.LinkedWallets))
	return stats, nil
}

// recompute derives the full score update from the two signals.
func (s *Service) recompute(onChain, offChain *int) ScoreUpdate {
	blend := composite.Compose(onChain, offChain)
	metrics.CompositeRecomputesTotal.Inc()
	return ScoreUpdate{
		OnChainScore:   onChain,
		OffChainScore:  offChain,
		CompositeScore: blend.Score,
		Weights:        blend.Weights,
		UpdatedAt:      time.Now().UTC(),
	}
}

// meanScore is the equal-weight aggregation rule: the arithmetic mean of
// all linked wallet scores, rounded. Every wallet counts the same
// regardless of recency or size; callers rely on this for predictability.
// Returns nil for an empty set.
func meanScore(scores []int) *int {
	if len(scores) == 0 {
		return nil
	}
	sum := 0
	for _, v := range scores {
		sum += v
	}
	mean := int(math.Round(float64(sum) / float64(len(scores))))
	return &mean
}

func walletScores(wallets []WalletLink) []int {
	scores := make([]int, 0, len(wallets))
	for _, w := range wallets {
		scores = append(scores, w.Score)
	}
	return scores
}

func equalAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
