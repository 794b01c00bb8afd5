// Package portfolio maintains per-user portfolios of linked wallets and
// their aggregated credit scores.
//
// A portfolio carries three derived scores: the on-chain score (mean of
// linked wallet scores), the off-chain score (set only by a completed
// attestation), and the composite blend of the two. The derived fields
// are never set directly; every mutation recomputes them.
package portfolio

import (
	"context"
	"errors"
	"time"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/composite"
)

var (
	ErrPortfolioNotFound     = errors.New("portfolio: not found")
	ErrIdentityRequired      = errors.New("portfolio: identity is required")
	ErrDuplicateIdentity     = errors.New("portfolio: identity already registered")
	ErrInvalidAddress        = errors.New("portfolio: invalid wallet address")
	ErrProofRequired         = errors.New("portfolio: ownership proof required")
	ErrWalletLinkedElsewhere = errors.New("portfolio: wallet is linked to another portfolio")
	ErrWalletAlreadyLinked   = errors.New("portfolio: wallet is already linked to this portfolio")
	ErrWalletNotLinked       = errors.New("portfolio: wallet is not linked to this portfolio")
)

// IsBusinessError reports whether err is a business-rule violation rather
// than an infrastructure failure. Business errors must propagate to the
// caller unchanged regardless of which storage backend served the call.
func IsBusinessError(err error) bool {
	for _, sentinel := range []error{
		ErrPortfolioNotFound,
		ErrIdentityRequired,
		ErrDuplicateIdentity,
		ErrInvalidAddress,
		ErrProofRequired,
		ErrWalletLinkedElsewhere,
		ErrWalletAlreadyLinked,
		ErrWalletNotLinked,
		attestation.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// WalletLink is one wallet inside a portfolio. Score is computed at link
// time and never silently recomputed; a refresh is an explicit operation.
type WalletLink struct {
	Address          string    `json:"address"`
	LinkedAt         time.Time `json:"linkedAt"`
	Score            int       `json:"score"`
	Estimated        bool      `json:"estimated"`
	ProofOfOwnership string    `json:"-"` // opaque caller-supplied capability, not persisted in responses
}

// UserPortfolio is the aggregate root: one user, their linked wallets,
// and the derived scores.
type UserPortfolio struct {
	UserID          string            `json:"userId"`
	Identity        string            `json:"identity"`   // caller-supplied stable handle, unique
	ExternalID      string            `json:"externalId"` // generated attestation subject, immutable
	Wallets         []WalletLink      `json:"wallets"`    // insertion order = linking order
	OnChainScore    *int              `json:"onChainScore"`
	OffChainScore   *int              `json:"offChainScore"`
	CompositeScore  *int              `json:"compositeScore"`
	Weights         composite.Weights `json:"weights"`
	LastScoreUpdate time.Time         `json:"lastScoreUpdate"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// HasWallet reports whether the portfolio already holds the address
// (case-insensitive).
func (p *UserPortfolio) HasWallet(address string) bool {
	for _, w := range p.Wallets {
		if equalAddress(w.Address, address) {
			return true
		}
	}
	return false
}

// ScoreUpdate carries the recomputed derived fields accompanying a
// mutation. Stores persist the mutation and the update atomically so a
// reader never observes a link without its aggregate recomputation.
type ScoreUpdate struct {
	OnChainScore   *int
	OffChainScore  *int
	CompositeScore *int
	Weights        composite.Weights
	UpdatedAt      time.Time
}

// Receipt describes which backend served a write. Degraded is true when
// the durable backend failed and the volatile backend absorbed the write.
type Receipt struct {
	Backend  string `json:"backend"`
	Degraded bool   `json:"degraded"`
}

// Stats are operational counts across the whole store.
type Stats struct {
	Portfolios     int `json:"portfolios"`
	LinkedWallets  int `json:"linkedWallets"`
	Attestations   int `json:"attestations"`
	DegradedWrites int `json:"degradedWrites"`
}

// Store is the storage capability the engine operates against. Two
// interchangeable backends exist (durable Postgres, volatile memory)
// plus a failover wrapper; the engine is agnostic to which is active.
type Store interface {
	RegisterUser(ctx context.Context, p *UserPortfolio) (*Receipt, error)
	GetPortfolio(ctx context.Context, userID string) (*UserPortfolio, error)
	GetByExternalID(ctx context.Context, externalID string) (*UserPortfolio, error)

	// IsWalletLinked returns the owning user ID if the address is linked
	// anywhere, case-insensitively.
	IsWalletLinked(ctx context.Context, address string) (ownerID string, linked bool, err error)

	// LinkWallet atomically claims the address system-wide, appends the
	// link, and persists the score update. Returns
	// ErrWalletLinkedElsewhere if another portfolio holds the address,
	// ErrWalletAlreadyLinked if this one does.
	LinkWallet(ctx context.Context, userID string, link *WalletLink, update ScoreUpdate) (*Receipt, error)

	// UpdateWalletScore replaces one linked wallet's score (explicit
	// refresh) together with the recomputed aggregates.
	UpdateWalletScore(ctx context.Context, userID, address string, score int, estimated bool, update ScoreUpdate) (*Receipt, error)

	// UpdateOffChainScore attaches a completed attestation result and
	// persists the recomputed scores in one write.
	UpdateOffChainScore(ctx context.Context, userID string, att *attestation.Result, update ScoreUpdate) (*Receipt, error)

	// LatestAttestation returns the most recent attestation result for
	// the user, or attestation.ErrNotFound.
	LatestAttestation(ctx context.Context, userID string) (*attestation.Result, error)

	GetStats(ctx context.Context) (*Stats, error)
}
