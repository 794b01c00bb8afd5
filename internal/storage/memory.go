// Package storage provides the interchangeable persistence backends for
// portfolios: a durable Postgres store, a volatile in-memory store, and a
// failover wrapper that degrades from the former to the latter.
package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/portfolio"
)

// Backend names reported in write receipts.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// MemoryStore is the volatile backend. It is the development default and
// the failover target when the durable backend is unreachable.
type MemoryStore struct {
	mu           sync.RWMutex
	portfolios   map[string]*portfolio.UserPortfolio // by userID
	byIdentity   map[string]string                   // identity → userID
	byExternalID map[string]string                   // externalID → userID
	walletOwner  map[string]string                   // lowercased address → userID
	attestations map[string]*attestation.Result      // userID → latest result
}

// Compile-time check that MemoryStore implements portfolio.Store.
var _ portfolio.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty volatile store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios:   make(map[string]*portfolio.UserPortfolio),
		byIdentity:   make(map[string]string),
		byExternalID: make(map[string]string),
		walletOwner:  make(map[string]string),
		attestations: make(map[string]*attestation.Result),
	}
}

func (m *MemoryStore) receipt() *portfolio.Receipt {
	return &portfolio.Receipt{Backend: BackendMemory}
}

func (m *MemoryStore) RegisterUser(ctx context.Context, p *portfolio.UserPortfolio) (*portfolio.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byIdentity[strings.ToLower(p.Identity)]; ok {
		return nil, portfolio.ErrDuplicateIdentity
	}
	if _, ok := m.byExternalID[p.ExternalID]; ok {
		return nil, portfolio.ErrDuplicateIdentity
	}

	cp := clonePortfolio(p)
	m.portfolios[p.UserID] = cp
	m.byIdentity[strings.ToLower(p.Identity)] = p.UserID
	m.byExternalID[p.ExternalID] = p.UserID
	return m.receipt(), nil
}

func (m *MemoryStore) GetPortfolio(ctx context.Context, userID string) (*portfolio.UserPortfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.portfolios[userID]
	if !ok {
		return nil, portfolio.ErrPortfolioNotFound
	}
	return clonePortfolio(p), nil
}

func (m *MemoryStore) GetByExternalID(ctx context.Context, externalID string) (*portfolio.UserPortfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	userID, ok := m.byExternalID[externalID]
	if !ok {
		return nil, portfolio.ErrPortfolioNotFound
	}
	return clonePortfolio(m.portfolios[userID]), nil
}

func (m *MemoryStore) IsWalletLinked(ctx context.Context, address string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.walletOwner[strings.ToLower(address)]
	return owner, ok, nil
}

// LinkWallet claims the address under the store lock, which makes the
// check-and-set atomic: concurrent link attempts for the same address
// serialize here and exactly one wins.
func (m *MemoryStore) LinkWallet(ctx context.Context, userID string, link *portfolio.WalletLink, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.portfolios[userID]
	if !ok {
		return nil, portfolio.ErrPortfolioNotFound
	}

	key := strings.ToLower(link.Address)
	if owner, claimed := m.walletOwner[key]; claimed {
		if owner == userID {
			return nil, portfolio.ErrWalletAlreadyLinked
		}
		return nil, portfolio.ErrWalletLinkedElsewhere
	}

	m.walletOwner[key] = userID
	p.Wallets = append(p.Wallets, *link)
	applyUpdate(p, update)
	return m.receipt(), nil
}

func (m *MemoryStore) UpdateWalletScore(ctx context.Context, userID, address string, score int, estimated bool, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.portfolios[userID]
	if !ok {
		return nil, portfolio.ErrPortfolioNotFound
	}

	for i := range p.Wallets {
		if strings.EqualFold(p.Wallets[i].Address, address) {
			p.Wallets[i].Score = score
			p.Wallets[i].Estimated = estimated
			applyUpdate(p, update)
			return m.receipt(), nil
		}
	}
	return nil, portfolio.ErrWalletNotLinked
}

func (m *MemoryStore) UpdateOffChainScore(ctx context.Context, userID string, att *attestation.Result, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.portfolios[userID]
	if !ok {
		return nil, portfolio.ErrPortfolioNotFound
	}

	cp := *att
	m.attestations[userID] = &cp
	applyUpdate(p, update)
	return m.receipt(), nil
}

func (m *MemoryStore) LatestAttestation(ctx context.Context, userID string) (*attestation.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	att, ok := m.attestations[userID]
	if !ok {
		return nil, attestation.ErrNotFound
	}
	cp := *att
	return &cp, nil
}

func (m *MemoryStore) GetStats(ctx context.Context) (*portfolio.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &portfolio.Stats{
		Portfolios:    len(m.portfolios),
		LinkedWallets: len(m.walletOwner),
		Attestations:  len(m.attestations),
	}, nil
}

// applyUpdate writes the derived fields onto the stored portfolio.
func applyUpdate(p *portfolio.UserPortfolio, update portfolio.ScoreUpdate) {
	p.OnChainScore = update.OnChainScore
	p.OffChainScore = update.OffChainScore
	p.CompositeScore = update.CompositeScore
	p.Weights = update.Weights
	p.LastScoreUpdate = update.UpdatedAt
	p.UpdatedAt = update.UpdatedAt
}

// clonePortfolio deep-copies a portfolio so callers cannot mutate stored
// state through the returned pointer.
func clonePortfolio(p *portfolio.UserPortfolio) *portfolio.UserPortfolio {
	cp := *p
	cp.Wallets = make([]portfolio.WalletLink, len(p.Wallets))
	copy(cp.Wallets, p.Wallets)
	return &cp
}
