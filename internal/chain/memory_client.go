package chain

import (
	"context"
	"encoding/binary"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/chainscore/chainscore/internal/score"
)

// MemoryClient is a deterministic in-memory signal provider for development
// mode and tests. Signals for unseeded wallets are derived from the address
// digest so repeated lookups stay stable; seeded wallets return exactly
// what was seeded.
type MemoryClient struct {
	mu     sync.RWMutex
	seeded map[string]score.Signals
	block  uint64
}

var _ score.SignalProvider = (*MemoryClient)(nil)

// NewMemoryClient creates an empty in-memory provider.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		seeded: make(map[string]score.Signals),
		block:  1_000_000,
	}
}

// Seed installs fixed signals for a wallet.
func (m *MemoryClient) Seed(address string, sig score.Signals) {
	m.mu.Lock()
	m.seeded[strings.ToLower(address)] = sig
	m.mu.Unlock()
}

func (m *MemoryClient) lookup(address string) (score.Signals, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.seeded[strings.ToLower(address)]
	return sig, ok
}

func (m *MemoryClient) GetBalance(_ context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	if sig, ok := m.lookup(address); ok {
		return sig.BalanceWei, nil
	}
	return derived(address).BalanceWei, nil
}

func (m *MemoryClient) GetTransactionCount(_ context.Context, address string) (int, error) {
	if !common.IsHexAddress(address) {
		return 0, ErrInvalidAddress
	}
	if sig, ok := m.lookup(address); ok {
		return sig.TransactionCount, nil
	}
	return derived(address).TransactionCount, nil
}

func (m *MemoryClient) GetRecentTransactions(_ context.Context, address string, _ int) ([]score.Transaction, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	if sig, ok := m.lookup(address); ok {
		return sig.Recent, nil
	}
	return derived(address).Recent, nil
}

// LatestProvenance returns a synthetic advancing block reference.
func (m *MemoryClient) LatestProvenance(_ context.Context) (*Provenance, error) {
	m.mu.Lock()
	m.block++
	n := m.block
	m.mu.Unlock()

	h := crypto.Keccak256Hash(binary.BigEndian.AppendUint64(nil, n))
	return &Provenance{BlockNumber: n, BlockHash: h}, nil
}

// derived fabricates plausible signals from the address digest.
func derived(address string) score.Signals {
	h := crypto.Keccak256([]byte(strings.ToLower(address)))
	seed := binary.BigEndian.Uint64(h[:8])

	txCount := int(seed % 500)
	balance := new(big.Int).Mul(
		big.NewInt(int64(seed%2000)),                   // up to ~20 ETH
		new(big.Int).SetUint64(10_000_000_000_000_000), // 0.01 ETH step
	)

	counterparties := int(seed%40) + 1
	recent := make([]score.Transaction, 0, counterparties)
	now := time.Now().UTC()
	for i := 0; i < counterparties; i++ {
		leaf := crypto.Keccak256(h, []byte{byte(i)})
		recent = append(recent, score.Transaction{
			Hash:         common.BytesToHash(leaf).Hex(),
			Counterparty: common.BytesToAddress(leaf[:20]).Hex(),
			ValueWei:     new(big.Int).SetUint64(binary.BigEndian.Uint64(leaf[:8]) % 1e18),
			Timestamp:    now.Add(-time.Duration(i*36) * time.Hour),
		})
	}

	if txCount < len(recent) {
		txCount = len(recent)
	}

	return score.Signals{
		BalanceWei:       balance,
		TransactionCount: txCount,
		Recent:           recent,
	}
}
