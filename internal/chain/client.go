// Package chain reads wallet activity signals from an Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainscore/chainscore/internal/score"
)

var (
	ErrInvalidAddress = errors.New("chain: invalid address")
	ErrRPCConnection  = errors.New("chain: RPC connection failed")
)

// maxScanBlocks bounds how far back GetRecentTransactions will walk.
// Full-history indexing is an indexer's job, not this client's.
const maxScanBlocks = 512

// maxRecentTxns caps the number of transactions collected per lookup.
const maxRecentTxns = 200

// Provenance identifies the chain state an attestation references.
type Provenance struct {
	BlockNumber uint64
	BlockHash   common.Hash
}

// Client implements score.SignalProvider against an Ethereum node.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	signer  types.Signer
}

// Compile-time check that Client implements score.SignalProvider.
var _ score.SignalProvider = (*Client)(nil)

// Dial connects to the RPC endpoint and verifies the chain ID.
func Dial(ctx context.Context, rpcURL string, chainID int64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}

	id := big.NewInt(chainID)
	if remote, err := eth.ChainID(ctx); err == nil && remote.Cmp(id) != 0 {
		eth.Close()
		return nil, fmt.Errorf("chain: chain ID mismatch: configured %d, node reports %s", chainID, remote)
	}

	return &Client{
		eth:     eth,
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
	}, nil
}

// GetBalance returns the wallet's current balance in wei.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	balance, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance lookup: %w", err)
	}
	return balance, nil
}

// GetTransactionCount returns the wallet's outgoing transaction count (nonce).
func (c *Client) GetTransactionCount(ctx context.Context, address string) (int, error) {
	if !common.IsHexAddress(address) {
		return 0, ErrInvalidAddress
	}
	nonce, err := c.eth.NonceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, fmt.Errorf("chain: nonce lookup: %w", err)
	}
	return int(nonce), nil
}

// GetRecentTransactions walks backwards over at most window blocks and
// collects transactions involving the address. window is clamped to
// maxScanBlocks; the result is capped at maxRecentTxns entries.
func (c *Client) GetRecentTransactions(ctx context.Context, address string, window int) ([]score.Transaction, error) {
	if !common.IsHexAddress(address) {
		return nil, ErrInvalidAddress
	}
	if window <= 0 || window > maxScanBlocks {
		window = maxScanBlocks
	}

	addr := common.HexToAddress(address)

	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: head lookup: %w", err)
	}

	from := int64(head) - int64(window)
	if from < 0 {
		from = 0
	}

	var result []score.Transaction
	for n := int64(head); n >= from && len(result) < maxRecentTxns; n-- {
		block, err := c.eth.BlockByNumber(ctx, big.NewInt(n))
		if err != nil {
			return nil, fmt.Errorf("chain: block %d: %w", n, err)
		}
		ts := time.Unix(int64(block.Time()), 0).UTC()

		for _, tx := range block.Transactions() {
			counterparty, ok := c.counterpartyOf(tx, addr)
			if !ok {
				continue
			}
			result = append(result, score.Transaction{
				Hash:         tx.Hash().Hex(),
				Counterparty: counterparty,
				ValueWei:     tx.Value(),
				Timestamp:    ts,
			})
			if len(result) >= maxRecentTxns {
				break
			}
		}
	}

	return result, nil
}

// counterpartyOf returns the other side of a transaction touching addr,
// or ok=false if the transaction does not involve addr.
func (c *Client) counterpartyOf(tx *types.Transaction, addr common.Address) (string, bool) {
	to := tx.To()
	sender, err := types.Sender(c.signer, tx)
	if err != nil {
		return "", false
	}

	if sender == addr {
		if to == nil {
			return "", true // contract creation, no counterparty
		}
		return to.Hex(), true
	}
	if to != nil && *to == addr {
		return sender.Hex(), true
	}
	return "", false
}

// LatestProvenance returns the current head block number and hash for use
// as attestation reference identifiers.
func (c *Client) LatestProvenance(ctx context.Context) (*Provenance, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: header lookup: %w", err)
	}
	return &Provenance{
		BlockNumber: header.Number.Uint64(),
		BlockHash:   header.Hash(),
	}, nil
}

// Ping verifies the node is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.eth.BlockNumber(ctx)
	return err
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
