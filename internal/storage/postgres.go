package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/composite"
	"github.com/chainscore/chainscore/internal/portfolio"
)

// PostgresStore is the durable backend.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements portfolio.Store.
var _ portfolio.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the storage tables if they don't exist. The goose
// migrations in migrations/ are the canonical schema; this keeps
// development databases usable without running them.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS portfolios (
			user_id           VARCHAR(36) PRIMARY KEY,
			identity          TEXT NOT NULL,
			external_id       VARCHAR(64) NOT NULL,
			on_chain_score    INTEGER,
			off_chain_score   INTEGER,
			composite_score   INTEGER,
			weight_on_chain   NUMERIC(4,2) NOT NULL DEFAULT 0,
			weight_off_chain  NUMERIC(4,2) NOT NULL DEFAULT 0,
			last_score_update TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_portfolios_identity ON portfolios(LOWER(identity));
		CREATE UNIQUE INDEX IF NOT EXISTS idx_portfolios_external ON portfolios(external_id);

		CREATE TABLE IF NOT EXISTS wallet_links (
			address   VARCHAR(42) PRIMARY KEY,
			user_id   VARCHAR(36) NOT NULL REFERENCES portfolios(user_id),
			score     INTEGER NOT NULL,
			estimated BOOLEAN NOT NULL DEFAULT FALSE,
			linked_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_wallet_links_user ON wallet_links(user_id);

		CREATE TABLE IF NOT EXISTS attestations (
			user_id         VARCHAR(36) PRIMARY KEY REFERENCES portfolios(user_id),
			request_id      VARCHAR(64) NOT NULL,
			subject         VARCHAR(64) NOT NULL,
			credit_score    BIGINT NOT NULL,
			payment_history BIGINT NOT NULL,
			credit_utilization BIGINT NOT NULL,
			credit_history_length BIGINT NOT NULL,
			accounts_open   BIGINT NOT NULL,
			recent_inquiries BIGINT NOT NULL,
			public_records  BIGINT NOT NULL,
			delinquencies   BIGINT NOT NULL,
			payload_ts      TIMESTAMPTZ,
			payload_hash    VARCHAR(66) NOT NULL,
			commitment_root VARCHAR(66) NOT NULL,
			commitment_path TEXT[] NOT NULL,
			reference_block BIGINT NOT NULL,
			reference_tx    VARCHAR(66) NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) receipt() *portfolio.Receipt {
	return &portfolio.Receipt{Backend: BackendPostgres}
}

func (p *PostgresStore) RegisterUser(ctx context.Context, up *portfolio.UserPortfolio) (*portfolio.Receipt, error) {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, identity, external_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, up.UserID, up.Identity, up.ExternalID, up.CreatedAt, up.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, portfolio.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("insert portfolio: %w", err)
	}
	return p.receipt(), nil
}

func (p *PostgresStore) GetPortfolio(ctx context.Context, userID string) (*portfolio.UserPortfolio, error) {
	return p.getBy(ctx, "user_id = $1", userID)
}

func (p *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*portfolio.UserPortfolio, error) {
	return p.getBy(ctx, "external_id = $1", externalID)
}

func (p *PostgresStore) getBy(ctx context.Context, where string, arg any) (*portfolio.UserPortfolio, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT user_id, identity, external_id,
			on_chain_score, off_chain_score, composite_score,
			weight_on_chain, weight_off_chain,
			last_score_update, created_at, updated_at
		FROM portfolios WHERE `+where, arg)

	up, err := scanPortfolio(row)
	if err == sql.ErrNoRows {
		return nil, portfolio.ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT address, score, estimated, linked_at
		FROM wallet_links WHERE user_id = $1
		ORDER BY linked_at ASC
	`, up.UserID)
	if err != nil {
		return nil, fmt.Errorf("list wallet links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var link portfolio.WalletLink
		if err := rows.Scan(&link.Address, &link.Score, &link.Estimated, &link.LinkedAt); err != nil {
			return nil, fmt.Errorf("scan wallet link: %w", err)
		}
		up.Wallets = append(up.Wallets, link)
	}
	return up, rows.Err()
}

func (p *PostgresStore) IsWalletLinked(ctx context.Context, address string) (string, bool, error) {
	var owner string
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id FROM wallet_links WHERE address = $1`,
		strings.ToLower(address),
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("wallet lookup: %w", err)
	}
	return owner, true, nil
}

// LinkWallet claims the address and writes the derived scores in one
// serializable transaction. The primary key on wallet_links makes the
// claim atomic under concurrent attempts.
func (p *PostgresStore) LinkWallet(ctx context.Context, userID string, link *portfolio.WalletLink, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM wallet_links WHERE address = $1`,
		strings.ToLower(link.Address),
	).Scan(&owner)
	if err == nil {
		if owner == userID {
			return nil, portfolio.ErrWalletAlreadyLinked
		}
		return nil, portfolio.ErrWalletLinkedElsewhere
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("check wallet: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_links (address, user_id, score, estimated, linked_at)
		VALUES ($1, $2, $3, $4, $5)
	`, strings.ToLower(link.Address), userID, link.Score, link.Estimated, link.LinkedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, portfolio.ErrWalletLinkedElsewhere
		}
		return nil, fmt.Errorf("insert wallet link: %w", err)
	}

	if err := applyUpdateTx(ctx, tx, userID, update); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit link: %w", err)
	}
	return p.receipt(), nil
}

func (p *PostgresStore) UpdateWalletScore(ctx context.Context, userID, address string, score int, estimated bool, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE wallet_links SET score = $3, estimated = $4
		WHERE address = $1 AND user_id = $2
	`, strings.ToLower(address), userID, score, estimated)
	if err != nil {
		return nil, fmt.Errorf("update wallet score: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, portfolio.ErrWalletNotLinked
	}

	if err := applyUpdateTx(ctx, tx, userID, update); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit refresh: %w", err)
	}
	return p.receipt(), nil
}

func (p *PostgresStore) UpdateOffChainScore(ctx context.Context, userID string, att *attestation.Result, update portfolio.ScoreUpdate) (*portfolio.Receipt, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	path := make([]string, len(att.Proof.CommitmentPath))
	for i, h := range att.Proof.CommitmentPath {
		path[i] = h.Hex()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attestations (
			user_id, request_id, subject,
			credit_score, payment_history, credit_utilization, credit_history_length,
			accounts_open, recent_inquiries, public_records, delinquencies, payload_ts,
			payload_hash, commitment_root, commitment_path, reference_block, reference_tx,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id) DO UPDATE SET
			request_id = EXCLUDED.request_id,
			subject = EXCLUDED.subject,
			credit_score = EXCLUDED.credit_score,
			payment_history = EXCLUDED.payment_history,
			credit_utilization = EXCLUDED.credit_utilization,
			credit_history_length = EXCLUDED.credit_history_length,
			accounts_open = EXCLUDED.accounts_open,
			recent_inquiries = EXCLUDED.recent_inquiries,
			public_records = EXCLUDED.public_records,
			delinquencies = EXCLUDED.delinquencies,
			payload_ts = EXCLUDED.payload_ts,
			payload_hash = EXCLUDED.payload_hash,
			commitment_root = EXCLUDED.commitment_root,
			commitment_path = EXCLUDED.commitment_path,
			reference_block = EXCLUDED.reference_block,
			reference_tx = EXCLUDED.reference_tx,
			created_at = EXCLUDED.created_at
	`,
		userID, att.RequestID, att.Subject,
		att.Payload.CreditScore, att.Payload.PaymentHistory, att.Payload.CreditUtilization,
		att.Payload.CreditHistoryLength, att.Payload.AccountsOpen, att.Payload.RecentInquiries,
		att.Payload.PublicRecords, att.Payload.Delinquencies, nullTimeOrValue(att.Payload.Timestamp),
		att.Proof.PayloadHash.Hex(), att.Proof.CommitmentRoot.Hex(), pq.Array(path),
		int64(att.Proof.ReferenceBlock), att.Proof.ReferenceTxID.Hex(),
		att.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert attestation: %w", err)
	}

	if err := applyUpdateTx(ctx, tx, userID, update); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit attestation: %w", err)
	}
	return p.receipt(), nil
}

func (p *PostgresStore) LatestAttestation(ctx context.Context, userID string) (*attestation.Result, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT request_id, subject,
			credit_score, payment_history, credit_utilization, credit_history_length,
			accounts_open, recent_inquiries, public_records, delinquencies, payload_ts,
			payload_hash, commitment_root, commitment_path, reference_block, reference_tx,
			created_at
		FROM attestations WHERE user_id = $1
	`, userID)

	var att attestation.Result
	var payloadTS sql.NullTime
	var payloadHash, root, refTx string
	var path pq.StringArray
	var refBlock int64

	err := row.Scan(
		&att.RequestID, &att.Subject,
		&att.Payload.CreditScore, &att.Payload.PaymentHistory, &att.Payload.CreditUtilization,
		&att.Payload.CreditHistoryLength, &att.Payload.AccountsOpen, &att.Payload.RecentInquiries,
		&att.Payload.PublicRecords, &att.Payload.Delinquencies, &payloadTS,
		&payloadHash, &root, &path, &refBlock, &refTx,
		&att.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, attestation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attestation: %w", err)
	}

	att.State = attestation.StateComplete
	if payloadTS.Valid {
		att.Payload.Timestamp = payloadTS.Time
	}
	att.Proof.PayloadHash = common.HexToHash(payloadHash)
	att.Proof.CommitmentRoot = common.HexToHash(root)
	att.Proof.CommitmentPath = make([]common.Hash, len(path))
	for i, h := range path {
		att.Proof.CommitmentPath[i] = common.HexToHash(h)
	}
	att.Proof.ReferenceBlock = uint64(refBlock)
	att.Proof.ReferenceTxID = common.HexToHash(refTx)
	return &att, nil
}

func (p *PostgresStore) GetStats(ctx context.Context) (*portfolio.Stats, error) {
	var stats portfolio.Stats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM portfolios),
			(SELECT COUNT(*) FROM wallet_links),
			(SELECT COUNT(*) FROM attestations)
	`).Scan(&stats.Portfolios, &stats.LinkedWallets, &stats.Attestations)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &stats, nil
}

// Ping verifies the database connection.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// applyUpdateTx writes the derived score fields inside a transaction.
func applyUpdateTx(ctx context.Context, tx *sql.Tx, userID string, update portfolio.ScoreUpdate) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET
			on_chain_score    = $2,
			off_chain_score   = $3,
			composite_score   = $4,
			weight_on_chain   = $5,
			weight_off_chain  = $6,
			last_score_update = $7,
			updated_at        = $7
		WHERE user_id = $1
	`,
		userID,
		nullIntOrValue(update.OnChainScore), nullIntOrValue(update.OffChainScore),
		nullIntOrValue(update.CompositeScore),
		update.Weights.OnChain, update.Weights.OffChain,
		update.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update derived scores: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return portfolio.ErrPortfolioNotFound
	}
	return nil
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(row scannable) (*portfolio.UserPortfolio, error) {
	var up portfolio.UserPortfolio
	var onChain, offChain, comp sql.NullInt64
	var wOn, wOff float64
	var lastUpdate sql.NullTime

	err := row.Scan(
		&up.UserID, &up.Identity, &up.ExternalID,
		&onChain, &offChain, &comp,
		&wOn, &wOff,
		&lastUpdate, &up.CreatedAt, &up.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	up.OnChainScore = intOrNil(onChain)
	up.OffChainScore = intOrNil(offChain)
	up.CompositeScore = intOrNil(comp)
	up.Weights = composite.Weights{OnChain: wOn, OffChain: wOff}
	if lastUpdate.Valid {
		up.LastScoreUpdate = lastUpdate.Time
	}
	return &up, nil
}

func intOrNil(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullIntOrValue(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
