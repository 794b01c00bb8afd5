// Package attestation bridges external credit-bureau data into a
// verifiable on-chain-consumable payload.
//
// Each request moves through a fixed pipeline:
//
//	Created → APICalled → Transformed → ProofGenerated → Complete
//
// with Failed reachable from any state. The output is an immutable
// Result bundling the transformed payload with hash commitments that let
// a verifier confirm the payload against the commitment root without
// re-fetching the source.
package attestation

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrSourceUnavailable indicates the external source could not be
	// reached or timed out. The bridge never retries; the caller decides.
	ErrSourceUnavailable = errors.New("attestation: source unavailable")

	// ErrSchemaMismatch indicates the source response is missing a
	// required field. Terminal for the request; suggests upstream
	// contract drift.
	ErrSchemaMismatch = errors.New("attestation: source response does not match expected schema")

	// ErrNotFound indicates no attestation exists for the subject.
	ErrNotFound = errors.New("attestation: not found")
)

// State is a stage in the attestation pipeline.
type State string

const (
	StateCreated        State = "created"
	StateAPICalled      State = "api_called"
	StateTransformed    State = "transformed"
	StateProofGenerated State = "proof_generated"
	StateComplete       State = "complete"
	StateFailed         State = "failed"
)

// Payload is the fixed, versioned output schema of the transform step.
// All fields are integers except Timestamp.
type Payload struct {
	CreditScore         int64     `json:"creditScore"`
	PaymentHistory      int64     `json:"paymentHistory"`
	CreditUtilization   int64     `json:"creditUtilization"`
	CreditHistoryLength int64     `json:"creditHistoryLength"`
	AccountsOpen        int64     `json:"accountsOpen"`
	RecentInquiries     int64     `json:"recentInquiries"`
	PublicRecords       int64     `json:"publicRecords"`
	Delinquencies       int64     `json:"delinquencies"`
	Timestamp           time.Time `json:"timestamp"`
}

// Proof is the fixed commitment bundle accompanying a payload.
type Proof struct {
	PayloadHash    common.Hash   `json:"payloadHash"`
	CommitmentRoot common.Hash   `json:"commitmentRoot"`
	CommitmentPath []common.Hash `json:"commitmentPath"`
	ReferenceBlock uint64        `json:"referenceBlock"`
	ReferenceTxID  common.Hash   `json:"referenceTxId"`
}

// Result is the immutable outcome of one completed attestation request.
type Result struct {
	RequestID string    `json:"requestId"`
	Subject   string    `json:"subject"` // the portfolio's external identifier
	State     State     `json:"state"`
	Payload   Payload   `json:"payload"`
	Proof     Proof     `json:"proof"`
	CreatedAt time.Time `json:"createdAt"`
}
