package attestation

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"time"

	"github.com/chainscore/chainscore/internal/chain"
	"github.com/chainscore/chainscore/internal/idgen"
	"github.com/chainscore/chainscore/internal/logging"
	"github.com/chainscore/chainscore/internal/metrics"
	"github.com/chainscore/chainscore/internal/traces"
)

// ProvenanceProvider supplies the chain reference an attestation anchors
// to. Optional: without one the bridge derives opaque reference
// identifiers from the request itself.
type ProvenanceProvider interface {
	LatestProvenance(ctx context.Context) (*chain.Provenance, error)
}

// Params are per-request source overrides. The zero value uses the
// bridge's configured endpoint.
type Params struct {
	Endpoint string `json:"endpoint,omitempty"`
}

// Bridge executes the attestation pipeline against a configured source.
type Bridge struct {
	source     Source
	provenance ProvenanceProvider
	endpoint   string
	apiKey     string
}

// NewBridge creates a bridge for the configured bureau endpoint.
// provenance may be nil.
func NewBridge(source Source, provenance ProvenanceProvider, endpoint, apiKey string) *Bridge {
	return &Bridge{
		source:     source,
		provenance: provenance,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

// RequestAttestation runs one full pipeline pass for the subject and
// returns the immutable result. Every call is a fresh attestation with a
// fresh request ID and proof; the payload itself is a pure projection of
// the source data, so it is identical across calls while the source data
// is unchanged.
func (b *Bridge) RequestAttestation(ctx context.Context, subject string, params Params) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "attestation.request")
	defer span.End()

	req := &Result{
		RequestID: idgen.WithPrefix("att_"),
		Subject:   subject,
		State:     StateCreated,
		CreatedAt: time.Now().UTC(),
	}
	log := logging.L(ctx).With("request_id", req.RequestID, "subject", subject)

	endpoint := b.endpoint
	if params.Endpoint != "" {
		endpoint = params.Endpoint
	}
	desc := NewDescriptor(endpoint, b.apiKey, subject)

	// Created → APICalled: one fetch, no retry. The caller re-invokes on
	// SourceUnavailable.
	doc, err := b.source.Fetch(ctx, desc)
	if err != nil {
		return nil, b.fail(log, req, err)
	}
	req.State = StateAPICalled

	// APICalled → Transformed
	payload, err := desc.Transform(doc)
	if err != nil {
		return nil, b.fail(log, req, err)
	}
	req.Payload = *payload
	req.State = StateTransformed

	// Transformed → ProofGenerated
	proof, err := b.generateProof(ctx, req)
	if err != nil {
		return nil, b.fail(log, req, err)
	}
	req.Proof = *proof
	req.State = StateProofGenerated

	// ProofGenerated → Complete
	req.State = StateComplete
	metrics.AttestationsTotal.WithLabelValues(string(StateComplete)).Inc()
	log.Info("attestation complete",
		"payload_hash", req.Proof.PayloadHash,
		"commitment_root", req.Proof.CommitmentRoot,
		"reference_block", req.Proof.ReferenceBlock,
	)

	return req, nil
}

// generateProof hashes the canonical payload encoding, commits to it, and
// anchors the commitment to chain provenance.
func (b *Bridge) generateProof(ctx context.Context, req *Result) (*Proof, error) {
	payloadHash := req.Payload.Hash()

	root, path, err := buildCommitment(payloadHash)
	if err != nil {
		return nil, err
	}

	proof := &Proof{
		PayloadHash:    payloadHash,
		CommitmentRoot: root,
		CommitmentPath: path,
	}

	if b.provenance != nil {
		if prov, err := b.provenance.LatestProvenance(ctx); err == nil {
			proof.ReferenceBlock = prov.BlockNumber
			proof.ReferenceTxID = prov.BlockHash
			return proof, nil
		}
		logging.L(ctx).Warn("chain provenance unavailable, using derived reference identifiers",
			"request_id", req.RequestID)
	}

	// Opaque fallback identifiers derived from the request.
	proof.ReferenceBlock = uint64(req.CreatedAt.Unix())
	proof.ReferenceTxID = sha256.Sum256([]byte(req.RequestID))
	return proof, nil
}

// fail marks the request failed and surfaces the pipeline error as-is.
func (b *Bridge) fail(log *slog.Logger, req *Result, err error) error {
	req.State = StateFailed
	metrics.AttestationsTotal.WithLabelValues(string(StateFailed)).Inc()
	log.Warn("attestation failed", "error", err)
	return err
}
