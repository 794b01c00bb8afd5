package attestation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainscore/chainscore/internal/chain"
)

// fakeProvenance returns a fixed chain reference.
type fakeProvenance struct {
	prov *chain.Provenance
	err  error
}

func (f *fakeProvenance) LatestProvenance(context.Context) (*chain.Provenance, error) {
	return f.prov, f.err
}

func bureauServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestBridge_CompleteRun(t *testing.T) {
	var gotSubject, gotAuth string
	srv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get("X-Subject-ID")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"creditScore": 742,
			"paymentHistory": 98,
			"creditUtilization": 23,
			"creditHistoryLength": 11,
			"accountsOpen": 6,
			"recentInquiries": 1,
			"publicRecords": 0,
			"delinquencies": 0,
			"timestamp": 1770000000
		}`))
	})

	prov := &fakeProvenance{prov: &chain.Provenance{BlockNumber: 123456}}
	bridge := NewBridge(NewHTTPSource(time.Second), prov, srv.URL, "secret")

	result, err := bridge.RequestAttestation(context.Background(), "sub_abc", Params{})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "sub_abc", result.Subject)
	assert.True(t, len(result.RequestID) > 4 && result.RequestID[:4] == "att_")
	assert.Equal(t, "sub_abc", gotSubject)
	assert.Equal(t, "Bearer secret", gotAuth)

	assert.EqualValues(t, 742, result.Payload.CreditScore)
	assert.EqualValues(t, 123456, result.Proof.ReferenceBlock)
	assert.Equal(t, result.Payload.Hash(), result.Proof.PayloadHash)
	assert.True(t, Verify(result.Proof.PayloadHash, result.Proof.CommitmentPath, result.Proof.CommitmentRoot),
		"commitment proof must verify")
}

func TestBridge_PayloadStableAcrossRuns(t *testing.T) {
	srv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"creditScore": 700, "paymentHistory": 90, "creditUtilization": 30,
			"creditHistoryLength": 8, "accountsOpen": 4, "recentInquiries": 2,
			"publicRecords": 0, "delinquencies": 1, "timestamp": 1770000000
		}`))
	})

	bridge := NewBridge(NewHTTPSource(time.Second), nil, srv.URL, "")

	first, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{})
	require.NoError(t, err)
	second, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{})
	require.NoError(t, err)

	// Same source data: identical payload hash. Fresh request: distinct
	// request IDs and commitments.
	assert.Equal(t, first.Proof.PayloadHash, second.Proof.PayloadHash)
	assert.NotEqual(t, first.RequestID, second.RequestID)
	assert.NotEqual(t, first.Proof.CommitmentRoot, second.Proof.CommitmentRoot)
}

func TestBridge_SourceDown(t *testing.T) {
	srv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	bridge := NewBridge(NewHTTPSource(time.Second), nil, srv.URL, "")

	_, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable), "got %v", err)
}

func TestBridge_SchemaDrift(t *testing.T) {
	srv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"creditScore": 700}`))
	})

	bridge := NewBridge(NewHTTPSource(time.Second), nil, srv.URL, "")

	_, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaMismatch), "got %v", err)
}

func TestBridge_EndpointOverride(t *testing.T) {
	var defaultHits, overrideHits int
	defaultSrv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		defaultHits++
		w.WriteHeader(http.StatusInternalServerError)
	})
	overrideSrv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		overrideHits++
		_, _ = w.Write([]byte(`{
			"creditScore": 700, "paymentHistory": 90, "creditUtilization": 30,
			"creditHistoryLength": 8, "accountsOpen": 4, "recentInquiries": 2,
			"publicRecords": 0, "delinquencies": 1
		}`))
	})

	bridge := NewBridge(NewHTTPSource(time.Second), nil, defaultSrv.URL, "")

	result, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{Endpoint: overrideSrv.URL})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 0, defaultHits)
	assert.Equal(t, 1, overrideHits)
}

func TestBridge_ProvenanceFallback(t *testing.T) {
	srv := bureauServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"creditScore": 700, "paymentHistory": 90, "creditUtilization": 30,
			"creditHistoryLength": 8, "accountsOpen": 4, "recentInquiries": 2,
			"publicRecords": 0, "delinquencies": 1
		}`))
	})

	prov := &fakeProvenance{err: errors.New("rpc down")}
	bridge := NewBridge(NewHTTPSource(time.Second), prov, srv.URL, "")

	result, err := bridge.RequestAttestation(context.Background(), "sub_x", Params{})
	require.NoError(t, err)

	// Derived reference identifiers still anchor the proof.
	assert.NotZero(t, result.Proof.ReferenceBlock)
	assert.NotZero(t, result.Proof.ReferenceTxID)
}
