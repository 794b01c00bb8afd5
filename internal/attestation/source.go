package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainscore/chainscore/internal/circuitbreaker"
	"github.com/chainscore/chainscore/internal/metrics"
)

// maxSourceResponseSize bounds how much of a source response is read (1MB).
const maxSourceResponseSize = 1 << 20

// Source fetches one JSON document per attestation request.
type Source interface {
	Fetch(ctx context.Context, desc *Descriptor) (map[string]any, error)
}

// HTTPSource calls the configured bureau endpoint over HTTP. Every fetch
// is a single attempt with a bounded timeout; there is no automatic
// retry. A circuit breaker rejects calls fast while the source is down.
type HTTPSource struct {
	client  *http.Client
	breaker *circuitbreaker.Breaker
}

// NewHTTPSource creates an HTTP source with the given per-request timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// Fetch performs the descriptor's request and parses the JSON response.
// Network errors, timeouts, and non-2xx statuses all surface as
// ErrSourceUnavailable.
func (s *HTTPSource) Fetch(ctx context.Context, desc *Descriptor) (map[string]any, error) {
	if !s.breaker.Allow(desc.Endpoint) {
		return nil, fmt.Errorf("%w: circuit open for %s", ErrSourceUnavailable, desc.Endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, desc.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.AttestationSourceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.breaker.RecordFailure(desc.Endpoint)
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.breaker.RecordFailure(desc.Endpoint)
		return nil, fmt.Errorf("%w: source returned status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceResponseSize))
	if err != nil {
		s.breaker.RecordFailure(desc.Endpoint)
		return nil, fmt.Errorf("%w: read response: %v", ErrSourceUnavailable, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		// The source answered but with garbage; that is contract drift,
		// not unavailability.
		s.breaker.RecordSuccess(desc.Endpoint)
		return nil, fmt.Errorf("%w: response is not a JSON object: %v", ErrSchemaMismatch, err)
	}

	s.breaker.RecordSuccess(desc.Endpoint)
	return doc, nil
}
