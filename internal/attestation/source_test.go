package attestation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPSource_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	source := NewHTTPSource(time.Second)
	desc := NewDescriptor(srv.URL, "", "sub_x")

	// Five consecutive failures trip the breaker.
	for i := 0; i < 5; i++ {
		if _, err := source.Fetch(context.Background(), desc); !errors.Is(err, ErrSourceUnavailable) {
			t.Fatalf("fetch %d: expected ErrSourceUnavailable, got %v", i, err)
		}
	}
	if hits != 5 {
		t.Fatalf("expected 5 upstream hits, got %d", hits)
	}

	// Sixth call is rejected fast without touching the source.
	_, err := source.Fetch(context.Background(), desc)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if hits != 5 {
		t.Errorf("open circuit still reached the source (%d hits)", hits)
	}
}

func TestHTTPSource_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	source := NewHTTPSource(20 * time.Millisecond)
	desc := NewDescriptor(srv.URL, "", "sub_x")

	start := time.Now()
	_, err := source.Fetch(context.Background(), desc)
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("fetch took %v, timeout not enforced", elapsed)
	}
}

func TestHTTPSource_NonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	source := NewHTTPSource(time.Second)
	desc := NewDescriptor(srv.URL, "", "sub_x")

	_, err := source.Fetch(context.Background(), desc)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestHTTPSource_ResponseSizeBounded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Valid JSON prefix followed by padding beyond the read limit.
		_, _ = w.Write([]byte(`{"creditScore": 1, "pad": "`))
		_, _ = w.Write([]byte(strings.Repeat("x", maxSourceResponseSize)))
		_, _ = w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	source := NewHTTPSource(5 * time.Second)
	desc := NewDescriptor(srv.URL, "", "sub_x")

	// The truncated read is not valid JSON; the request must fail rather
	// than buffer the whole body.
	_, err := source.Fetch(context.Background(), desc)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
