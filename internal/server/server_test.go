package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/chainscore/chainscore/internal/chain"
	"github.com/chainscore/chainscore/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:         "0",
		Env:          "development",
		LogLevel:     "error",
		RPCURL:       "https://sepolia.base.org",
		ChainID:      84532,
		RateLimitRPM: 600,
	}
}

// newTestServer creates a server backed by in-memory storage and a
// synthetic chain client, so no network access happens.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithSignalProvider(chain.NewMemoryClient()))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"POST:/v1/users",
		"GET:/v1/users/:id",
		"GET:/v1/users/:id/score",
		"POST:/v1/users/:id/wallets",
		"POST:/v1/users/:id/wallets/:address/refresh",
		"POST:/v1/users/:id/attestations",
		"GET:/v1/users/:id/attestations/latest",
		"GET:/v1/stats",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end flow against in-memory storage
// ---------------------------------------------------------------------------

func TestUserRegistrationAndWalletLink(t *testing.T) {
	s := newTestServer(t)

	body := `{"identity":"user@example.com"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		Portfolio struct {
			UserID     string `json:"userId"`
			ExternalID string `json:"externalId"`
		} `json:"portfolio"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if created.Portfolio.UserID == "" {
		t.Fatal("Expected userId in registration response")
	}
	if !strings.HasPrefix(created.Portfolio.ExternalID, "sub_") {
		t.Errorf("Expected sub_-prefixed externalId, got %q", created.Portfolio.ExternalID)
	}

	// Duplicate identity is rejected.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/users", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate identity, got %d", w.Code)
	}

	// Link a wallet with an ownership proof.
	linkBody := `{"address":"0xaaaa000000000000000000000000000000000001","ownershipProof":"sig"}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/users/"+created.Portfolio.UserID+"/wallets", strings.NewReader(linkBody))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for wallet link, got %d: %s", w.Code, w.Body.String())
	}

	var linked struct {
		Portfolio struct {
			Wallets []struct {
				Address string `json:"address"`
				Score   int    `json:"score"`
			} `json:"wallets"`
			OnChainScore   *int `json:"onChainScore"`
			CompositeScore *int `json:"compositeScore"`
		} `json:"portfolio"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &linked); err != nil {
		t.Fatalf("Failed to parse link response: %v", err)
	}
	if len(linked.Portfolio.Wallets) != 1 {
		t.Fatalf("Expected 1 linked wallet, got %d", len(linked.Portfolio.Wallets))
	}
	if sc := linked.Portfolio.Wallets[0].Score; sc < 300 || sc > 850 {
		t.Errorf("Wallet trust score %d outside [300,850]", sc)
	}
	if linked.Portfolio.OnChainScore == nil {
		t.Error("Expected onChainScore after linking a wallet")
	}
	if linked.Portfolio.CompositeScore == nil {
		t.Error("Expected compositeScore after linking a wallet")
	}

	// Re-linking the same wallet to the same user is an idempotent 200.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/users/"+created.Portfolio.UserID+"/wallets", strings.NewReader(linkBody))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for idempotent re-link, got %d: %s", w.Code, w.Body.String())
	}

	// Linking without a proof is rejected.
	noProof := `{"address":"0xaaaa000000000000000000000000000000000002"}`
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/users/"+created.Portfolio.UserID+"/wallets", strings.NewReader(noProof))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing proof, got %d", w.Code)
	}
}

func TestWalletConflictAcrossUsers(t *testing.T) {
	s := newTestServer(t)

	createUser := func(identity string) string {
		t.Helper()
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/users", strings.NewReader(`{"identity":"`+identity+`"}`))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("create user: expected 201, got %d", w.Code)
		}
		var resp struct {
			Portfolio struct {
				UserID string `json:"userId"`
			} `json:"portfolio"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return resp.Portfolio.UserID
	}

	userA := createUser("a@example.com")
	userB := createUser("b@example.com")

	linkBody := `{"address":"0xbbbb000000000000000000000000000000000001","ownershipProof":"sig"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/users/"+userA+"/wallets", strings.NewReader(linkBody))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/users/"+userB+"/wallets", strings.NewReader(linkBody))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for wallet linked elsewhere, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
