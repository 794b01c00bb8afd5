package portfolio

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainscore/chainscore/internal/attestation"
	"github.com/chainscore/chainscore/internal/security"
)

// Handler provides HTTP endpoints for portfolio operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new portfolio handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the portfolio routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreatePortfolio)
	r.GET("/users/:id", h.GetPortfolio)
	r.GET("/users/:id/score", h.GetScore)
	r.POST("/users/:id/wallets", h.LinkWallet)
	r.POST("/users/:id/wallets/:address/refresh", h.RefreshWallet)
	r.POST("/users/:id/attestations", h.RequestAttestation)
	r.GET("/users/:id/attestations/latest", h.LatestAttestation)
	r.GET("/stats", h.Stats)
}

// CreateRequest is the request body for registering a portfolio.
type CreateRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// LinkRequest is the request body for linking a wallet.
type LinkRequest struct {
	Address        string `json:"address" binding:"required"`
	OwnershipProof string `json:"ownershipProof"`
}

// AttestationRequest optionally overrides the configured source endpoint.
type AttestationRequest struct {
	Endpoint string `json:"endpoint,omitempty"`
}

// CreatePortfolio handles POST /v1/users
func (h *Handler) CreatePortfolio(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "identity is required",
		})
		return
	}

	p, receipt, err := h.service.CreatePortfolio(c.Request.Context(), req.Identity)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"portfolio": p, "write": receipt})
}

// GetPortfolio handles GET /v1/users/:id
func (h *Handler) GetPortfolio(c *gin.Context) {
	p, err := h.service.GetPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": p})
}

// GetScore handles GET /v1/users/:id/score
func (h *Handler) GetScore(c *gin.Context) {
	p, err := h.service.GetPortfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":          p.UserID,
		"onChainScore":    p.OnChainScore,
		"offChainScore":   p.OffChainScore,
		"compositeScore":  p.CompositeScore,
		"weights":         p.Weights,
		"lastScoreUpdate": p.LastScoreUpdate,
	})
}

// LinkWallet handles POST /v1/users/:id/wallets
func (h *Handler) LinkWallet(c *gin.Context) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "address is required",
		})
		return
	}

	p, receipt, err := h.service.LinkWallet(c.Request.Context(), c.Param("id"), req.Address, req.OwnershipProof)
	if err != nil {
		// Idempotent re-link of the same wallet is reported, not failed.
		if errors.Is(err, ErrWalletAlreadyLinked) {
			c.JSON(http.StatusOK, gin.H{"portfolio": p, "alreadyLinked": true})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"portfolio": p, "write": receipt})
}

// RefreshWallet handles POST /v1/users/:id/wallets/:address/refresh
func (h *Handler) RefreshWallet(c *gin.Context) {
	p, receipt, err := h.service.RefreshWallet(c.Request.Context(), c.Param("id"), c.Param("address"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": p, "write": receipt})
}

// RequestAttestation handles POST /v1/users/:id/attestations
func (h *Handler) RequestAttestation(c *gin.Context) {
	var req AttestationRequest
	_ = c.ShouldBindJSON(&req)

	if req.Endpoint != "" {
		if err := security.ValidateEndpointURL(req.Endpoint); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_endpoint",
				"message": err.Error(),
			})
			return
		}
	}

	result, p, receipt, err := h.service.RequestAttestation(c.Request.Context(), c.Param("id"), attestation.Params{Endpoint: req.Endpoint})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"attestation": result,
		"portfolio":   p,
		"write":       receipt,
	})
}

// LatestAttestation handles GET /v1/users/:id/attestations/latest
func (h *Handler) LatestAttestation(c *gin.Context) {
	att, err := h.service.LatestAttestation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attestation": att})
}

// Stats handles GET /v1/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrPortfolioNotFound), errors.Is(err, attestation.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrDuplicateIdentity):
		status, code = http.StatusConflict, "duplicate_identity"
	case errors.Is(err, ErrWalletLinkedElsewhere):
		status, code = http.StatusConflict, "wallet_linked_elsewhere"
	case errors.Is(err, ErrWalletNotLinked):
		status, code = http.StatusNotFound, "wallet_not_linked"
	case errors.Is(err, ErrInvalidAddress):
		status, code = http.StatusBadRequest, "invalid_address"
	case errors.Is(err, ErrIdentityRequired):
		status, code = http.StatusBadRequest, "identity_required"
	case errors.Is(err, ErrProofRequired):
		status, code = http.StatusBadRequest, "proof_required"
	case errors.Is(err, attestation.ErrSourceUnavailable):
		status, code = http.StatusBadGateway, "source_unavailable"
	case errors.Is(err, attestation.ErrSchemaMismatch):
		status, code = http.StatusBadGateway, "schema_mismatch"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
