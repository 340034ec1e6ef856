package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"coverx/internal/repository"
	"coverx/internal/waterfall"
)

type ProductHandler struct {
	Repo       repository.Repository
	Engine     *waterfall.Engine
	Governance *waterfall.Governance
}

func (h *ProductHandler) Register(r *gin.Engine) {
	p := r.Group("/api/v1/products")
	p.GET("", h.list)
	p.GET("/:event_id", h.get)
	p.POST("/:event_id/settle", h.settle)
	p.PUT("/:event_id/layer", h.setLayer)

	g := r.Group("/api/v1/governance")
	g.POST("/proposals", h.propose)
	g.POST("/proposals/:id/apply", h.apply)
	g.GET("/proposals", h.pending)
}

func (h *ProductHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	activeOnly := c.Query("active") == "true"
	items, err := h.Repo.ListProducts(c.Request.Context(), activeOnly)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *ProductHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	eventID := c.Param("event_id")
	product, err := h.Repo.GetProduct(c.Request.Context(), eventID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if product == nil {
		Error(c, http.StatusNotFound, "product not found", nil)
		return
	}
	state, err := h.Repo.GetProductState(c.Request.Context(), eventID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"product": product, "state": state}, nil)
}

func (h *ProductHandler) settle(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	if err := h.Engine.SettleEvent(c.Request.Context(), c.Param("event_id")); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"settled": true}, nil)
}

type layerRequest struct {
	Limit decimal.Decimal `json:"limit"`
}

func (h *ProductHandler) setLayer(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	var req layerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Engine.SetSeniorLayer(c.Request.Context(), c.Param("event_id"), req.Limit); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"limit": req.Limit}, nil)
}

type proposeRequest struct {
	Kind       string          `json:"kind" binding:"required"`
	Payload    json.RawMessage `json:"payload" binding:"required"`
	ProposedBy string          `json:"proposed_by"`
}

func (h *ProductHandler) propose(c *gin.Context) {
	if h.Governance == nil {
		Error(c, http.StatusServiceUnavailable, "governance unavailable", nil)
		return
	}
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	id, err := h.Governance.Propose(c.Request.Context(), req.Kind, req.Payload, req.ProposedBy)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"id": id}, nil)
}

func (h *ProductHandler) apply(c *gin.Context) {
	if h.Governance == nil {
		Error(c, http.StatusServiceUnavailable, "governance unavailable", nil)
		return
	}
	if err := h.Governance.Apply(c.Request.Context(), c.Param("id")); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"applied": true}, nil)
}

func (h *ProductHandler) pending(c *gin.Context) {
	if h.Governance == nil {
		Error(c, http.StatusServiceUnavailable, "governance unavailable", nil)
		return
	}
	items, err := h.Governance.Pending(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}
