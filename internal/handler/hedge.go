package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"coverx/internal/hedge"
	"coverx/internal/repository"
)

type HedgeHandler struct {
	Engine *hedge.Engine
	Repo   repository.Repository
}

func (h *HedgeHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/hedge")
	g.GET("/:event_id/price", h.price)
	g.POST("/:event_id/price/refresh", h.refresh)
	g.GET("/:event_id/book", h.book)
	g.POST("/:event_id/rebalance", h.rebalance)
	g.POST("/:event_id/exit", h.exit)

	r.GET("/api/v1/venues", h.venues)
}

func (h *HedgeHandler) price(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "hedge engine unavailable", nil)
		return
	}
	snapshot, err := h.Engine.Price(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, snapshot, nil)
}

func (h *HedgeHandler) refresh(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "hedge engine unavailable", nil)
		return
	}
	snapshot, err := h.Engine.UpdatePrices(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, snapshot, nil)
}

func (h *HedgeHandler) book(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "hedge engine unavailable", nil)
		return
	}
	book, err := h.Engine.Book(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if book == nil {
		Error(c, http.StatusNotFound, "no hedge book", nil)
		return
	}
	positions, err := h.Repo.ListHedgePositions(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"book": book, "positions": positions}, nil)
}

type rebalanceRequest struct {
	Target  decimal.Decimal `json:"target"`
	MaxCost decimal.Decimal `json:"max_cost"`
}

func (h *HedgeHandler) rebalance(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "hedge engine unavailable", nil)
		return
	}
	var req rebalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Engine.Rebalance(c.Request.Context(), c.Param("event_id"), req.Target, req.MaxCost); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"rebalanced": true}, nil)
}

func (h *HedgeHandler) exit(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "hedge engine unavailable", nil)
		return
	}
	result, err := h.Engine.EmergencyExit(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"filled": result.Filled, "proceeds": result.Cost, "failed_venues": result.Failed}, nil)
}

func (h *HedgeHandler) venues(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListVenues(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}
