package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"coverx/internal/repository"
	"coverx/internal/waterfall"
)

type CoverageHandler struct {
	Engine *waterfall.Engine
	Repo   repository.Repository
}

func (h *CoverageHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/coverage")
	g.GET("/:event_id/quote", h.quote)
	g.POST("/:event_id/buy", h.buy)
	g.POST("/:event_id/redeem", h.redeem)
	g.GET("/:event_id/positions/:holder", h.position)
}

type quoteQuery struct {
	Units decimal.Decimal `form:"units"`
}

func (h *CoverageHandler) quote(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	var q quoteQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	premium, err := h.Engine.Quote(c.Request.Context(), c.Param("event_id"), q.Units)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"premium": premium}, nil)
}

type buyRequest struct {
	Buyer      string          `json:"buyer" binding:"required"`
	Units      decimal.Decimal `json:"units"`
	MaxPremium decimal.Decimal `json:"max_premium"`
}

func (h *CoverageHandler) buy(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	premium, err := h.Engine.BuyCoverage(c.Request.Context(), c.Param("event_id"), req.Buyer, req.Units, req.MaxPremium)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"premium": premium}, nil)
}

type redeemRequest struct {
	Holder string          `json:"holder" binding:"required"`
	Units  decimal.Decimal `json:"units"`
}

func (h *CoverageHandler) redeem(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "engine unavailable", nil)
		return
	}
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	paid, err := h.Engine.RedeemCoverage(c.Request.Context(), c.Param("event_id"), req.Holder, req.Units)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"paid": paid}, nil)
}

func (h *CoverageHandler) position(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetCoveragePosition(c.Request.Context(), c.Param("event_id"), c.Param("holder"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "position not found", nil)
		return
	}
	Ok(c, item, nil)
}
