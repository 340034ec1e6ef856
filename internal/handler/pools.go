package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"coverx/internal/ledger"
	"coverx/internal/repository"
)

type PoolHandler struct {
	Junior   *ledger.Vault
	Treasury *ledger.Vault
	Repo     repository.Repository
}

func (h *PoolHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/pools")
	g.GET("/:pool", h.get)
	g.POST("/:pool/deposit", h.deposit)
	g.POST("/:pool/redeem", h.redeem)
	g.GET("/:pool/shares/:holder", h.shares)
}

func (h *PoolHandler) vault(name string) *ledger.Vault {
	switch name {
	case "junior":
		return h.Junior
	case "treasury":
		return h.Treasury
	}
	return nil
}

func (h *PoolHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	state, err := h.Repo.GetPoolState(c.Request.Context(), c.Param("pool"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if state == nil {
		Error(c, http.StatusNotFound, "pool not found", nil)
		return
	}
	Ok(c, state, nil)
}

type poolRequest struct {
	Holder string          `json:"holder" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *PoolHandler) deposit(c *gin.Context) {
	vault := h.vault(c.Param("pool"))
	if vault == nil {
		Error(c, http.StatusNotFound, "pool not found", nil)
		return
	}
	var req poolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	shares, err := vault.Deposit(c.Request.Context(), req.Holder, req.Amount)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"shares": shares}, nil)
}

func (h *PoolHandler) redeem(c *gin.Context) {
	vault := h.vault(c.Param("pool"))
	if vault == nil {
		Error(c, http.StatusNotFound, "pool not found", nil)
		return
	}
	var req poolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	payout, err := vault.Redeem(c.Request.Context(), req.Holder, req.Amount)
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"payout": payout}, nil)
}

func (h *PoolHandler) shares(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	share, err := h.Repo.GetPoolShare(c.Request.Context(), c.Param("pool"), c.Param("holder"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if share == nil {
		Error(c, http.StatusNotFound, "no shares", nil)
		return
	}
	Ok(c, share, nil)
}
