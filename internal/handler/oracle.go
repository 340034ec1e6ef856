package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"coverx/internal/oracle"
)

type OracleHandler struct {
	Service *oracle.Service
}

func (h *OracleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/oracle")
	g.PUT("/:event_id/committee", h.configure)
	g.POST("/:event_id/reports", h.report)
	g.POST("/:event_id/dispute", h.dispute)
	g.POST("/:event_id/dispute/resolve", h.resolveDispute)
	g.POST("/:event_id/emergency-resolve", h.emergencyResolve)
	g.GET("/:event_id", h.status)
}

type committeeRequest struct {
	Seats []struct {
		OracleID string `json:"oracle_id" binding:"required"`
		Kind     string `json:"kind" binding:"required"`
		Weight   int    `json:"weight" binding:"required"`
	} `json:"seats" binding:"required"`
}

func (h *OracleHandler) configure(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	var req committeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	seats := make([]oracle.Assignment, 0, len(req.Seats))
	for _, seat := range req.Seats {
		seats = append(seats, oracle.Assignment{OracleID: seat.OracleID, Kind: seat.Kind, Weight: seat.Weight})
	}
	if err := h.Service.ConfigureEventOracles(c.Request.Context(), c.Param("event_id"), seats); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"seats": len(seats)}, nil)
}

type reportRequest struct {
	OracleID string          `json:"oracle_id" binding:"required"`
	Outcome  *bool           `json:"outcome" binding:"required"`
	Proof    json.RawMessage `json:"proof"`
}

func (h *OracleHandler) report(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	err := h.Service.ReportOutcome(c.Request.Context(), c.Param("event_id"), req.OracleID, *req.Outcome, datatypes.JSON(req.Proof))
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"accepted": true}, nil)
}

func (h *OracleHandler) dispute(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	if err := h.Service.RaiseDispute(c.Request.Context(), c.Param("event_id")); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"disputed": true}, nil)
}

type ruleRequest struct {
	Outcome *bool `json:"outcome" binding:"required"`
}

func (h *OracleHandler) resolveDispute(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Service.ResolveDispute(c.Request.Context(), c.Param("event_id"), *req.Outcome); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"resolved": true}, nil)
}

func (h *OracleHandler) emergencyResolve(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Service.EmergencyResolve(c.Request.Context(), c.Param("event_id"), *req.Outcome); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"resolved": true}, nil)
}

func (h *OracleHandler) status(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusServiceUnavailable, "oracle unavailable", nil)
		return
	}
	outcome, reports, err := h.Service.Status(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"outcome": outcome, "reports": reports}, nil)
}
