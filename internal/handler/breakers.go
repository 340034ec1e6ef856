package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coverx/internal/breaker"
)

type BreakerHandler struct {
	Engine *breaker.Engine
}

func (h *BreakerHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/breakers")
	g.GET("", h.list)
	g.POST("/:id/check", h.check)
	g.POST("/:id/reset", h.reset)

	e := r.Group("/api/v1/emergency")
	e.GET("", h.emergency)
	e.POST("/set", h.setEmergency)
	e.POST("/clear", h.clearEmergency)
}

func (h *BreakerHandler) list(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	states, err := h.Engine.States(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, states, map[string]any{"emergency_stop": h.Engine.EmergencyStopped()})
}

func (h *BreakerHandler) check(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	tripped, err := h.Engine.Check(c.Request.Context(), c.Param("id"))
	if err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"tripped": tripped}, nil)
}

func (h *BreakerHandler) reset(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	if err := h.Engine.Reset(c.Request.Context(), c.Param("id")); err != nil {
		Fault(c, err)
		return
	}
	Ok(c, gin.H{"reset": true}, nil)
}

func (h *BreakerHandler) emergency(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	Ok(c, gin.H{"emergency_stop": h.Engine.EmergencyStopped()}, nil)
}

func (h *BreakerHandler) setEmergency(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	if err := h.Engine.SetEmergency(c.Request.Context(), true); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"emergency_stop": true}, nil)
}

func (h *BreakerHandler) clearEmergency(c *gin.Context) {
	if h.Engine == nil {
		Error(c, http.StatusServiceUnavailable, "breaker engine unavailable", nil)
		return
	}
	if err := h.Engine.SetEmergency(c.Request.Context(), false); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"emergency_stop": false}, nil)
}
