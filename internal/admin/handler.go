package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/pkg/logger"
	"github.com/fairground/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
)

// Handler exposes the two-step clear flow. The router group it is registered
// on must already authenticate callers and require the admin role.
type Handler struct {
	store      service.Store
	challenges ChallengeStore
	allow      bool
	ttl        time.Duration
}

func NewHandler(store service.Store, challenges ChallengeStore, allowClear bool, ttl time.Duration) *Handler {
	return &Handler{store: store, challenges: challenges, allow: allowClear, ttl: ttl}
}

func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/clear/challenge", h.challenge)
	g.POST("/clear", h.clear)
	g.GET("/collections", h.collections)
}

func (h *Handler) challenge(c *gin.Context) {
	if !h.allow {
		c.JSON(http.StatusForbidden, gin.H{"error": "clear is disabled"})
		return
	}
	ch, err := h.challenges.Issue(c.Request.Context(), middleware.Subject(c), h.ttl)
	if err != nil {
		logger.Errorf("admin: issue clear challenge: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not issue challenge"})
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *Handler) clear(c *gin.Context) {
	if !h.allow {
		c.JSON(http.StatusForbidden, gin.H{"error": "clear is disabled"})
		return
	}
	var req struct {
		Confirm string `json:"confirm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub := middleware.Subject(c)
	if err := h.challenges.Consume(c.Request.Context(), req.Confirm, sub); err != nil {
		if errors.Is(err, ErrInvalidChallenge) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("admin: consume clear challenge: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "could not verify challenge"})
		return
	}
	logger.Warnf("admin: %q confirmed clear of the %s backend", sub, h.store.Backend())
	h.store.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *Handler) collections(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backend": h.store.Backend(), "collections": h.store.Collections(c.Request.Context())})
}
