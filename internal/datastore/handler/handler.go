// Package handler exposes any collection of the storage facade over HTTP.
package handler

import (
	"net/http"

	"github.com/fairground/go-services/internal/auth"
	"github.com/fairground/go-services/internal/datastore/service"
	"github.com/fairground/go-services/pkg/middleware"
	"github.com/gin-gonic/gin"
)

type Handler struct {
	store service.Store
}

func New(store service.Store) *Handler { return &Handler{store: store} }

// Register mounts the collection routes under g (usually /api/collections).
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/:name", h.list)
	g.POST("/:name", h.create)
	g.POST("/:name/delete", h.deleteMany)
	g.POST("/:name/aggregate", h.aggregate)
	g.GET("/:name/:id", h.get)
	g.PATCH("/:name/:id", h.update)
	g.DELETE("/:name/:id", h.remove)
}

func isAdmin(c *gin.Context) bool {
	role, _ := middleware.Claims(c)["role"].(string)
	return role == auth.RoleAdmin
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *Handler) list(c *gin.Context) {
	f, err := parseFilter(c.Query("filter"))
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Find(c.Request.Context(), c.Param("name"), f))
}

func (h *Handler) get(c *gin.Context) {
	d := h.store.FindByID(c.Request.Context(), c.Param("name"), c.Param("id"))
	if d == nil {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) create(c *gin.Context) {
	doc, err := decodeDocument(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	created := h.store.Create(c.Request.Context(), c.Param("name"), doc)
	if created == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) update(c *gin.Context) {
	patch, err := decodeDocument(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	d := h.store.Update(c.Request.Context(), c.Param("name"), c.Param("id"), patch)
	if d == nil {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) remove(c *gin.Context) {
	if !h.store.DeleteOne(c.Request.Context(), c.Param("name"), map[string]any{"id": c.Param("id")}) {
		notFound(c)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteMany(c *gin.Context) {
	f, err := decodeDocument(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	// an empty filter empties the collection
	if len(f) == 0 && !isAdmin(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "an empty filter deletes every document; admin role required"})
		return
	}
	n := h.store.DeleteMany(c.Request.Context(), c.Param("name"), map[string]any(f))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) aggregate(c *gin.Context) {
	p, err := parsePipeline(c.Request.Body)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.store.Aggregate(c.Request.Context(), c.Param("name"), p))
}
