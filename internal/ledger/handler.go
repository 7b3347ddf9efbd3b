package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(g *gin.RouterGroup, l *Ledger) {
	g.POST("/entries", func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId"`
			Points int64  `json:"points"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		e, err := l.Record(c.Request.Context(), req.UserID, req.Points, req.Reason)
		if err != nil {
			status := http.StatusServiceUnavailable
			if errors.Is(err, ErrInvalidEntry) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, e)
	})

	g.GET("/users/:id/balance", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.Param("id"), "balance": l.Balance(c.Request.Context(), c.Param("id"))})
	})

	g.GET("/users/:id/history", func(c *gin.Context) {
		h, err := l.History(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, h)
	})

	g.GET("/leaderboard", func(c *gin.Context) {
		n, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		c.JSON(http.StatusOK, l.Leaderboard(c.Request.Context(), n))
	})
}
