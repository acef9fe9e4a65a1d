package api

import (
	"net/http"

	"github.com/faultsys/alertrelay/internal/relay"
	"github.com/gin-gonic/gin"
)

// Handler answers admin requests from a SessionSource.
type Handler struct {
	sessions SessionSource
}

// NewHandler creates a handler reading from sessions, which may be nil.
func NewHandler(sessions SessionSource) *Handler {
	return &Handler{sessions: sessions}
}

// Health reports liveness and the current session count.
func (h *Handler) Health(c *gin.Context) {
	count := 0
	if h != nil && h.sessions != nil {
		count = h.sessions.SessionCount()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": count,
	})
}

// ListSessions returns every live session, oldest first.
func (h *Handler) ListSessions(c *gin.Context) {
	list := []relay.SessionInfo{}
	if h != nil && h.sessions != nil {
		list = append(list, h.sessions.Sessions()...)
	}
	c.JSON(http.StatusOK, list)
}

// GetSession returns one live session by id.
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("id")
	if h != nil && h.sessions != nil {
		for _, info := range h.sessions.Sessions() {
			if info.ID == id {
				c.JSON(http.StatusOK, info)
				return
			}
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}
