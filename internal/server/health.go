package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status       string `json:"status"`
	Registry     string `json:"registry"`
	LiveSessions int64  `json:"live_sessions"`
	Mailboxes    int    `json:"mailboxes"`
	Error        string `json:"error,omitempty"`
}

// handleHealth handles GET /healthz requests.
// Returns 200 OK if the registry is reachable, 503 Service Unavailable otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:       "healthy",
		Registry:     "connected",
		LiveSessions: s.sessions.Live(),
		Mailboxes:    s.store.Len(),
	}

	if err := s.registry.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Registry = "disconnected"
		response.Error = err.Error()
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}
