package health

import (
	"net/http"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/gin-gonic/gin"
)

// Handler manages health check endpoints
type Handler struct {
	readyFn func() error
	statsFn func() ipinfo.CacheStats
}

// NewHandler creates a new health check handler. Either function may be nil.
func NewHandler(readyFn func() error, statsFn func() ipinfo.CacheStats) *Handler {
	return &Handler{readyFn: readyFn, statsFn: statsFn}
}

// Health is the liveness check endpoint
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Ready is the readiness check endpoint
// GET /ready
func (h *Handler) Ready(c *gin.Context) {
	if h.readyFn != nil {
		if err := h.readyFn(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	body := gin.H{"status": "ready"}
	if h.statsFn != nil {
		body["cache"] = h.statsFn()
	}
	c.JSON(http.StatusOK, body)
}
