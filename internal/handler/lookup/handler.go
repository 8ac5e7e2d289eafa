package lookup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/gin-gonic/gin"
)

// Resolver is the subset of *ipinfo.Client used by the handlers.
type Resolver interface {
	Lookup(ctx context.Context, ip string) (ipinfo.Result, error)
	LookupBatch(ctx context.Context, ips []string) (map[string]ipinfo.Result, error)
	ASN(ctx context.Context, asn string) (*ipinfo.ASNDetails, error)
	MapURL(ctx context.Context, ips []string) (string, error)
	Field(ctx context.Context, ip, field string) (string, error)
	Flush()
}

// BatchRequest represents the JSON body for a batch lookup or map request.
type BatchRequest struct {
	IPs []string `json:"ips" binding:"required,min=1,max=1000,dive,required"`
}

// BatchResponse represents the JSON response for a batch lookup.
type BatchResponse struct {
	Results map[string]ipinfo.Result `json:"results"`
}

// MapResponse represents the JSON response for a map request.
type MapResponse struct {
	ReportURL string `json:"report_url"`
}

// FieldResponse represents the JSON response for a single field lookup.
type FieldResponse struct {
	IP    string `json:"ip"`
	Field string `json:"field"`
	Value string `json:"value"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler manages IP lookup endpoints.
type Handler struct {
	resolver Resolver
}

// NewHandler creates a new lookup handler with the given Resolver.
func NewHandler(resolver Resolver) *Handler {
	return &Handler{resolver: resolver}
}

// Register mounts the lookup endpoints on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/lookup/:ip", h.Lookup)
	r.GET("/lookup/:ip/:field", h.Field)
	r.POST("/lookup", h.Batch)
	r.GET("/asn/:asn", h.ASN)
	r.POST("/map", h.Map)
	r.DELETE("/cache", h.Flush)
}

// Lookup handles GET /api/v1/lookup/:ip
func (h *Handler) Lookup(c *gin.Context) {
	ip := c.Param("ip")
	slog.Debug("lookup request received", "ip", ip)

	res, err := h.resolver.Lookup(c.Request.Context(), ip)
	if err != nil {
		h.fail(c, "lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// Batch handles POST /api/v1/lookup
func (h *Handler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
		})
		return
	}

	slog.Debug("batch request received", "count", len(req.IPs))

	res, err := h.resolver.LookupBatch(c.Request.Context(), req.IPs)
	if err != nil {
		h.fail(c, "batch lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, BatchResponse{Results: res})
}

// Field handles GET /api/v1/lookup/:ip/:field
func (h *Handler) Field(c *gin.Context) {
	ip, field := c.Param("ip"), c.Param("field")

	v, err := h.resolver.Field(c.Request.Context(), ip, field)
	if err != nil {
		h.fail(c, "field lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, FieldResponse{IP: ip, Field: field, Value: v})
}

// ASN handles GET /api/v1/asn/:asn
func (h *Handler) ASN(c *gin.Context) {
	details, err := h.resolver.ASN(c.Request.Context(), c.Param("asn"))
	if err != nil {
		h.fail(c, "asn lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, details)
}

// Map handles POST /api/v1/map
func (h *Handler) Map(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request: " + err.Error(),
		})
		return
	}

	u, err := h.resolver.MapURL(c.Request.Context(), req.IPs)
	if err != nil {
		h.fail(c, "map request failed", err)
		return
	}

	c.JSON(http.StatusOK, MapResponse{ReportURL: u})
}

// Flush handles DELETE /api/v1/cache
func (h *Handler) Flush(c *gin.Context) {
	h.resolver.Flush()
	slog.Info("cache flushed")
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "path", c.Request.URL.Path, "error", err)
	} else {
		slog.Warn(msg, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(code, ErrorResponse{Error: msg + ": " + err.Error()})
}

// StatusCode maps a whole-call failure to the HTTP status returned to callers.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ipinfo.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ipinfo.ErrAuth),
		errors.Is(err, ipinfo.ErrTransport),
		errors.Is(err, ipinfo.ErrRequest):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
