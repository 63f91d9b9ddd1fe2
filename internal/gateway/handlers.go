package gateway

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/govgate/internal/logging"
	"github.com/mbd888/govgate/internal/validation"
)

// Handler provides HTTP endpoints for the gateway.
type Handler struct {
	service *Service
}

// NewHandler creates a new gateway handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the invoke route.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/gateway/invoke", h.Invoke)
}

// Invoke handles POST /v1/gateway/invoke
func (h *Handler) Invoke(c *gin.Context) {
	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validation.IsTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, validation.TooLargeBody(validation.MaxRequestSize))
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.TraceID == "" {
		req.TraceID = c.GetHeader("X-Trace-Id")
	}

	rules := []validation.Rule{
		validation.Required("systemId", req.SystemID),
		validation.Identifier("systemId", req.SystemID),
		validation.MaxLength("traceId", req.TraceID, validation.MaxIDLength),
		validation.NotEmpty("messages", len(req.Messages)),
	}
	for i, m := range req.Messages {
		rules = append(rules,
			validation.OneOf(fmt.Sprintf("messages[%d].role", i), m.Role, "system", "user", "assistant"))
	}
	if errs := validation.Check(rules...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	res, err := h.service.Invoke(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("X-Trace-Id", res.TraceID)
	c.JSON(http.StatusOK, res)
}

// writeError maps a pipeline outcome onto the structured error body.
func writeError(c *gin.Context, err error) {
	var be *BlockError
	switch {
	case errors.As(err, &be):
		body := gin.H{
			"error":    be.Code,
			"kind":     be.Kind,
			"decision": be.Decision,
			"message":  be.Reason,
			"traceId":  be.TraceID,
			"stage":    be.Stage,
		}
		if be.Requires != "" {
			body["requires"] = be.Requires
		}
		if be.RetryAfter > 0 {
			secs := int(math.Ceil(be.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(secs))
			body["retryAfter"] = secs
		}
		if be.TraceID != "" {
			c.Header("X-Trace-Id", be.TraceID)
		}
		c.JSON(be.Status, body)
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("gateway invoke failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}
}
