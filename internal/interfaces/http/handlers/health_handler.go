package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports a dependency's health
type HealthCheck func(ctx context.Context) error

type ChainHead interface {
	LastBlockNumber() uint64
}

// HealthHandler serves the liveness endpoint
type HealthHandler struct {
	head   ChainHead
	checks map[string]HealthCheck
}

func NewHealthHandler(head ChainHead, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{head: head, checks: checks}
}

// Health runs every check with a short timeout
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	code := http.StatusOK
	state := "ok"
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			state = "degraded"
			continue
		}
		results[name] = "ok"
	}

	body := gin.H{
		"status": state,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": results,
	}
	if h.head != nil {
		body["blockNumber"] = h.head.LastBlockNumber()
	}
	c.JSON(code, body)
}
