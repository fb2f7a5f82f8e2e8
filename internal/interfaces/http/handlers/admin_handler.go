package handlers

import (
	"context"
	"net/http"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	"escrow-pay.backend/internal/interfaces/http/response"
	"escrow-pay.backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RetryQueueService interface {
	List(ctx context.Context, status entities.RetryQueueStatus, page, limit int) ([]*entities.RetryQueueEntry, utils.PaginationMeta, error)
	Stats(ctx context.Context) (map[entities.RetryQueueStatus]int64, error)
	Requeue(ctx context.Context, id uuid.UUID) (*entities.RetryQueueEntry, error)
}

// AdminHandler exposes operator views of the retry queue
type AdminHandler struct {
	retry RetryQueueService
}

func NewAdminHandler(retry RetryQueueService) *AdminHandler {
	return &AdminHandler{retry: retry}
}

// ListRetryQueue lists queued events, optionally by status
// GET /api/v1/admin/retry-queue
func (h *AdminHandler) ListRetryQueue(c *gin.Context) {
	st := entities.RetryQueueStatus(c.Query("status"))
	switch st {
	case "", entities.RetryQueueStatusPending, entities.RetryQueueStatusProcessing,
		entities.RetryQueueStatusProcessed, entities.RetryQueueStatusFailed:
	default:
		response.Error(c, domainerrors.BadRequest("Unknown retry queue status"))
		return
	}

	page, limit := pageParams(c)
	entries, meta, err := h.retry.List(c.Request.Context(), st, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"entries":    entries,
		"pagination": meta,
	})
}

// RetryQueueStats counts entries per status
// GET /api/v1/admin/retry-queue/stats
func (h *AdminHandler) RetryQueueStats(c *gin.Context) {
	stats, err := h.retry.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// Requeue gives a failed entry a fresh set of attempts
// POST /api/v1/admin/retry-queue/:id/requeue
func (h *AdminHandler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid entry ID"))
		return
	}

	entry, err := h.retry.Requeue(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"entry": entry})
}
