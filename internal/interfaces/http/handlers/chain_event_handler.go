package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	"escrow-pay.backend/internal/interfaces/http/response"
	"github.com/gin-gonic/gin"
)

// WebhookSecretHeader authenticates the indexer
const WebhookSecretHeader = "X-Webhook-Secret"

type ChainEventProcessor interface {
	HandleBlockchainEvent(ctx context.Context, ev entities.ChainEvent) (bool, error)
}

// ChainEventHandler receives escrow contract events pushed by an indexer
type ChainEventHandler struct {
	processor ChainEventProcessor
	secret    string
}

func NewChainEventHandler(processor ChainEventProcessor, secret string) *ChainEventHandler {
	return &ChainEventHandler{processor: processor, secret: secret}
}

// HandleEvent feeds one event into reconciliation. Events that cannot be
// matched yet are queued for redelivery and still acknowledged. Without a
// configured secret every request is refused.
// POST /api/v1/chain/events
func (h *ChainEventHandler) HandleEvent(c *gin.Context) {
	if h.secret == "" {
		response.Error(c, domainerrors.Forbidden("Chain event webhook is disabled"))
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.GetHeader(WebhookSecretHeader)), []byte(h.secret)) != 1 {
		response.Error(c, domainerrors.Unauthorized("Invalid webhook secret"))
		return
	}

	var ev entities.ChainEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	accepted, err := h.processor.HandleBlockchainEvent(c.Request.Context(), ev)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !accepted {
		response.Error(c, domainerrors.BadRequest("Malformed chain event"))
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"received": true})
}
