package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"escrow-pay.backend/internal/domain/entities"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type eventStub struct {
	accepted bool
	err      error
	got      []entities.ChainEvent
}

func (s *eventStub) HandleBlockchainEvent(_ context.Context, ev entities.ChainEvent) (bool, error) {
	s.got = append(s.got, ev)
	return s.accepted, s.err
}

func eventRouter(h *ChainEventHandler) *gin.Engine {
	r := gin.New()
	r.POST("/api/v1/chain/events", h.HandleEvent)
	return r
}

func TestChainEventHandler(t *testing.T) {
	stub := &eventStub{accepted: true}
	r := eventRouter(NewChainEventHandler(stub, "s3cret"))
	ev := map[string]any{"kind": "PaymentConfirmed", "blockchainPaymentId": "0xabc", "blockNumber": 12}

	w := doJSON(r, http.MethodPost, "/api/v1/chain/events", ev, WebhookSecretHeader, "s3cret")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, stub.got, 1)
	require.Equal(t, entities.ChainEventPaymentConfirmed, stub.got[0].Kind)
	require.EqualValues(t, 12, stub.got[0].BlockNumber)

	w = doJSON(r, http.MethodPost, "/api/v1/chain/events", ev, WebhookSecretHeader, "wrong")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, stub.got, 1)

	stub.accepted = false
	w = doJSON(r, http.MethodPost, "/api/v1/chain/events", ev, WebhookSecretHeader, "s3cret")
	require.Equal(t, http.StatusBadRequest, w.Code)

	stub.err = errors.New("db down")
	w = doJSON(r, http.MethodPost, "/api/v1/chain/events", ev, WebhookSecretHeader, "s3cret")
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestChainEventHandler_NoSecretConfigured(t *testing.T) {
	stub := &eventStub{accepted: true}
	r := eventRouter(NewChainEventHandler(stub, ""))
	ev := map[string]any{"kind": "PaymentSettled", "blockchainPaymentId": "0xbb"}

	w := doJSON(r, http.MethodPost, "/api/v1/chain/events", ev)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/chain/events", ev, WebhookSecretHeader, "")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Empty(t, stub.got)
}

func TestChainEventHandler_MalformedBody(t *testing.T) {
	stub := &eventStub{accepted: true}
	r := eventRouter(NewChainEventHandler(stub, "s3cret"))

	w := doJSON(r, http.MethodPost, "/api/v1/chain/events", "not an object", WebhookSecretHeader, "s3cret")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, stub.got)
}
