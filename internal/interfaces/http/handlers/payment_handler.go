package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	domainRepos "escrow-pay.backend/internal/domain/repositories"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/internal/interfaces/http/middleware"
	"escrow-pay.backend/internal/interfaces/http/response"
	"escrow-pay.backend/internal/usecases"
	"escrow-pay.backend/pkg/logger"
	"escrow-pay.backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentFlowService interface {
	CreatePayment(ctx context.Context, in entities.CreatePaymentInput) (*entities.PaymentIntent, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*entities.PaymentIntent, error)
	AuthorizeView(ctx context.Context, paymentID uuid.UUID, actor usecases.Actor) error
	ListPayments(ctx context.Context, filter domainRepos.PaymentIntentFilter, page, limit int) ([]*entities.PaymentIntent, utils.PaginationMeta, error)
	TryClaim(ctx context.Context, paymentID uuid.UUID, lpWallet string, amount decimal.Decimal) (*entities.PaymentIntent, error)
	MarkPaid(ctx context.Context, paymentID uuid.UUID, actor usecases.Actor, proof map[string]any, note string) (*entities.PaymentIntent, error)
	Confirm(ctx context.Context, paymentID uuid.UUID, actor usecases.Actor, in usecases.ConfirmInput) (*entities.PaymentIntent, error)
	Cancel(ctx context.Context, paymentID uuid.UUID, actor usecases.Actor, note string) (*entities.PaymentIntent, error)
	OpenDispute(ctx context.Context, paymentID uuid.UUID, actor usecases.Actor, note string) (*entities.PaymentIntent, error)
}

type HistoryVerifier interface {
	VerifyHistory(ctx context.Context, paymentID uuid.UUID) (*usecases.HistoryReport, error)
}

type PaymentSyncer interface {
	ManualSync(ctx context.Context, paymentID uuid.UUID) (*entities.PaymentIntent, error)
}

// PaymentHandler handles payment intake and the human-triggered transitions
type PaymentHandler struct {
	flow    PaymentFlowService
	history HistoryVerifier
	syncer  PaymentSyncer
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(flow PaymentFlowService, history HistoryVerifier, syncer PaymentSyncer) *PaymentHandler {
	return &PaymentHandler{flow: flow, history: history, syncer: syncer}
}

type claimRequest struct {
	Amount string `json:"amount"`
}

type paidRequest struct {
	Proof map[string]any `json:"proof"`
	Note  string         `json:"note"`
}

type noteRequest struct {
	Note string `json:"note"`
}

// CreatePayment opens a new payment intent
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var input entities.CreatePaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return
	}
	if !actor.IsAdmin() && !strings.EqualFold(input.UserWalletAddress, actor.Wallet) {
		response.Error(c, domainerrors.Forbidden("Payments can only be opened for the caller's wallet"))
		return
	}

	intent, err := h.flow.CreatePayment(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"payment": intent})
}

// GetPayment returns a payment, reconciling it with the chain first when it
// has an on-chain transaction. A provider fault falls back to the stored row.
// GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id, ok := h.viewable(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	intent, err := h.syncer.ManualSync(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, domainerrors.ErrNoTxHash), errors.Is(err, domainerrors.ErrProviderFault):
		if errors.Is(err, domainerrors.ErrProviderFault) {
			logger.Warn(ctx, "serving payment without chain sync", zap.String("payment_id", id.String()), zap.Error(err))
		}
		intent, err = h.flow.GetPayment(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
	default:
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"payment": intent})
}

// ListPayments lists payments visible to the caller. Users see their own
// payments; LPs see open payments and the ones they claimed.
// GET /api/v1/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return
	}

	var filter domainRepos.PaymentIntentFilter
	if raw := c.Query("status"); raw != "" {
		st, err := status.ParseMain(raw)
		if err != nil {
			response.Error(c, domainerrors.BadRequest(err.Error()))
			return
		}
		filter.Status = st
	}
	filter.UserWalletAddress = strings.ToLower(c.Query("user"))
	filter.LPWalletAddress = strings.ToLower(c.Query("lp"))

	switch actor.Role {
	case usecases.RoleUser:
		filter.UserWalletAddress = actor.Wallet
	case usecases.RoleLP:
		if filter.Status != status.Created {
			filter.LPWalletAddress = actor.Wallet
		}
	}

	page, limit := pageParams(c)
	intents, meta, err := h.flow.ListPayments(c.Request.Context(), filter, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"payments":   intents,
		"pagination": meta,
	})
}

// GetHistory re-verifies and returns the audit chain of a payment
// GET /api/v1/payments/:id/history
func (h *PaymentHandler) GetHistory(c *gin.Context) {
	id, ok := h.viewable(c)
	if !ok {
		return
	}

	report, err := h.history.VerifyHistory(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, report)
}

// Claim locks the caller's LP quota against the payment
// POST /api/v1/payments/:id/claim
func (h *PaymentHandler) Claim(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	var req claimRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := decimal.NewFromString(req.Amount)
		if err != nil {
			response.Error(c, domainerrors.BadRequest("amount must be a decimal"))
			return
		}
		amount = parsed
	}

	wallet, _ := middleware.GetWallet(c)
	intent, err := h.flow.TryClaim(c.Request.Context(), id, wallet, amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"payment": intent})
}

// MarkPaid records that fiat was sent
// POST /api/v1/payments/:id/paid
func (h *PaymentHandler) MarkPaid(c *gin.Context) {
	var req paidRequest
	h.act(c, &req, func(ctx context.Context, id uuid.UUID, actor usecases.Actor) (*entities.PaymentIntent, error) {
		return h.flow.MarkPaid(ctx, id, actor, req.Proof, req.Note)
	})
}

// Confirm acknowledges receipt and links the on-chain escrow
// POST /api/v1/payments/:id/confirm
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var req usecases.ConfirmInput
	h.act(c, &req, func(ctx context.Context, id uuid.UUID, actor usecases.Actor) (*entities.PaymentIntent, error) {
		return h.flow.Confirm(ctx, id, actor, req)
	})
}

// Cancel abandons the payment and returns any locked quota
// POST /api/v1/payments/:id/cancel
func (h *PaymentHandler) Cancel(c *gin.Context) {
	var req noteRequest
	h.act(c, &req, func(ctx context.Context, id uuid.UUID, actor usecases.Actor) (*entities.PaymentIntent, error) {
		return h.flow.Cancel(ctx, id, actor, req.Note)
	})
}

// Dispute escalates the payment for arbitration
// POST /api/v1/payments/:id/dispute
func (h *PaymentHandler) Dispute(c *gin.Context) {
	var req noteRequest
	h.act(c, &req, func(ctx context.Context, id uuid.UUID, actor usecases.Actor) (*entities.PaymentIntent, error) {
		return h.flow.OpenDispute(ctx, id, actor, req.Note)
	})
}

// Sync forces a reconciliation of the payment against the chain
// POST /api/v1/payments/:id/sync
func (h *PaymentHandler) Sync(c *gin.Context) {
	id, ok := h.viewable(c)
	if !ok {
		return
	}

	intent, err := h.syncer.ManualSync(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"payment": intent})
}

func (h *PaymentHandler) act(c *gin.Context, req any, fn func(ctx context.Context, id uuid.UUID, actor usecases.Actor) (*entities.PaymentIntent, error)) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if !bindOptionalJSON(c, req) {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return
	}

	intent, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"payment": intent})
}

// viewable parses the payment ID and rejects callers who may not read it.
func (h *PaymentHandler) viewable(c *gin.Context) (uuid.UUID, bool) {
	id, ok := paymentID(c)
	if !ok {
		return uuid.Nil, false
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return uuid.Nil, false
	}
	if err := h.flow.AuthorizeView(c.Request.Context(), id, actor); err != nil {
		response.Error(c, err)
		return uuid.Nil, false
	}
	return id, true
}

func paymentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, domainerrors.BadRequest("Invalid payment ID"))
		return uuid.Nil, false
	}
	return id, true
}

func actorFrom(c *gin.Context) (usecases.Actor, bool) {
	wallet, ok := middleware.GetWallet(c)
	if !ok {
		return usecases.Actor{}, false
	}
	role, _ := middleware.GetRole(c)
	return usecases.Actor{Wallet: wallet, Role: role}, true
}

// bindOptionalJSON binds the body when one was sent; action endpoints accept
// an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return false
	}
	return true
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(utils.DefaultPageLimit)))
	return page, limit
}
