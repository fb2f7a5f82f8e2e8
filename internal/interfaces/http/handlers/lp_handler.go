package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"escrow-pay.backend/internal/domain/entities"
	domainerrors "escrow-pay.backend/internal/domain/errors"
	"escrow-pay.backend/internal/interfaces/http/response"
	"escrow-pay.backend/pkg/utils"
	"github.com/gin-gonic/gin"
)

type LPService interface {
	RegisterLP(ctx context.Context, in entities.RegisterLPInput) (*entities.LiquidityProvider, error)
	SetActive(ctx context.Context, lpWallet string, active bool) (*entities.LiquidityProvider, error)
	GetLP(ctx context.Context, lpWallet string) (*entities.LiquidityProvider, error)
	ListLPs(ctx context.Context, activeOnly bool, page, limit int) ([]*entities.LiquidityProvider, utils.PaginationMeta, error)
}

// LPHandler handles the liquidity provider registry
type LPHandler struct {
	lps LPService
}

func NewLPHandler(lps LPService) *LPHandler {
	return &LPHandler{lps: lps}
}

// Register creates or updates an LP. LPs may only register their own wallet.
// POST /api/v1/lps
func (h *LPHandler) Register(c *gin.Context) {
	var input entities.RegisterLPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	actor, ok := actorFrom(c)
	if !ok {
		response.Error(c, domainerrors.Unauthorized("User not authenticated"))
		return
	}
	if !actor.IsAdmin() && !strings.EqualFold(input.WalletAddress, actor.Wallet) {
		response.Error(c, domainerrors.Forbidden("LPs can only register their own wallet"))
		return
	}

	lp, err := h.lps.RegisterLP(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"lp": lp})
}

// List lists registered LPs
// GET /api/v1/lps
func (h *LPHandler) List(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	page, limit := pageParams(c)

	lps, meta, err := h.lps.ListLPs(c.Request.Context(), activeOnly, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"lps":        lps,
		"pagination": meta,
	})
}

// Get returns one LP with its current quota
// GET /api/v1/lps/:wallet
func (h *LPHandler) Get(c *gin.Context) {
	lp, err := h.lps.GetLP(c.Request.Context(), c.Param("wallet"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"lp": lp})
}

// SetActive pauses or resumes an LP
// PUT /api/v1/admin/lps/:wallet/active
func (h *LPHandler) SetActive(c *gin.Context) {
	var input struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, domainerrors.BadRequest(err.Error()))
		return
	}

	lp, err := h.lps.SetActive(c.Request.Context(), c.Param("wallet"), *input.Active)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"lp": lp})
}
