package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"escrow-pay.backend/internal/domain/status"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTransitionError(t *testing.T) {
	id := uuid.New()
	err := error(&TransitionError{
		PaymentID:       id,
		CurrentMain:     status.Settled,
		CurrentEscrow:   status.EscrowReleased,
		AttemptedMain:   status.Cancelled,
		AttemptedEscrow: status.EscrowRefunded,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "settled/released")
	require.Contains(t, err.Error(), "cancelled/refunded")

	wrapped := fmt.Errorf("claim: %w", err)
	var te *TransitionError
	require.True(t, errors.As(wrapped, &te))
	require.Equal(t, status.Settled, te.CurrentMain)
}

func TestFromDomain(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{&TransitionError{}, http.StatusConflict},
		{fmt.Errorf("x: %w", ErrNotFound), http.StatusNotFound},
		{ErrQuotaExceeded, http.StatusUnprocessableEntity},
		{ErrNoTxHash, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrHistoryIntegrity, http.StatusLocked},
		{BadRequest("nope"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		require.Equal(t, c.code, FromDomain(c.err).Code, c.err.Error())
	}
}

func TestAppErrorMessage(t *testing.T) {
	require.Equal(t, "resource not found", NotFound("payment missing").Error())
	require.Equal(t, "plain", (&AppError{Message: "plain"}).Error())
	require.ErrorIs(t, Forbidden("no"), ErrForbidden)
}
