package errors

import (
	"errors"
	"fmt"
	"net/http"

	"escrow-pay.backend/internal/domain/status"
	"github.com/google/uuid"
)

// Domain errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrQuotaExceeded     = errors.New("lp quota exceeded")
	ErrNoTxHash          = errors.New("payment has no transaction hash")
	ErrHistoryIntegrity  = errors.New("status history integrity violated")
	ErrMalformedEvent    = errors.New("malformed blockchain event")
	ErrProviderFault     = errors.New("chain provider fault")
	ErrLPInactive        = errors.New("lp not active")
)

// TransitionError is the rejection returned when a requested transition is not
// in the transition graph. It carries both states so callers can decide how to
// present it.
type TransitionError struct {
	PaymentID       uuid.UUID
	CurrentMain     status.Main
	CurrentEscrow   status.Escrow
	AttemptedMain   status.Main
	AttemptedEscrow status.Escrow
	Reason          string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("payment %s: cannot move from %s/%s to %s/%s",
		e.PaymentID, e.CurrentMain, e.CurrentEscrow, e.AttemptedMain, e.AttemptedEscrow)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AppError represents application error with HTTP status
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, message, ErrForbidden)
}

func Conflict(message string, err error) *AppError {
	return NewAppError(http.StatusConflict, message, err)
}

func InternalError(err error) *AppError {
	return NewAppError(http.StatusInternalServerError, "internal server error", err)
}

// FromDomain maps a usecase error onto an AppError for the HTTP layer.
func FromDomain(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var transErr *TransitionError
	switch {
	case errors.As(err, &transErr):
		return Conflict(transErr.Error(), err)
	case errors.Is(err, ErrNotFound):
		return NewAppError(http.StatusNotFound, err.Error(), err)
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrLPInactive):
		return NewAppError(http.StatusUnprocessableEntity, err.Error(), err)
	case errors.Is(err, ErrNoTxHash):
		return NewAppError(http.StatusConflict, err.Error(), err)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrBadRequest), errors.Is(err, ErrMalformedEvent):
		return NewAppError(http.StatusBadRequest, err.Error(), err)
	case errors.Is(err, ErrForbidden):
		return NewAppError(http.StatusForbidden, err.Error(), err)
	case errors.Is(err, ErrHistoryIntegrity):
		return NewAppError(http.StatusLocked, "payment record is locked pending integrity review", err)
	}
	return InternalError(err)
}
