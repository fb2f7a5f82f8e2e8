package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/interfaces/http/handlers"
	"escrow-pay.backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acceptAll struct{}

func (acceptAll) HandleBlockchainEvent(context.Context, entities.ChainEvent) (bool, error) {
	return true, nil
}

func testRouter(t *testing.T, origins ...string) (*gin.Engine, *jwt.JWTService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jwtService := jwt.NewJWTService("test-secret", time.Minute, "escrow-pay")
	r := newRouter(routeDeps{
		paymentHandler:    handlers.NewPaymentHandler(nil, nil, nil),
		lpHandler:         handlers.NewLPHandler(nil),
		chainEventHandler: handlers.NewChainEventHandler(acceptAll{}, "hook-secret"),
		adminHandler:      handlers.NewAdminHandler(nil),
		jwtService:        jwtService,
		allowedOrigins:    origins,
	})
	return r, jwtService
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestApplyCORSMiddleware(t *testing.T) {
	r, _ := testRouter(t, "https://app.example.com")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serve(r, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(r, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/payments", nil)
	rec = serve(r, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestApplyCORSMiddleware_AnyOriginWhenUnset(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := serve(r, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterHealthRoute_Fallback(t *testing.T) {
	r, _ := testRouter(t)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsRoute(t *testing.T) {
	r, _ := testRouter(t)

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAPIV1Routes_RequireAuth(t *testing.T) {
	r, _ := testRouter(t)

	for _, path := range []string{"/api/v1/payments", "/api/v1/lps", "/api/v1/admin/retry-queue"} {
		rec := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestAPIV1Routes_RoleGates(t *testing.T) {
	r, jwtService := testRouter(t)
	userToken, err := jwtService.Issue("0x1111111111111111111111111111111111111111", jwt.RoleUser)
	require.NoError(t, err)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/admin/retry-queue"},
		{http.MethodPut, "/api/v1/admin/lps/0x2222222222222222222222222222222222222222/active"},
		{http.MethodPost, "/api/v1/payments/8f6d1c8e-4a4b-4f3f-9d52-1f1f5f1f5f1f/claim"},
		{http.MethodPost, "/api/v1/lps"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+userToken)
		rec := serve(r, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, tc.path)
	}
}

func TestChainEventRoute_UsesWebhookSecret(t *testing.T) {
	r, _ := testRouter(t)
	body := `{"kind":"PaymentReleased","blockchainPaymentId":"0x01","txHash":"0xabc","blockNumber":10}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chain/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(r, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/chain/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.WebhookSecretHeader, "hook-secret")
	rec = serve(r, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
