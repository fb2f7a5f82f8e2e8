package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrow-pay.backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	userWallet = "0x1111111111111111111111111111111111111111"
	lpWallet   = "0x2222222222222222222222222222222222222222"
	adminWal   = "0x9999999999999999999999999999999999999999"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// as stands in for AuthMiddleware.
func as(wallet, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if wallet != "" {
			c.Set(middleware.WalletKey, wallet)
			c.Set(middleware.RoleKey, role)
		}
		c.Next()
	}
}

func doJSON(r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type errCheck struct{ err error }

func (e errCheck) check(context.Context) error { return e.err }
