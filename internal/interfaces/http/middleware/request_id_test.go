package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware())
	r.GET("/x", func(c *gin.Context) {
		ctxID, _ := c.Request.Context().Value(RequestIDKey).(string)
		c.String(http.StatusOK, c.GetString(RequestIDKey)+"|"+ctxID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?a=1", nil))
	generated := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	require.Equal(t, generated+"|"+generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	require.Equal(t, "req-42|req-42", w.Body.String())
}
