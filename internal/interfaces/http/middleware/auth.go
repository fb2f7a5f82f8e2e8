package middleware

import (
	"errors"
	"net/http"
	"strings"

	"escrow-pay.backend/internal/interfaces/http/response"
	"escrow-pay.backend/pkg/jwt"
	"escrow-pay.backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// AuthorizationHeader is the header key for authorization
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens
	BearerPrefix = "Bearer "
	// TokenQueryParam carries the token on websocket upgrades, where browsers cannot set headers
	TokenQueryParam = "token"
	// WalletKey is the context key for the caller's wallet address
	WalletKey = "wallet"
	// RoleKey is the context key for the caller's role
	RoleKey = "role"
)

// AuthMiddleware validates the wallet-bound bearer token
func AuthMiddleware(jwtService *jwt.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			logger.Warn(c.Request.Context(), "missing or malformed authorization", zap.String("path", c.Request.URL.Path))
			response.ErrorWithStatus(c, http.StatusUnauthorized, "Authorization header is required. Use: Bearer <token>")
			return
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			logger.Warn(c.Request.Context(), "token rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			if errors.Is(err, jwt.ErrExpiredToken) {
				response.ErrorWithStatus(c, http.StatusUnauthorized, "Token has expired")
				return
			}
			response.ErrorWithStatus(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		c.Set(WalletKey, claims.WalletAddress)
		c.Set(RoleKey, claims.Role)

		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(AuthorizationHeader)
	if header == "" && c.IsWebsocket() {
		token := c.Query(TokenQueryParam)
		return token, token != ""
	}
	if !strings.HasPrefix(header, BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
	return token, token != ""
}

// GetWallet gets the authenticated wallet from context
func GetWallet(c *gin.Context) (string, bool) {
	wallet := c.GetString(WalletKey)
	return wallet, wallet != ""
}

// GetRole gets the authenticated role from context
func GetRole(c *gin.Context) (string, bool) {
	role := c.GetString(RoleKey)
	return role, role != ""
}

// RequireRole creates a middleware that requires one of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, exists := GetRole(c)
		if !exists {
			response.ErrorWithStatus(c, http.StatusUnauthorized, "User role not found")
			return
		}

		for _, role := range roles {
			if userRole == role {
				c.Next()
				return
			}
		}

		response.ErrorWithStatus(c, http.StatusForbidden, "Insufficient permissions")
	}
}
