// Package middleware provides HTTP middleware for the gateway
package middleware

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/tokenization_layer/internal/challenge"
	"github.com/R3E-Network/tokenization_layer/internal/errors"
	"github.com/R3E-Network/tokenization_layer/internal/httputil"
	"github.com/R3E-Network/tokenization_layer/internal/logging"
)

// Claims represents JWT claims issued by the identity provider.
type Claims struct {
	UserID string `json:"user_id"`
	Wallet string `json:"wallet"`
	// Verifications maps verification type tags to Portal verification IDs.
	Verifications map[string]string `json:"verifications,omitempty"`
	Role          string            `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims into the acting user.
func (c *Claims) User() (challenge.User, error) {
	if c.UserID == "" {
		return challenge.User{}, errors.InvalidToken(nil).WithDetails("reason", "missing user_id")
	}
	if !common.IsHexAddress(c.Wallet) {
		return challenge.User{}, errors.InvalidToken(nil).WithDetails("reason", "invalid wallet")
	}

	user := challenge.User{
		ID:            c.UserID,
		Wallet:        common.HexToAddress(c.Wallet),
		Verifications: make(map[challenge.VerificationType]string, len(c.Verifications)),
	}
	for tag, id := range c.Verifications {
		t, err := challenge.ParseVerificationType(tag)
		if err != nil {
			continue
		}
		user.Verifications[t] = id
	}
	return user, nil
}

type userKey struct{}

// WithUser stores the acting user in ctx.
func WithUser(ctx context.Context, user challenge.User) context.Context {
	ctx = logging.WithUserID(ctx, user.ID)
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (challenge.User, bool) {
	user, ok := ctx.Value(userKey{}).(challenge.User)
	return user, ok
}

// LoadRSAPublicKey reads a PEM encoded RSA public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key: %w", err)
	}
	return key, nil
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	publicKey interface{}
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(publicKey interface{}, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		publicKey: publicKey,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		user, err := claims.User()
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithUser(r.Context(), user)
		if claims.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
		}

		m.logger.Debug(ctx, "Authentication successful", map[string]interface{}{
			"wallet": user.Wallet.Hex(),
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so those may pass access_token instead.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return parts[1], nil
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.publicKey, nil
	})
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, serviceErr)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"code":   serviceErr.Code,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
