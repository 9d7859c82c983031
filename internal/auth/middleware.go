package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	ErrMissingCredential    = errors.New("Authorization header is missing")
	ErrMalformedCredential  = errors.New("Invalid authorization header format")
	ErrAuthenticationFailed = errors.New("Authentication failed")
)

// Identity is the resolved subject of a verified bearer token.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// Verifier checks a bearer token with an identity provider and resolves the
// canonical subject record.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type contextKey string

const identityKey contextKey = "authIdentity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom retrieves the authenticated subject from context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	id, ok := ctx.Value(identityKey).(*Identity)
	if !ok || id == nil || id.UID == "" {
		return nil, false
	}
	return id, true
}

// GetUserID retrieves the authenticated subject id from context.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return "", false
	}
	return id.UID, true
}

// Middleware rejects requests without a valid bearer token and injects the
// resolved identity into the request context. Handlers behind it never run
// for unauthenticated requests.
func Middleware(verifier Verifier, logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("auth")

	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, err)
			return
		}

		id, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Info("token verification failed", zap.Error(err), zap.String("path", c.FullPath()))
			unauthorized(c, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err))
			return
		}
		if id == nil || id.UID == "" {
			unauthorized(c, fmt.Errorf("%w: token has no subject", ErrAuthenticationFailed))
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Set(string(identityKey), id)

		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingCredential
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedCredential
	}
	return parts[1], nil
}

func unauthorized(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
}
