package transport

import (
	"context"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
	"github.com/haasonsaas/nexus/pkg/orcherr"
)

// TokenValidator resolves an opaque bearer token carried in the
// WebSocket handshake to the user it authenticates, per spec.md §6's
// "Connection authentication is an opaque bearer token carried in the
// handshake; expired/invalid tokens cause handshake rejection."
// Implementations live outside this package (session token lookup,
// an identity provider, etc.).
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*models.UserContext, error)
}

// bearerPrefix is the conventional Authorization header scheme; the
// handshake also accepts a bare token with no scheme, since spec.md §6
// only specifies "an opaque bearer token," not a header format.
const bearerPrefix = "Bearer "

// ExtractToken pulls the opaque token out of a raw Authorization header
// value (or query parameter value), stripping the "Bearer " scheme if
// present.
func ExtractToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, bearerPrefix) {
		return strings.TrimSpace(raw[len(bearerPrefix):])
	}
	return raw
}

// Authenticate validates a handshake's bearer token and returns the
// authenticated user, or a PermissionDenied error if the token is
// missing, invalid, or expired. The caller (the external router) rejects
// the handshake on any error return.
func Authenticate(ctx context.Context, validator TokenValidator, rawToken string) (*models.UserContext, error) {
	token := ExtractToken(rawToken)
	if token == "" {
		return nil, orcherr.New(orcherr.KindPermissionDenied, "transport.authenticate",
			"a connection token is required")
	}
	uctx, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return nil, orcherr.Wrap(orcherr.KindPermissionDenied, "transport.authenticate",
			"your session token is invalid or has expired", err)
	}
	return uctx, nil
}
