// Package middleware provides HTTP middleware for authentication and request
// logging.
package middleware

import (
	"context"
	"errors"
	"strings"

	"Corva/internal/conf"
	pkgerrors "Corva/pkg/errors"
	pkglog "Corva/pkg/log"

	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionCookie is the cookie the identity backend stores its
// access token in.
const DefaultSessionCookie = "sb-access-token"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const userIDContextKey contextKey = "user_id"

var errNoToken = errors.New("no session token")

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the user id set by Auth.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok && userID != ""
}

// Auth verifies the HS256 session JWT from the Authorization header or the
// session cookie and puts its subject on the context. Requests without a
// valid token fail with 401.
func Auth(c *conf.AuthJWT, logger *pkglog.LogHelper) middleware.Middleware {
	secret := []byte(c.Secret)
	cookieName := c.Cookie
	if cookieName == "" {
		cookieName = DefaultSessionCookie
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			raw, err := sessionToken(ctx, cookieName)
			if err != nil {
				logger.Auth("unauthenticated request", "reason", err)
				return nil, pkgerrors.Unauthenticated("authentication required")
			}

			token, err := parser.Parse(raw, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				logger.Auth("invalid session token", "reason", err)
				return nil, pkgerrors.Unauthenticated("authentication required")
			}
			userID, err := token.Claims.GetSubject()
			if err != nil || userID == "" {
				logger.Auth("session token without subject")
				return nil, pkgerrors.Unauthenticated("authentication required")
			}

			pkglog.SetUserID(ctx, userID)
			return handler(WithUserID(ctx, userID), req)
		}
	}
}

// sessionToken prefers "Authorization: Bearer" over the cookie.
func sessionToken(ctx context.Context, cookieName string) (string, error) {
	tr, ok := transport.FromServerContext(ctx)
	if !ok {
		return "", errNoToken
	}
	if header := tr.RequestHeader().Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return strings.TrimSpace(parts[1]), nil
		}
	}
	if ht, ok := tr.(http.Transporter); ok {
		if cookie, err := ht.Request().Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", errNoToken
}
