// Package service exposes the biz use cases as HTTP routes.
package service

import (
	"context"
	"errors"
	"strings"

	"Corva/internal/biz"
	"Corva/internal/server/middleware"
	pkgerrors "Corva/pkg/errors"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewConnectionService, NewAvailabilityService, NewCodeService)

// Operation names, used for middleware selection and access logs.
const (
	OperationStatus      = "/corva.connection/Status"
	OperationDisconnect  = "/corva.connection/Disconnect"
	OperationAuthorize   = "/corva.connection/Authorize"
	OperationCallback    = "/corva.connection/Callback"
	OperationPull        = "/corva.availability/Pull"
	OperationListSlots   = "/corva.availability/ListSlots"
	OperationWebToken    = "/corva.code/GenerateWebToken"
	OperationGenerateOTP = "/corva.code/GenerateOTP"
	OperationVerifyOTP   = "/corva.code/VerifyOTP"
)

// publicOperations skip session authentication.
var publicOperations = map[string]bool{
	OperationCallback:  true,
	OperationVerifyOTP: true,
}

// RequiresAuth is the selector match for the auth middleware.
func RequiresAuth(_ context.Context, operation string) bool {
	return !publicOperations[operation]
}

// route adapts fn to a Kratos handler that runs the server middleware
// chain under operation, the way generated HTTP bindings do. Binding runs
// inside the chain, so malformed requests are still authenticated, logged
// and tagged with a request id.
func route[Req any](operation string, bind func(http.Context, *Req) error, fn func(context.Context, *Req) (interface{}, error)) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, operation)
		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			in := req.(*Req)
			if bind != nil {
				if err := bind(ctx, in); err != nil {
					return nil, err
				}
			}
			return fn(c, in)
		})
		out, err := h(ctx, new(Req))
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

// currentUser returns the authenticated user id.
func currentUser(ctx context.Context) (string, error) {
	userID, ok := middleware.UserIDFromContext(ctx)
	if !ok {
		return "", pkgerrors.Unauthenticated("authentication required")
	}
	return userID, nil
}

type providerRequest struct {
	Provider oauth.ProviderType
}

func bindProvider(ctx http.Context, in *providerRequest) error {
	p, err := oauth.ParseProviderType(strings.ToLower(ctx.Vars().Get("provider")))
	if err != nil {
		return pkgerrors.NotFound(err.Error())
	}
	in.Provider = p
	return nil
}

// toHTTPError maps biz errors onto the transport taxonomy.
func toHTTPError(msg string, err error) error {
	var limited *biz.RateLimitExceededError
	switch {
	case errors.Is(err, biz.ErrInvalidReturnURL),
		errors.Is(err, biz.ErrInvalidState),
		errors.Is(err, oauth.ErrInvalidRange):
		return pkgerrors.Validation("%s", err.Error())
	case errors.Is(err, oauth.ErrUnsupportedProvider):
		return pkgerrors.NotFound(err.Error())
	case errors.Is(err, biz.ErrCodeNotFound):
		return pkgerrors.NotFound(err.Error())
	case errors.As(err, &limited):
		return pkgerrors.RateLimited(err.Error())
	}
	return pkgerrors.Internal(msg, err)
}
