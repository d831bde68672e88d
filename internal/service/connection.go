package service

import (
	"context"

	"Corva/internal/biz"
	pkgerrors "Corva/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ConnectionService serves the per-provider connect, status and disconnect
// routes under /api/{provider}.
type ConnectionService struct {
	uc     *biz.ConnectionUsecase
	logger *log.Helper
}

func NewConnectionService(uc *biz.ConnectionUsecase, logger log.Logger) *ConnectionService {
	return &ConnectionService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// DisconnectReply is the body of POST /api/{provider}/disconnect.
type DisconnectReply struct {
	Success bool                 `json:"success"`
	Result  biz.DisconnectResult `json:"result"`
}

type authorizeRequest struct {
	providerRequest
	ReturnURL string
}

type callbackRequest struct {
	providerRequest
	State string
	Code  string
	Error string
}

// RegisterRoutes mounts the connection routes on r.
func (s *ConnectionService) RegisterRoutes(r *http.Router) {
	r.GET("/api/{provider}/status", route(OperationStatus, bindProvider, s.Status))
	r.POST("/api/{provider}/disconnect", route(OperationDisconnect, bindProvider, s.Disconnect))
	r.GET("/api/{provider}/authorize", route(OperationAuthorize, bindAuthorize, s.Authorize))
	r.GET("/api/{provider}/callback", route(OperationCallback, bindCallback, s.Callback))
}

func bindAuthorize(ctx http.Context, in *authorizeRequest) error {
	if err := bindProvider(ctx, &in.providerRequest); err != nil {
		return err
	}
	in.ReturnURL = ctx.Query().Get("returnUrl")
	return nil
}

func bindCallback(ctx http.Context, in *callbackRequest) error {
	if err := bindProvider(ctx, &in.providerRequest); err != nil {
		return err
	}
	q := ctx.Query()
	in.State = q.Get("state")
	in.Code = q.Get("code")
	in.Error = q.Get("error")
	return nil
}

// Status never fails once authenticated: an unreadable credential renders
// as not connected.
func (s *ConnectionService) Status(ctx context.Context, req *providerRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	return s.uc.Status(ctx, userID, req.Provider), nil
}

func (s *ConnectionService) Disconnect(ctx context.Context, req *providerRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.uc.Disconnect(ctx, userID, req.Provider)
	if err != nil {
		s.logger.Errorw("msg", "disconnect failed", "user_id", userID, "provider", req.Provider, "error", err)
		return nil, toHTTPError("failed to disconnect "+string(req.Provider), err)
	}
	return &DisconnectReply{Success: true, Result: result}, nil
}

// Authorize redirects the browser to the provider consent page.
func (s *ConnectionService) Authorize(ctx context.Context, req *authorizeRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	authURL, err := s.uc.Authorize(ctx, userID, req.Provider, req.ReturnURL)
	if err != nil {
		return nil, toHTTPError("failed to start authorization", err)
	}
	return http.NewRedirect(authURL, 302), nil
}

// Callback is reached by the provider redirect, without a session.
func (s *ConnectionService) Callback(ctx context.Context, req *callbackRequest) (interface{}, error) {
	if req.Error != "" {
		// The user denied consent; the state is left to expire.
		s.logger.Warnw("msg", "provider returned authorization error", "provider", req.Provider, "error", req.Error)
		return nil, pkgerrors.Validation("authorization was not granted: %s", req.Error)
	}
	if req.State == "" || req.Code == "" {
		return nil, pkgerrors.Validation("state and code are required")
	}
	target, err := s.uc.Callback(ctx, req.Provider, req.State, req.Code)
	if err != nil {
		return nil, toHTTPError("failed to complete authorization", err)
	}
	return http.NewRedirect(target, 302), nil
}
