package service

import (
	"context"
	"strings"

	"Corva/internal/biz"
	"Corva/internal/server/middleware"
	pkgerrors "Corva/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// CodeService issues and redeems one-time codes.
type CodeService struct {
	uc     *biz.OneTimeCodeUsecase
	logger *log.Helper
}

func NewCodeService(uc *biz.OneTimeCodeUsecase, logger log.Logger) *CodeService {
	return &CodeService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

// WebTokenReply is the body of POST /api/generate-web-token.
type WebTokenReply struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// OTPReply is the body of POST /api/otp/generate-otp.
type OTPReply struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expiresIn"`
}

// VerifyRequest is the body of POST /api/otp/verify.
type VerifyRequest struct {
	Code string `json:"code"`
}

// VerifyReply carries the identity the code was issued for.
type VerifyReply struct {
	UserID string `json:"userId"`
}

type emptyRequest struct{}

// RegisterRoutes mounts the one-time code routes on r.
func (s *CodeService) RegisterRoutes(r *http.Router) {
	r.POST("/api/generate-web-token", route(OperationWebToken, nil, s.GenerateWebToken))
	r.POST("/api/otp/generate-otp", route(OperationGenerateOTP, nil, s.GenerateOTP))
	r.POST("/api/otp/verify", route(OperationVerifyOTP, bindVerify, s.Verify))
}

func bindVerify(ctx http.Context, in *VerifyRequest) error {
	if err := ctx.Bind(in); err != nil {
		return pkgerrors.Validation("invalid request body")
	}
	return nil
}

func (s *CodeService) GenerateWebToken(ctx context.Context, _ *emptyRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	issued, err := s.uc.IssueWebToken(ctx, userID)
	if err != nil {
		return nil, toHTTPError("failed to generate web token", err)
	}
	return &WebTokenReply{Token: issued.Code, ExpiresIn: int64(issued.ExpiresIn.Seconds())}, nil
}

func (s *CodeService) GenerateOTP(ctx context.Context, _ *emptyRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	issued, err := s.uc.IssueOTP(ctx, userID)
	if err != nil {
		return nil, toHTTPError("failed to generate code", err)
	}
	return &OTPReply{Code: issued.Code, ExpiresIn: int64(issued.ExpiresIn.Seconds())}, nil
}

// Verify consumes a code. It is public: the code itself is the credential.
func (s *CodeService) Verify(ctx context.Context, req *VerifyRequest) (interface{}, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, pkgerrors.Validation("code is required")
	}
	var client string
	if r, ok := http.RequestFromServerContext(ctx); ok {
		client = middleware.ClientIP(r)
	}
	userID, err := s.uc.Redeem(ctx, code, client)
	if err != nil {
		return nil, toHTTPError("failed to verify code", err)
	}
	return &VerifyReply{UserID: userID}, nil
}
