package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"Corva/internal/biz"
	pkgerrors "Corva/pkg/errors"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AvailabilityService serves the pull orchestrator and the synced slot list.
type AvailabilityService struct {
	uc     *biz.SyncUsecase
	logger *log.Helper
}

func NewAvailabilityService(uc *biz.SyncUsecase, logger log.Logger) *AvailabilityService {
	return &AvailabilityService{
		uc:     uc,
		logger: log.NewHelper(logger),
	}
}

type pullRequest struct {
	Options biz.PullOptions
	Start   *time.Time
	End     *time.Time
}

type listSlotsRequest struct {
	Provider oauth.ProviderType
	Start    *time.Time
	End      *time.Time
}

// SlotsReply is the body of GET /api/availability/slots.
type SlotsReply struct {
	Slots []oauth.Slot `json:"slots"`
}

// RegisterRoutes mounts the availability routes on r.
func (s *AvailabilityService) RegisterRoutes(r *http.Router) {
	r.GET("/api/availability/pull", route(OperationPull, bindPull, s.Pull))
	r.GET("/api/availability/slots", route(OperationListSlots, bindListSlots, s.ListSlots))
}

func bindPull(ctx http.Context, in *pullRequest) error {
	q := ctx.Query()
	var err error
	if in.Options.DryRun, err = parseBool(q.Get("dryRun")); err != nil {
		return pkgerrors.Validation("dryRun: %v", err)
	}
	if in.Options.ForceRefresh, err = parseBool(q.Get("forceRefresh")); err != nil {
		return pkgerrors.Validation("forceRefresh: %v", err)
	}
	in.Options.UpdateMode = strings.EqualFold(q.Get("mode"), "update")
	in.Start, in.End, err = parseBounds(q.Get("start"), q.Get("end"))
	return err
}

func bindListSlots(ctx http.Context, in *listSlotsRequest) error {
	q := ctx.Query()
	if raw := q.Get("provider"); raw != "" {
		p, err := oauth.ParseProviderType(strings.ToLower(raw))
		if err != nil {
			return pkgerrors.Validation("provider: %v", err)
		}
		in.Provider = p
	}
	var err error
	in.Start, in.End, err = parseBounds(q.Get("start"), q.Get("end"))
	return err
}

func parseBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}

// parseBounds accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseBounds(rawStart, rawEnd string) (*time.Time, *time.Time, error) {
	start, err := parseTime(rawStart)
	if err != nil {
		return nil, nil, pkgerrors.Validation("start: %v", err)
	}
	end, err := parseTime(rawEnd)
	if err != nil {
		return nil, nil, pkgerrors.Validation("end: %v", err)
	}
	return start, end, nil
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Pull answers 200 even when some providers failed; see the summary.
func (s *AvailabilityService) Pull(ctx context.Context, req *pullRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.uc.ResolveRange(req.Start, req.End)
	if err != nil {
		return nil, toHTTPError("invalid range", err)
	}
	res, err := s.uc.Pull(ctx, userID, req.Options, r)
	if err != nil {
		s.logger.Errorw("msg", "availability pull failed", "user_id", userID, "error", err)
		return nil, toHTTPError("failed to pull availability", err)
	}
	return res, nil
}

func (s *AvailabilityService) ListSlots(ctx context.Context, req *listSlotsRequest) (interface{}, error) {
	userID, err := currentUser(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.uc.ResolveRange(req.Start, req.End)
	if err != nil {
		return nil, toHTTPError("invalid range", err)
	}
	slots, err := s.uc.ListSynced(ctx, userID, req.Provider, r)
	if err != nil {
		return nil, toHTTPError("failed to list slots", err)
	}
	return &SlotsReply{Slots: slots}, nil
}
