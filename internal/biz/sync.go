package biz

import (
	"context"
	"fmt"
	"sort"
	"time"

	"Corva/internal/conf"
	"Corva/internal/data"
	pkglog "Corva/pkg/log"
	"Corva/pkg/normalize"
	"Corva/pkg/oauth"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPullWindow = 30 * 24 * time.Hour
	MaxPullWindow     = 90 * 24 * time.Hour

	defaultMemoTTL  = 60 * time.Second
	defaultMemoSize = 1024
)

// PullOptions are independent switches for one pull.
type PullOptions struct {
	// DryRun computes the result without writing it.
	DryRun bool
	// ForceRefresh skips the memo of recent fetches.
	ForceRefresh bool
	// UpdateMode merges by external id instead of replacing the range.
	UpdateMode bool
}

// ProviderSummary reports how one provider fared in a pull.
type ProviderSummary struct {
	Provider oauth.ProviderType `json:"provider"`
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
	Fetched  int                `json:"fetched"`
	Written  int                `json:"written"`
}

// PullResult is the merged slot list plus one summary entry per connected
// provider, both in provider registration order.
type PullResult struct {
	Slots   []oauth.Slot      `json:"slots"`
	Summary []ProviderSummary `json:"summary"`
}

// SyncUsecase is the availability pull orchestrator.
type SyncUsecase struct {
	creds         CredentialRepo
	slots         SlotRepo
	providers     ProviderRegistry
	tokens        *TokenUsecase
	memo          *expirable.LRU[string, []oauth.Slot]
	defaultWindow time.Duration
	maxWindow     time.Duration
	now           func() time.Time
	log           *pkglog.LogHelper
}

func NewSyncUsecase(
	creds CredentialRepo,
	slots SlotRepo,
	providers ProviderRegistry,
	tokens *TokenUsecase,
	c *conf.Sync,
	logger log.Logger,
) *SyncUsecase {
	memoTTL, memoSize := defaultMemoTTL, defaultMemoSize
	defaultWindow, maxWindow := DefaultPullWindow, MaxPullWindow
	if c != nil {
		if c.MemoTtl != nil {
			memoTTL = c.MemoTtl.AsDuration()
		}
		if c.MemoSize > 0 {
			memoSize = int(c.MemoSize)
		}
		if c.DefaultWindow != nil {
			defaultWindow = c.DefaultWindow.AsDuration()
		}
		if c.MaxWindow != nil {
			maxWindow = c.MaxWindow.AsDuration()
		}
	}
	return &SyncUsecase{
		creds:         creds,
		slots:         slots,
		providers:     providers,
		tokens:        tokens,
		memo:          expirable.NewLRU[string, []oauth.Slot](memoSize, nil, memoTTL),
		defaultWindow: defaultWindow,
		maxWindow:     maxWindow,
		now:           time.Now,
		log:           pkglog.NewLogHelper(logger),
	}
}

// ResolveRange fills a missing start with now, truncated to the minute so
// repeated default pulls share a memo key, and a missing end with start +
// default window, then validates the span.
func (uc *SyncUsecase) ResolveRange(start, end *time.Time) (oauth.DateRange, error) {
	r := oauth.DateRange{Start: uc.now().UTC().Truncate(time.Minute)}
	if start != nil {
		r.Start = start.UTC()
	}
	r.End = r.Start.Add(uc.defaultWindow)
	if end != nil {
		r.End = end.UTC()
	}
	if err := r.Validate(uc.maxWindow); err != nil {
		return oauth.DateRange{}, err
	}
	return r, nil
}

// Pull fetches slots from every connected provider concurrently. A failing
// provider is reported in the summary and never aborts the others.
func (uc *SyncUsecase) Pull(ctx context.Context, userID string, opts PullOptions, r oauth.DateRange) (*PullResult, error) {
	creds, err := uc.creds.ListCredentials(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connected providers: %w", err)
	}

	connected := make(map[oauth.ProviderType]bool, len(creds))
	for _, c := range creds {
		connected[c.Provider] = true
	}
	var targets []oauth.ProviderType
	for _, t := range uc.providers.Types() {
		if connected[t] {
			targets = append(targets, t)
			delete(connected, t)
		}
	}
	for t := range connected {
		uc.log.Warnw("msg", "skipping credential for unregistered provider", "user_id", userID, "provider", t, "type", "sync")
	}

	results := make([]providerPull, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i] = uc.pullProvider(ctx, userID, t, opts, r)
			return nil
		})
	}
	_ = g.Wait()

	out := &PullResult{
		Slots:   []oauth.Slot{},
		Summary: make([]ProviderSummary, 0, len(results)),
	}
	for _, res := range results {
		out.Slots = append(out.Slots, res.slots...)
		out.Summary = append(out.Summary, res.summary)
	}

	uc.log.Sync("availability pull finished",
		"user_id", userID,
		"providers", len(targets),
		"slots", len(out.Slots),
		"dry_run", opts.DryRun,
		"update_mode", opts.UpdateMode,
		"force_refresh", opts.ForceRefresh)
	return out, nil
}

type providerPull struct {
	slots   []oauth.Slot
	summary ProviderSummary
}

func (uc *SyncUsecase) pullProvider(ctx context.Context, userID string, provider oauth.ProviderType, opts PullOptions, r oauth.DateRange) providerPull {
	res := providerPull{summary: ProviderSummary{Provider: provider}}

	slots, err := uc.fetch(ctx, userID, provider, opts.ForceRefresh, r)
	if err != nil {
		uc.log.Warnw("msg", "provider pull failed", "user_id", userID, "provider", provider, "error", err, "type", "sync")
		res.summary.Error = err.Error()
		return res
	}
	res.slots = slots
	res.summary.Fetched = len(slots)
	res.summary.Success = true

	if opts.DryRun {
		return res
	}

	rows := make([]*data.SyncedSlot, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, data.NewSyncedSlot(userID, s))
	}
	var written int
	if opts.UpdateMode {
		written, err = uc.slots.MergeByExternalID(ctx, userID, provider, rows)
	} else {
		written, err = uc.slots.ReplaceRange(ctx, userID, provider, r.Start, r.End, rows)
	}
	if err != nil {
		uc.log.Errorw("msg", "failed to persist slots", "user_id", userID, "provider", provider, "error", err, "type", "sync")
		res.summary.Success = false
		res.summary.Error = fmt.Sprintf("failed to persist slots: %v", err)
		return res
	}
	res.summary.Written = written
	return res
}

// fetch returns normalized slots sorted by start time, served from the
// memo when a recent fetch for the same range exists. The credential is
// checked first, so a memo hit never masks a connection that needs
// reconnecting.
func (uc *SyncUsecase) fetch(ctx context.Context, userID string, provider oauth.ProviderType, force bool, r oauth.DateRange) ([]oauth.Slot, error) {
	token, err := uc.tokens.ValidToken(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("token unavailable: %w", err)
	}

	key := memoKey(userID, provider, r)
	if !force {
		if cached, ok := uc.memo.Get(key); ok {
			uc.log.Debugw("msg", "serving memoized pull", "user_id", userID, "provider", provider, "type", "sync")
			return append([]oauth.Slot(nil), cached...), nil
		}
	}
	p, err := uc.providers.Get(provider)
	if err != nil {
		return nil, err
	}
	raw, err := p.FetchSlots(ctx, r, token)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	slots := make([]oauth.Slot, 0, len(raw))
	for _, s := range raw {
		s.Provider = provider
		s.ServiceName = normalize.ServiceName(s.ServiceName)
		slots = append(slots, s)
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})

	uc.memo.Add(key, slots)
	return append([]oauth.Slot(nil), slots...), nil
}

func memoKey(userID string, provider oauth.ProviderType, r oauth.DateRange) string {
	return fmt.Sprintf("%s|%s|%d|%d", userID, provider, r.Start.Unix(), r.End.Unix())
}

// ListSynced returns persisted slots in r; an empty provider lists all.
func (uc *SyncUsecase) ListSynced(ctx context.Context, userID string, provider oauth.ProviderType, r oauth.DateRange) ([]oauth.Slot, error) {
	rows, err := uc.slots.ListRange(ctx, userID, provider, r.Start, r.End)
	if err != nil {
		return nil, err
	}
	slots := make([]oauth.Slot, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, oauth.Slot{
			Provider:    row.Provider,
			ExternalID:  row.ExternalID,
			StartTime:   row.StartTime,
			EndTime:     row.EndTime,
			Status:      row.Status,
			ServiceName: row.ServiceName,
		})
	}
	return slots, nil
}
