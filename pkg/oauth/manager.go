package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Corva/pkg/oauth/util"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	StateKeyPrefix  = "oauth_state:"
	DefaultStateTTL = 10 * time.Minute
)

var (
	ErrStateNotFound       = errors.New("oauth state not found or expired")
	ErrStateMismatch       = errors.New("oauth state was issued for another provider")
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrStateStoreMissing   = errors.New("oauth state store is not configured")
)

// PendingAuth is stored under the state parameter between the redirect to
// the provider and its callback.
type PendingAuth struct {
	UserID    string       `json:"user_id"`
	Provider  ProviderType `json:"provider"`
	ReturnURL string       `json:"return_url"`
	CreatedAt time.Time    `json:"created_at"`
}

// Manager is the registry of provider adapters. It also owns the pending
// authorization state in Redis.
type Manager struct {
	providers map[ProviderType]Provider
	order     []ProviderType
	redis     *redis.Client
	stateTTL  time.Duration
	logger    *log.Helper
}

func NewManager(rdb *redis.Client, stateTTL time.Duration, logger log.Logger) *Manager {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &Manager{
		providers: make(map[ProviderType]Provider),
		redis:     rdb,
		stateTTL:  stateTTL,
		logger:    log.NewHelper(logger),
	}
}

// Register adds p. Registering the same type twice replaces the adapter but
// keeps its original position.
func (m *Manager) Register(p Provider) {
	if _, exists := m.providers[p.Type()]; !exists {
		m.order = append(m.order, p.Type())
	}
	m.providers[p.Type()] = p
	m.logger.Infof("Registered calendar provider: %s", p.Type())
}

// Get returns the adapter for t.
func (m *Manager) Get(t ProviderType) (Provider, error) {
	p, ok := m.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, t)
	}
	return p, nil
}

// Types lists registered providers in registration order.
func (m *Manager) Types() []ProviderType {
	out := make([]ProviderType, len(m.order))
	copy(out, m.order)
	return out
}

// BeginAuth records a pending authorization for userID and returns the
// provider consent URL.
func (m *Manager) BeginAuth(ctx context.Context, t ProviderType, userID, returnURL string) (string, error) {
	p, err := m.Get(t)
	if err != nil {
		return "", err
	}

	state, err := util.GenerateState()
	if err != nil {
		return "", err
	}

	pending := &PendingAuth{
		UserID:    userID,
		Provider:  t,
		ReturnURL: returnURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.saveState(ctx, state, pending); err != nil {
		return "", err
	}

	m.logger.Infow("msg", "oauth authorization started", "provider", t, "user_id", userID)
	return p.AuthCodeURL(state), nil
}

// CompleteAuth consumes state and exchanges code with provider t. A state
// can be used once, and only on the callback of the provider it was issued
// for.
func (m *Manager) CompleteAuth(ctx context.Context, t ProviderType, state, code string) (*PendingAuth, *Token, error) {
	pending, err := m.takeState(ctx, state)
	if err != nil {
		return nil, nil, err
	}
	if pending.Provider != t {
		return pending, nil, fmt.Errorf("%w: state for %s used on %s callback", ErrStateMismatch, pending.Provider, t)
	}

	p, err := m.Get(pending.Provider)
	if err != nil {
		return pending, nil, err
	}

	token, err := p.ExchangeCode(ctx, code)
	if err != nil {
		return pending, nil, fmt.Errorf("%s code exchange: %w", pending.Provider, err)
	}

	m.logger.Infow("msg", "oauth authorization completed", "provider", pending.Provider, "user_id", pending.UserID)
	return pending, token, nil
}

func (m *Manager) saveState(ctx context.Context, state string, pending *PendingAuth) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal oauth state: %w", err)
	}
	if m.redis == nil {
		return ErrStateStoreMissing
	}
	if err := m.redis.Set(ctx, StateKeyPrefix+state, data, m.stateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// takeState reads and deletes the state in one round trip.
func (m *Manager) takeState(ctx context.Context, state string) (*PendingAuth, error) {
	if state == "" {
		return nil, ErrStateNotFound
	}
	if m.redis == nil {
		return nil, ErrStateStoreMissing
	}

	data, err := m.redis.GetDel(ctx, StateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth state: %w", err)
	}

	var pending PendingAuth
	if err := json.Unmarshal([]byte(data), &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}
	return &pending, nil
}
