package biz

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Corva/internal/conf"
	"Corva/internal/data"
	"Corva/pkg/crypto"
	"Corva/pkg/oauth"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestCrypto(t *testing.T) *crypto.AESCrypto {
	t.Helper()
	c, err := crypto.NewAESCrypto([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)
	return c
}

// setupTestData returns a Data backed by miniredis only.
func setupTestData(t *testing.T) (*data.Data, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	d, cleanup, err := data.NewData(&conf.Data{}, log.DefaultLogger, nil, rdb)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return d, rdb, mr
}

// fakeCredentialRepo is an in-memory CredentialRepo.
type fakeCredentialRepo struct {
	mu      sync.Mutex
	rows    map[string]*data.Credential
	nextID  int64
	getErr  error
	listErr error
	delErr  error
	updErr  error
	updates []*data.TokenUpdate
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{rows: make(map[string]*data.Credential)}
}

func credKey(userID string, provider oauth.ProviderType) string {
	return userID + "|" + string(provider)
}

func (r *fakeCredentialRepo) put(c *data.Credential) *data.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c.ID = r.nextID
	if c.Status == "" {
		c.Status = data.CredentialActive
	}
	r.rows[credKey(c.UserID, c.Provider)] = c
	return c
}

func (r *fakeCredentialRepo) get(userID string, provider oauth.ProviderType) *data.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[credKey(userID, provider)]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (r *fakeCredentialRepo) GetCredential(ctx context.Context, userID string, provider oauth.ProviderType) (*data.Credential, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	if c := r.get(userID, provider); c != nil {
		return c, nil
	}
	return nil, data.ErrCredentialNotFound
}

func (r *fakeCredentialRepo) ListCredentials(ctx context.Context, userID string) ([]*data.Credential, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*data.Credential
	for _, c := range r.rows {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeCredentialRepo) UpsertCredential(ctx context.Context, cred *data.Credential) error {
	if existing := r.get(cred.UserID, cred.Provider); existing != nil {
		r.mu.Lock()
		cred.ID = existing.ID
		r.rows[credKey(cred.UserID, cred.Provider)] = cred
		r.mu.Unlock()
		return nil
	}
	r.put(cred)
	return nil
}

func (r *fakeCredentialRepo) byID(id int64) *data.Credential {
	for _, c := range r.rows {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (r *fakeCredentialRepo) UpdateToken(ctx context.Context, id int64, upd *data.TokenUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, upd)
	if r.updErr != nil {
		return r.updErr
	}
	c := r.byID(id)
	if c == nil {
		return data.ErrCredentialNotFound
	}
	c.AccessTokenEncrypted = upd.AccessTokenEncrypted
	if upd.RefreshTokenEncrypted != "" {
		c.RefreshTokenEncrypted = upd.RefreshTokenEncrypted
	}
	c.ExpiresAt = upd.ExpiresAt
	c.Status = data.CredentialActive
	return nil
}

func (r *fakeCredentialRepo) UpdateStatus(ctx context.Context, id int64, status data.CredentialStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.byID(id)
	if c == nil {
		return data.ErrCredentialNotFound
	}
	c.Status = status
	return nil
}

func (r *fakeCredentialRepo) DeleteCredential(ctx context.Context, userID string, provider oauth.ProviderType) (bool, error) {
	if r.delErr != nil {
		return false, r.delErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[credKey(userID, provider)]
	delete(r.rows, credKey(userID, provider))
	return ok, nil
}

func (r *fakeCredentialRepo) ListExpiring(ctx context.Context, threshold time.Time) ([]*data.Credential, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*data.Credential
	for _, c := range r.rows {
		if c.Status == data.CredentialActive && c.ExpiresAt != nil && !c.ExpiresAt.After(threshold) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeSlotRepo records writes.
type fakeSlotRepo struct {
	mu       sync.Mutex
	replaced map[oauth.ProviderType][]*data.SyncedSlot
	merged   map[oauth.ProviderType][]*data.SyncedSlot
	err      map[oauth.ProviderType]error
	listed   []*data.SyncedSlot
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{
		replaced: make(map[oauth.ProviderType][]*data.SyncedSlot),
		merged:   make(map[oauth.ProviderType][]*data.SyncedSlot),
		err:      make(map[oauth.ProviderType]error),
	}
}

func (r *fakeSlotRepo) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replaced) + len(r.merged)
}

func (r *fakeSlotRepo) ReplaceRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time, slots []*data.SyncedSlot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err[provider]; err != nil {
		return 0, err
	}
	r.replaced[provider] = slots
	return len(slots), nil
}

func (r *fakeSlotRepo) MergeByExternalID(ctx context.Context, userID string, provider oauth.ProviderType, slots []*data.SyncedSlot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err[provider]; err != nil {
		return 0, err
	}
	r.merged[provider] = slots
	return len(slots), nil
}

func (r *fakeSlotRepo) ListRange(ctx context.Context, userID string, provider oauth.ProviderType, start, end time.Time) ([]*data.SyncedSlot, error) {
	return r.listed, nil
}

// fakeAudit collects audit events.
type fakeAudit struct {
	mu     sync.Mutex
	events []data.AuditAction
}

func (a *fakeAudit) LogCredentialEvent(ctx context.Context, userID string, provider oauth.ProviderType, action data.AuditAction, details map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, action)
}

func (a *fakeAudit) actions() []data.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]data.AuditAction(nil), a.events...)
}

// fakeProvider is a scriptable oauth.Provider.
type fakeProvider struct {
	typ          oauth.ProviderType
	refreshCalls atomic.Int32
	fetchCalls   atomic.Int32
	revokeCalls  atomic.Int32
	refreshDelay time.Duration
	refresh      func(refreshToken string) (*oauth.Token, error)
	exchange     func(code string) (*oauth.Token, error)
	fetch        func(token string) ([]oauth.Slot, error)
	revokeErr    error
}

func (f *fakeProvider) Type() oauth.ProviderType { return f.typ }

func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://" + string(f.typ) + ".test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth.Token, error) {
	if f.exchange == nil {
		return nil, errors.New("exchange not scripted")
	}
	return f.exchange(code)
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}
	if f.refresh == nil {
		return nil, errors.New("refresh not scripted")
	}
	return f.refresh(refreshToken)
}

func (f *fakeProvider) Revoke(ctx context.Context, accessToken string) error {
	f.revokeCalls.Add(1)
	return f.revokeErr
}

func (f *fakeProvider) FetchSlots(ctx context.Context, r oauth.DateRange, accessToken string) ([]oauth.Slot, error) {
	f.fetchCalls.Add(1)
	if f.fetch == nil {
		return nil, nil
	}
	return f.fetch(accessToken)
}

// newTestManager registers providers on an oauth.Manager backed by rdb.
func newTestManager(rdb *redis.Client, providers ...oauth.Provider) *oauth.Manager {
	m := oauth.NewManager(rdb, 0, log.DefaultLogger)
	for _, p := range providers {
		m.Register(p)
	}
	return m
}

// storeCredential encrypts tokens and stores a credential row.
func storeCredential(t *testing.T, repo *fakeCredentialRepo, c *crypto.AESCrypto, userID string, provider oauth.ProviderType, access, refresh string, expiresAt *time.Time) *data.Credential {
	t.Helper()
	accessEnc, err := c.Encrypt(access)
	require.NoError(t, err)
	refreshEnc, err := c.Encrypt(refresh)
	require.NoError(t, err)
	return repo.put(&data.Credential{
		UserID:                userID,
		Provider:              provider,
		AccessTokenEncrypted:  accessEnc,
		RefreshTokenEncrypted: refreshEnc,
		ExpiresAt:             expiresAt,
	})
}

func timePtr(t time.Time) *time.Time { return &t }
