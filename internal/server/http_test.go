package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"Corva/internal/biz"
	"Corva/internal/conf"
	"Corva/internal/data"
	"Corva/internal/service"
	"Corva/pkg/crypto"
	"Corva/pkg/oauth"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const testJWTSecret = "test-jwt-secret"

type stubProvider struct {
	typ      oauth.ProviderType
	slots    []oauth.Slot
	fetchErr error
}

func (p *stubProvider) Type() oauth.ProviderType { return p.typ }

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://" + string(p.typ) + ".test/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) ExchangeCode(ctx context.Context, code string) (*oauth.Token, error) {
	return &oauth.Token{AccessToken: "at", RefreshToken: "rt"}, nil
}

func (p *stubProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	return nil, oauth.ErrInvalidGrant
}

func (p *stubProvider) Revoke(ctx context.Context, accessToken string) error { return nil }

func (p *stubProvider) FetchSlots(ctx context.Context, r oauth.DateRange, accessToken string) ([]oauth.Slot, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.slots, nil
}

type nopAudit struct{}

func (nopAudit) LogCredentialEvent(context.Context, string, oauth.ProviderType, data.AuditAction, map[string]interface{}) {
}

type testServer struct {
	srv    *http.Server
	mock   sqlmock.Sqlmock
	mr     *miniredis.Miniredis
	acuity *stubProvider
	square *stubProvider
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := log.DefaultLogger

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gormDB, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	d, cleanup, err := data.NewData(&conf.Data{}, logger, gormDB, rdb)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	aes, err := crypto.NewAESCrypto([]byte("12345678901234567890123456789012"))
	require.NoError(t, err)

	acuity := &stubProvider{typ: oauth.ProviderAcuity}
	square := &stubProvider{typ: oauth.ProviderSquare}
	manager := oauth.NewManager(rdb, 0, logger)
	manager.Register(acuity)
	manager.Register(square)

	syncConf := &conf.Sync{AppUrl: "https://app.corva.test"}
	creds := data.NewCredentialRepo(d, logger)
	counters := data.NewRateLimitRepo(d, logger)
	tokens := biz.NewTokenUsecase(creds, manager, counters, nopAudit{}, aes, syncConf, logger)

	srv := NewHTTPServer(
		&conf.Server{Http: &conf.ServerHTTP{}},
		&conf.Auth{Jwt: &conf.AuthJWT{Secret: testJWTSecret}},
		service.NewConnectionService(biz.NewConnectionUsecase(creds, manager, counters, nopAudit{}, aes, syncConf, logger), logger),
		service.NewAvailabilityService(biz.NewSyncUsecase(creds, data.NewSlotRepo(d, logger), manager, tokens, syncConf, logger), logger),
		service.NewCodeService(biz.NewOneTimeCodeUsecase(
			data.NewOneTimeCodeRepo(d, logger),
			biz.NewRateLimiterUseCase(counters, logger),
			&conf.Otp{},
			logger,
		), logger),
		logger,
	)
	return &testServer{srv: srv, mock: mock, mr: mr, acuity: acuity, square: square}
}

func sessionToken(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHTTP_Unauthenticated(t *testing.T) {
	ts := setupTestServer(t)

	for _, tc := range []struct{ method, path, token string }{
		{nethttp.MethodGet, "/api/square/status", ""},
		{nethttp.MethodPost, "/api/acuity/disconnect", ""},
		{nethttp.MethodGet, "/api/availability/pull", ""},
		{nethttp.MethodPost, "/api/generate-web-token", ""},
		{nethttp.MethodPost, "/api/otp/generate-otp", "not-a-jwt"},
		{nethttp.MethodGet, "/api/square/status", sessionToken(t, "user-1", -time.Minute)},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.token, nil)
			assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
			assert.Equal(t, map[string]interface{}{"error": "authentication required"}, decode(t, rec))
		})
	}
}

func TestHTTP_StatusNotConnected(t *testing.T) {
	ts := setupTestServer(t)
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `provider_credentials` WHERE user_id = ? AND provider = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := ts.do(t, nethttp.MethodGet, "/api/square/status", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"connected": false}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestHTTP_SessionCookie(t *testing.T) {
	ts := setupTestServer(t)
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `provider_credentials`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req := httptest.NewRequest(nethttp.MethodGet, "/api/acuity/status", nil)
	req.AddCookie(&nethttp.Cookie{Name: "sb-access-token", Value: sessionToken(t, "user-1", time.Hour)})
	rec := httptest.NewRecorder()
	ts.srv.ServeHTTP(rec, req)

	assert.Equal(t, nethttp.StatusOK, rec.Code)
}

func TestHTTP_UnknownProvider(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, nethttp.MethodGet, "/api/google/status", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHTTP_MalformedRequestsStillAuthenticate(t *testing.T) {
	ts := setupTestServer(t)

	for _, target := range []string{
		"/api/availability/pull?dryRun=maybe",
		"/api/availability/slots?provider=google",
		"/api/nope/status",
	} {
		t.Run(target, func(t *testing.T) {
			rec := ts.do(t, nethttp.MethodGet, target, "", nil)
			assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
			assert.Equal(t, map[string]interface{}{"error": "authentication required"}, decode(t, rec))
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}

	rec := ts.do(t, nethttp.MethodGet, "/api/availability/pull?dryRun=maybe", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHTTP_DisconnectWhenNotConnected(t *testing.T) {
	ts := setupTestServer(t)
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `provider_credentials`")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := ts.do(t, nethttp.MethodPost, "/api/acuity/disconnect", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"success": true, "result": "success"}, decode(t, rec))
}

func TestHTTP_DisconnectDeleteFailure(t *testing.T) {
	ts := setupTestServer(t)
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `provider_credentials`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "provider", "access_token_encrypted", "status"}).
			AddRow(1, "user-1", "square", "", "active"))
	ts.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `provider_credentials`")).
		WillReturnError(assert.AnError)

	rec := ts.do(t, nethttp.MethodPost, "/api/square/disconnect", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "failed to disconnect square", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestHTTP_AuthorizeRedirect(t *testing.T) {
	ts := setupTestServer(t)
	token := sessionToken(t, "user-1", time.Hour)

	rec := ts.do(t, nethttp.MethodGet, "/api/acuity/authorize?returnUrl=/settings", token, nil)
	require.Equal(t, nethttp.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "acuity.test", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.True(t, ts.mr.Exists(oauth.StateKeyPrefix+state))

	rec = ts.do(t, nethttp.MethodGet, "/api/acuity/authorize?returnUrl=https://evil.test", token, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestHTTP_CallbackRejectsBadState(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(t, nethttp.MethodGet, "/api/square/callback?state=forged&code=abc", "", nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = ts.do(t, nethttp.MethodGet, "/api/square/callback?error=access_denied", "", nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
}

func TestHTTP_CallbackStoresCredential(t *testing.T) {
	ts := setupTestServer(t)
	token := sessionToken(t, "user-1", time.Hour)

	rec := ts.do(t, nethttp.MethodGet, "/api/square/authorize?returnUrl=corva://settings", token, nil)
	require.Equal(t, nethttp.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	ts.mock.ExpectExec("INSERT INTO `provider_credentials` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec = ts.do(t, nethttp.MethodGet, "/api/square/callback?code=abc&state="+loc.Query().Get("state"), "", nil)
	require.Equal(t, nethttp.StatusFound, rec.Code)
	assert.Equal(t, "corva://settings?connected=square", rec.Header().Get("Location"))
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestHTTP_PullValidation(t *testing.T) {
	ts := setupTestServer(t)
	token := sessionToken(t, "user-1", time.Hour)

	for _, q := range []string{
		"?dryRun=maybe",
		"?start=2025-03-10&end=2025-03-01",
		"?start=2025-01-01&end=2025-12-31",
		"?start=yesterday",
	} {
		rec := ts.do(t, nethttp.MethodGet, "/api/availability/pull"+q, token, nil)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code, q)
		assert.NotEmpty(t, decode(t, rec)["error"])
	}
}

func TestHTTP_PullWithoutConnections(t *testing.T) {
	ts := setupTestServer(t)
	ts.mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `provider_credentials` WHERE user_id = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := ts.do(t, nethttp.MethodGet, "/api/availability/pull?dryRun=true&mode=update", sessionToken(t, "user-1", time.Hour), nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"slots": []interface{}{}, "summary": []interface{}{}}, decode(t, rec))
}

func TestHTTP_PullPartialFailure(t *testing.T) {
	ts := setupTestServer(t)
	ts.acuity.fetchErr = errors.New("acuity returned 503")
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	ts.square.slots = []oauth.Slot{
		{ExternalID: "s1", StartTime: start, EndTime: start.Add(30 * time.Minute), Status: oauth.SlotBooked, ServiceName: "beard trim"},
	}

	// Providers load their credentials concurrently.
	ts.mock.MatchExpectationsInOrder(false)
	columns := []string{"id", "user_id", "provider", "access_token_encrypted", "status"}
	ts.mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = ? ORDER BY id ASC")).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, "user-1", "acuity", "", "active").
			AddRow(2, "user-1", "square", "", "active"))
	for i := 0; i < 2; i++ {
		ts.mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = ? AND provider = ?")).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "user-1", "acuity", "", "active"))
	}

	rec := ts.do(t, nethttp.MethodGet, "/api/availability/pull?dryRun=true", sessionToken(t, "user-1", time.Hour), nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())

	var res biz.PullResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Slots, 1)
	assert.Equal(t, oauth.ProviderSquare, res.Slots[0].Provider)
	assert.Equal(t, "s1", res.Slots[0].ExternalID)

	require.Len(t, res.Summary, 2)
	assert.Equal(t, oauth.ProviderAcuity, res.Summary[0].Provider)
	assert.False(t, res.Summary[0].Success)
	assert.Contains(t, res.Summary[0].Error, "acuity returned 503")
	assert.Equal(t, biz.ProviderSummary{Provider: oauth.ProviderSquare, Success: true, Fetched: 1}, res.Summary[1])
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestHTTP_OneTimeCodes(t *testing.T) {
	ts := setupTestServer(t)
	token := sessionToken(t, "user-1", time.Hour)

	rec := ts.do(t, nethttp.MethodPost, "/api/otp/generate-otp", token, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	otp := decode(t, rec)
	assert.Regexp(t, `^\d{6}$`, otp["code"])
	assert.EqualValues(t, 600, otp["expiresIn"])

	rec = ts.do(t, nethttp.MethodPost, "/api/otp/verify", "", map[string]string{"code": otp["code"].(string)})
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"userId": "user-1"}, decode(t, rec))

	rec = ts.do(t, nethttp.MethodPost, "/api/otp/verify", "", map[string]string{"code": otp["code"].(string)})
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	rec = ts.do(t, nethttp.MethodPost, "/api/otp/verify", "", map[string]string{})
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = ts.do(t, nethttp.MethodPost, "/api/generate-web-token", token, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	web := decode(t, rec)
	assert.EqualValues(t, 300, web["expiresIn"])
	assert.Len(t, web["token"], 43)
}

func TestHTTP_OneTimeCodeRateLimit(t *testing.T) {
	ts := setupTestServer(t)
	token := sessionToken(t, "user-1", time.Hour)

	for i := 0; i < 5; i++ {
		rec := ts.do(t, nethttp.MethodPost, "/api/otp/generate-otp", token, nil)
		require.Equal(t, nethttp.StatusOK, rec.Code)
	}
	rec := ts.do(t, nethttp.MethodPost, "/api/otp/generate-otp", token, nil)
	assert.Equal(t, nethttp.StatusTooManyRequests, rec.Code)
}

func TestHTTP_VerifyThrottlesGuessing(t *testing.T) {
	ts := setupTestServer(t)

	verify := func(code, clientIP string) *httptest.ResponseRecorder {
		body, err := json.Marshal(map[string]string{"code": code})
		require.NoError(t, err)
		req := httptest.NewRequest(nethttp.MethodPost, "/api/otp/verify", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Real-IP", clientIP)
		rec := httptest.NewRecorder()
		ts.srv.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 10; i++ {
		rec := verify(fmt.Sprintf("%06d", i), "203.0.113.7")
		require.Equal(t, nethttp.StatusNotFound, rec.Code)
	}
	rec := verify("000010", "203.0.113.7")
	assert.Equal(t, nethttp.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["error"])

	// Another client keeps its own budget.
	rec = verify("000011", "198.51.100.4")
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}
