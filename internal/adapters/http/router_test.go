package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmsrsd/strn-app/internal/adapters/db/sqlite"
	"github.com/jmsrsd/strn-app/internal/adapters/rpcjson"
	"github.com/jmsrsd/strn-app/internal/application"
	"github.com/jmsrsd/strn-app/internal/config"
	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/jmsrsd/strn-app/internal/eav"
	"github.com/jmsrsd/strn-app/internal/logging"
	"github.com/jmsrsd/strn-app/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu    sync.Mutex
	links []string
}

func (o *outbox) SendMagicLink(_ context.Context, _ string, link string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links = append(o.links, link)
	return nil
}

func (o *outbox) last(t *testing.T) *url.URL {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.links)
	u, err := url.Parse(o.links[len(o.links)-1])
	require.NoError(t, err)
	return u
}

type testServer struct {
	router http.Handler
	store  *application.StoreService
	outbox *outbox
}

func newTestServer(t *testing.T, burst int, tweaks ...func(*Options)) testServer {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "http_test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, sqlite.RunMigrations(ctx, db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logging.Discard()
	mail := &outbox{}
	auth := application.NewAuthService(sqlite.NewAccountRepository(db), mail, log)
	require.NoError(t, auth.BootstrapAdmin(ctx, "admin@example.com", "secret"))
	store := application.NewStoreService(eav.New(db), config.DefaultSchema(), "web")
	m := metrics.New()
	base := "http://strn.test"

	opts := Options{
		Store:      store,
		Auth:       auth,
		RPC:        rpcjson.NewDispatcher(store, auth, m, log, base),
		Metrics:    m,
		Log:        log,
		BaseURL:    base,
		LoginEvery: time.Hour,
		LoginBurst: burst,
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	router := NewRouter(opts)
	return testServer{router: router, store: store, outbox: mail}
}

func (s testServer) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T) http.Header {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "admin@example.com", "password": "secret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return http.Header{"Authorization": []string{"Bearer " + out.Token}}
}

func TestLoginAndWhoAmI(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/api/auth/whoami", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "admin@example.com", "password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	auth := s.login(t)
	rec = s.do(t, http.MethodGet, "/api/auth/whoami", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var identity domain.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "admin@example.com", identity.Email)
	assert.Equal(t, domain.RoleAdmin, identity.Role)

	rec = s.do(t, http.MethodPost, "/api/auth/logout", nil, auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/auth/whoami", nil, auth)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMagicLinkSetsSessionCookie(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodPost, "/api/auth/magic-link", map[string]any{"email": "reader@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	link := s.outbox.last(t)
	assert.Equal(t, "strn.test", link.Host)
	assert.Equal(t, "/auth/magic", link.Path)

	rec = s.do(t, http.MethodGet, link.RequestURI(), nil, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/api/auth/whoami", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	header := http.Header{"Cookie": []string{cookies[0].Name + "=" + cookies[0].Value}}
	rec = s.do(t, http.MethodGet, "/api/auth/whoami", nil, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"guest"`)

	rec = s.do(t, http.MethodGet, link.RequestURI(), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMagicLinkRequestsAreRateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	body := map[string]any{"email": "reader@example.com"}

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/auth/magic-link", body, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/api/auth/magic-link", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	for i := 0; i < 5; i++ {
		header := http.Header{"X-Real-Ip": []string{fmt.Sprintf("10.0.0.%d", i)}}
		rec = s.do(t, http.MethodPost, "/api/auth/magic-link", body, header)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "forwarded address must not open a new bucket")
	}
}

func TestRateLimitHonoursForwardedAddressBehindProxy(t *testing.T) {
	s := newTestServer(t, 1, func(o *Options) { o.TrustProxy = true })
	body := map[string]any{"email": "reader@example.com"}
	first := http.Header{"X-Real-Ip": []string{"10.1.2.3"}}

	rec := s.do(t, http.MethodPost, "/api/auth/magic-link", body, first)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/auth/magic-link", body, first)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/magic-link", body, http.Header{"X-Real-Ip": []string{"10.9.9.9"}})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestRPCAuthProceduresShareLoginLimit(t *testing.T) {
	s := newTestServer(t, 2)
	guess := func(id int) string {
		call := map[string]any{"jsonrpc": "2.0", "id": id, "method": "auth.login", "params": map[string]any{"email": "admin@example.com", "password": "guess"}}
		rec := s.do(t, http.MethodPost, "/api/rpc", call, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	assert.Contains(t, guess(1), `"code":40100`)
	assert.Contains(t, guess(2), `"code":40100`)
	assert.Contains(t, guess(3), `"code":42900`)

	call := map[string]any{"jsonrpc": "2.0", "id": 4, "method": "auth.magic.request", "params": map[string]any{"email": "reader@example.com"}}
	rec := s.do(t, http.MethodPost, "/api/rpc", call, nil)
	assert.Contains(t, rec.Body.String(), `"code":42900`)
	assert.Empty(t, s.outbox.links)

	rec = s.do(t, http.MethodPost, "/api/auth/login", map[string]any{"email": "admin@example.com", "password": "secret"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	call = map[string]any{"jsonrpc": "2.0", "id": 5, "method": "domain.list"}
	rec = s.do(t, http.MethodPost, "/api/rpc", call, nil)
	assert.Contains(t, rec.Body.String(), `"code":40100`)
}

func TestRPCOverHTTPUsesBearerIdentity(t *testing.T) {
	s := newTestServer(t, 10)
	auth := s.login(t)

	call := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "text.set", "params": map[string]any{"domain": "post", "id": "p1", "key": "title", "value": "Hello"}}
	rec := s.do(t, http.MethodPost, "/api/rpc", call, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"error"`)

	rec = s.do(t, http.MethodPost, "/api/rpc", call, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":40100`)

	req := httptest.NewRequest(http.MethodPost, "/api/rpc", strings.NewReader("{"))
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	assert.Contains(t, out.Body.String(), `"code":-32700`)
}

func TestEntityRoutes(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, 10)
	auth := s.login(t)

	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.store.SetText(ctx, domain.ValueRef{Domain: "post", ID: id, Key: "title"}, "title "+id))
	}

	rec := s.do(t, http.MethodGet, "/api/domains/post/entities?skip=1&take=1", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"p2"}, page.IDs)
	assert.Equal(t, int64(3), page.Total)

	rec = s.do(t, http.MethodGet, "/api/domains/post/entities?take=abc", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/domains/post/entities?order=up", nil, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/domains/post/entities/p3", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	var record domain.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "title p3", record.Fields["title"])

	rec = s.do(t, http.MethodDelete, "/api/domains/post/entities/p3", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/domains/post/entities/p3", nil, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/domains", nil, auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["post"]`, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"application":"web"`)

	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `strn_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
