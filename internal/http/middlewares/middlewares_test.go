package middlewares

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	"github.com/dropDatabas3/cfihub/internal/rate"
	"github.com/dropDatabas3/cfihub/internal/session"
	"github.com/dropDatabas3/cfihub/internal/store/memory"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "h") }),
		mark("A"), mark("B"), mark("C"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"A", "B", "C", "h"}, order)
}

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"":                      "/",
		"/":                     "/",
		"/api/tasks/123":        "/api/tasks/:param",
		"/chat/sales/stream":    "/chat/sales/stream",
		"/events?topic=tasks/1": "/events",

		"/api/projects/3f1c2a9e-1b2c-4d5e-8f90-aabbccddeeff/results": "/api/projects/:param/results",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizePath(in), in)
	}
}

func TestWithRecover(t *testing.T) {
	h := WithRecover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func newSessionConfig() SessionConfig {
	return SessionConfig{
		Store:  session.NewStore(cache.NewMemory("test"), time.Hour),
		Cookie: helpers.CookieConfig{Name: "sid", TTL: time.Hour},
		Access: memory.New().Access(),
	}
}

func sidCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sid" {
			return c
		}
	}
	return nil
}

func TestWithSession_EmptySessionIsNotPersisted(t *testing.T) {
	h := WithSession(newSessionConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, GetState(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Nil(t, sidCookie(t, rec))
}

func TestWithSession_TokenSurvivesAcrossRequests(t *testing.T) {
	cfg := newSessionConfig()
	login := WithSession(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := GetState(r.Context())
		st.Tokens.SetToken("cfi-token")
		st.Tokens.SetUser(token.Identity{UserID: 7, Login: "ana"})
		st.Tenant.Init(10)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	login.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login", nil))
	ck := sidCookie(t, rec)
	require.NotNil(t, ck)
	require.True(t, ck.HttpOnly)

	var gotTok string
	var gotTenant int
	read := WithSession(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := GetState(r.Context())
		gotTok, _ = st.Token.Token()
		gotTenant, _ = st.Tenant.CurrentOrNull()
	}))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(ck)
	rec = httptest.NewRecorder()
	read.ServeHTTP(rec, req)
	require.Equal(t, "cfi-token", gotTok)
	require.Equal(t, 10, gotTenant)
	// sesión existente: no se reemite la cookie
	require.Nil(t, sidCookie(t, rec))
}

func TestWithSession_DestroyExpiresCookie(t *testing.T) {
	cfg := newSessionConfig()
	seed := WithSession(cfg)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		GetState(r.Context()).Session.Set("k", 1)
	}))
	rec := httptest.NewRecorder()
	seed.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	ck := sidCookie(t, rec)
	require.NotNil(t, ck)

	logout := WithSession(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetState(r.Context()).Session.Destroy()
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(ck)
	rec = httptest.NewRecorder()
	logout.ServeHTTP(rec, req)
	del := sidCookie(t, rec)
	require.NotNil(t, del)
	require.Empty(t, del.Value)
	require.True(t, del.MaxAge < 0)

	// la sesión ya no existe: el mismo id arranca vacío
	var empty bool
	check := WithSession(cfg)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		empty = GetState(r.Context()).Session.Empty()
	}))
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	check.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, empty)
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	Chain(ok, WithSession(newSessionConfig()), RequireAuth()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "SESSION_EXPIRED", body["code"])

	authed := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st := GetState(r.Context())
			st.Tokens.SetToken("t")
			st.Tokens.SetUser(token.Identity{UserID: 1})
			next.ServeHTTP(w, r)
		})
	}
	rec = httptest.NewRecorder()
	Chain(ok, WithSession(newSessionConfig()), authed, RequireAuth()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	// autenticado pero sin tenant
	rec = httptest.NewRecorder()
	Chain(ok, WithSession(newSessionConfig()), authed, RequireAuth(), RequireTenant()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWithRateLimit_PerClientIP(t *testing.T) {
	h := WithRateLimit(rate.NewMemoryLimiter(1, time.Hour), "login")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, do("10.0.0.1").Code)

	rec := do("10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "RATE_LIMITED", body["code"])

	require.Equal(t, http.StatusNoContent, do("10.0.0.2").Code)
}

func TestWithRateLimit_NilLimiterPassesThrough(t *testing.T) {
	h := WithRateLimit(nil, "login")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
