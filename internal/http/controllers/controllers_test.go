package controllers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/cfihub/internal/cache"
	"github.com/dropDatabas3/cfihub/internal/cfi/client"
	"github.com/dropDatabas3/cfihub/internal/cfi/services"
	"github.com/dropDatabas3/cfihub/internal/cfi/token"
	"github.com/dropDatabas3/cfihub/internal/generation"
	"github.com/dropDatabas3/cfihub/internal/http/controllers"
	"github.com/dropDatabas3/cfihub/internal/http/helpers"
	mw "github.com/dropDatabas3/cfihub/internal/http/middlewares"
	"github.com/dropDatabas3/cfihub/internal/http/router"
	"github.com/dropDatabas3/cfihub/internal/pubsub"
	"github.com/dropDatabas3/cfihub/internal/queue"
	"github.com/dropDatabas3/cfihub/internal/session"
	"github.com/dropDatabas3/cfihub/internal/store/memory"
)

type fakeCFI struct {
	divisions []services.Division
	divErr    error
}

func (f *fakeCFI) Login(_ context.Context, login, password string) (*services.LoginResult, error) {
	if password != "secret" {
		return nil, &client.Error{Kind: client.KindClient, Endpoint: services.EndpointLogin, Status: http.StatusUnauthorized}
	}
	return &services.LoginResult{
		Token:    "cfi-token-" + login,
		Identity: token.Identity{UserID: 7, Login: login, Name: "Ana Diaz", DivisionID: 10},
		Division: services.Division{ID: 10, Nom: "Paris"},
	}, nil
}

func (f *fakeCFI) Divisions(_ context.Context, src token.Source, _, _ int) ([]services.Division, error) {
	if tok, ok := src.Token(); !ok || tok == "" {
		return nil, client.ErrTokenRequired
	}
	return f.divisions, f.divErr
}

// stockPoster responde /stock/liste y cuenta las llamadas.
type stockPoster struct{ calls atomic.Int32 }

func (p *stockPoster) Post(_ context.Context, endpoint string, _ any, _ string) (json.RawMessage, error) {
	p.calls.Add(1)
	if endpoint != services.EndpointStocks {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(`{"data":[{"codeArticle":"A1","libelle":"Vis","quantite":12},{"libelle":"sin codigo"}]}`), nil
}

type fixture struct {
	srv    *httptest.Server
	http   *http.Client
	store  *memory.Store
	queue  *queue.Memory
	hub    *pubsub.MemoryHub
	poster *stockPoster
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	q := queue.NewMemory(queue.MemoryOptions{})
	hub := pubsub.NewMemoryHub()
	issuer := pubsub.NewTokenIssuer([]byte("test-secret-test-secret-test-secret"), time.Hour)
	poster := &stockPoster{}
	svc := services.New(poster, cache.NewMemory("test"))
	cfi := &fakeCFI{divisions: []services.Division{{ID: 10, Nom: "Paris"}, {ID: 20, Nom: "Lyon"}}}

	d := generation.NewDispatcher(generation.DispatcherDeps{
		Tasks: store.Tasks(), Projects: store.Projects(), Conversations: store.Conversations(),
		Queue: q, Issuer: issuer,
	})

	h := router.New(router.Deps{
		Session: mw.SessionConfig{
			Store:  session.NewStore(cache.NewMemory("sessions"), time.Hour),
			Cookie: helpers.CookieConfig{Name: "sid", TTL: time.Hour},
			Access: store.Access(),
		},
		Auth:     controllers.NewAuthController(cfi, store),
		Tenant:   controllers.NewTenantController(store.Access()),
		CFI:      controllers.NewCFIController(svc),
		Projects: controllers.NewProjectsController(store, d),
		Tasks:    controllers.NewTasksController(store.Tasks()),
		Chat:     controllers.NewChatController(store.Conversations(), d),
		Events:   controllers.NewEventsController(hub, issuer, time.Hour),
		Health:   controllers.NewHealthController("test", controllers.HealthCheck{Name: "store", Critical: true, Check: store.Ping}),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &fixture{
		srv:    srv,
		http:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		store:  store,
		queue:  q,
		hub:    hub,
		poster: poster,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	status, body := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": "ana", "password": "secret"})
	require.Equal(t, http.StatusOK, status, body)
}

func TestLogin_SeedsSessionAndSyncsAccess(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status, me := f.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 10, me["current_tenant_id"])
	require.Equal(t, false, me["should_refresh"])
	require.EqualValues(t, 7, me["user"].(map[string]any)["id"])

	u, err := f.store.Users().GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 1, u.LoginCount)

	status, body := f.do(t, http.MethodGet, "/api/tenant/divisions", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 10, body["current_tenant_id"])
	divs := body["divisions"].([]any)
	require.Len(t, divs, 2)
	first := divs[0].(map[string]any)
	require.EqualValues(t, 10, first["id"])
	require.Equal(t, "Paris", first["nom"])
	require.Equal(t, true, first["current"])
	require.Equal(t, false, divs[1].(map[string]any)["current"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": "ana", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "INVALID_CREDENTIALS", body["code"])

	status, body = f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"login": "ana"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "BAD_REQUEST", body["code"])
}

func TestUnauthenticated_SessionExpired(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/api/tenant/divisions", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "SESSION_EXPIRED", body["code"])
}

func TestTenantSwitch(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status, body := f.do(t, http.MethodPost, "/api/tenant/switch", map[string]int{"idDivision": 30})
	require.Equal(t, http.StatusForbidden, status)
	require.NotEmpty(t, body["error"])
	_, me := f.do(t, http.MethodGet, "/api/auth/me", nil)
	require.EqualValues(t, 10, me["current_tenant_id"])

	status, body = f.do(t, http.MethodPost, "/api/tenant/switch", map[string]int{"idDivision": 20})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 20, body["new_tenant_id"])
	_, me = f.do(t, http.MethodGet, "/api/auth/me", nil)
	require.EqualValues(t, 20, me["current_tenant_id"])

	status, body = f.do(t, http.MethodPost, "/api/tenant/switch", map[string]string{"idDivision": "x"})
	require.Equal(t, http.StatusBadRequest, status)
	require.NotEmpty(t, body["error"])
}

func TestLogout_ClearsSession(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status, _ := f.do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/api/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "SESSION_EXPIRED", body["code"])
}

func TestStocks_ReadThroughSkipsMalformed(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	calls := f.poster.calls.Load()

	status, body := f.do(t, http.MethodGet, "/api/cfi/stocks", nil)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	require.Equal(t, "A1", data[0].(map[string]any)["codeArticle"])

	status, _ = f.do(t, http.MethodGet, "/api/cfi/stocks", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, calls+1, f.poster.calls.Load(), "second read must hit the cache")
}

func TestProjects_GenerateAndPullState(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status, pr := f.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "Lanzamiento", "description": "Q3"})
	require.Equal(t, http.StatusCreated, status)
	projectID := pr["id"].(string)
	require.EqualValues(t, 10, pr["tenant_id"])

	status, ack := f.do(t, http.MethodPost, "/api/projects/"+projectID+"/personas/generate", map[string]any{"count": 3})
	require.Equal(t, http.StatusAccepted, status, ack)
	taskID := ack["taskId"].(string)
	require.Equal(t, pubsub.TaskTopic(taskID), ack["topic"])
	require.NotEmpty(t, ack["subscriberToken"])
	require.Equal(t, 1, f.queue.Len())

	status, task := f.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "pending", task["status"])
	require.EqualValues(t, 0, task["percent"])

	status, body := f.do(t, http.MethodPost, "/api/projects/"+projectID+"/personas/generate", map[string]any{"count": 0})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "BAD_REQUEST", body["code"])

	status, body = f.do(t, http.MethodPost, "/api/projects/missing/strategy/generate", map[string]any{})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", body["code"])

	status, res := f.do(t, http.MethodGet, "/api/projects/"+projectID+"/results", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, res["tasks"].([]any), 1)
	require.Empty(t, res["personas"].([]any))
	require.Nil(t, res["strategy"])
}

func TestProjects_OtherTenantIsHidden(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, pr := f.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "Paris only"})
	projectID := pr["id"].(string)

	status, _ := f.do(t, http.MethodPost, "/api/tenant/switch", map[string]int{"idDivision": 20})
	require.Equal(t, http.StatusOK, status)

	status, body := f.do(t, http.MethodGet, "/api/projects/"+projectID+"/results", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", body["code"])
}

func TestChat_StreamListFavoriteDelete(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	status, ack := f.do(t, http.MethodPost, "/chat/sales/stream", map[string]string{"question": "¿Qué se vendió más?"})
	require.Equal(t, http.StatusAccepted, status, ack)
	require.Equal(t, true, ack["success"])
	require.Equal(t, "streaming_started", ack["status"])
	convID := ack["conversationId"].(string)
	require.NotEmpty(t, ack["messageId"])
	require.Equal(t, pubsub.ConversationTopic(convID), ack["topic"])

	status, list := f.do(t, http.MethodGet, "/chat/sales/conversations", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list["data"].([]any), 1)

	status, msgs := f.do(t, http.MethodGet, "/chat/conversations/"+convID+"/messages", nil)
	require.Equal(t, http.StatusOK, status)
	items := msgs["data"].([]any)
	require.Len(t, items, 2)
	require.Equal(t, "user", items[0].(map[string]any)["role"])
	require.Equal(t, "streaming", items[1].(map[string]any)["status"])

	status, fav := f.do(t, http.MethodPost, "/chat/conversations/"+convID+"/favorite", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, fav["favorite"])

	status, _ = f.do(t, http.MethodDelete, "/chat/conversations/"+convID, nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = f.do(t, http.MethodGet, "/chat/conversations/"+convID+"/messages", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestEvents_RelaysTopicAsSSE(t *testing.T) {
	f := newFixture(t)
	f.login(t)

	_, pr := f.do(t, http.MethodPost, "/api/projects", map[string]string{"name": "P"})
	_, ack := f.do(t, http.MethodPost, "/api/projects/"+pr["id"].(string)+"/strategy/generate", map[string]any{})
	topic := ack["topic"].(string)
	subTok := ack["subscriberToken"].(string)

	// un topic no incluido en el token se rechaza
	q := url.Values{"topic": {"tasks/other"}, "token": {subTok}}
	resp, err := http.Get(f.srv.URL + "/events?" + q.Encode())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q = url.Values{"topic": {topic}, "token": {subTok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL+"/events?"+q.Encode(), nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.NoError(t, f.hub.Publish(ctx, topic, pubsub.Event{Type: pubsub.EventProgress, TaskID: ack["taskId"].(string), Percent: 50}))
	require.NoError(t, f.hub.Publish(ctx, topic, pubsub.Event{Type: pubsub.EventCompleted, TaskID: ack["taskId"].(string), Percent: 100}))

	var got []pubsub.Event
	require.NoError(t, pubsub.ReadSSE(br, func(ev pubsub.Event) bool {
		got = append(got, ev)
		return !ev.Type.Terminal()
	}))
	require.Len(t, got, 2)
	require.Equal(t, pubsub.EventProgress, got[0].Type)
	require.Equal(t, 50, got[0].Percent)
	require.Equal(t, pubsub.EventCompleted, got[1].Type)
}

func TestRouting_NotFoundAndReadyz(t *testing.T) {
	f := newFixture(t)

	status, body := f.do(t, http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "ROUTE_NOT_FOUND", body["code"])

	status, body = f.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ready", body["status"])
}

func (f *fixture) sid(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	for _, c := range f.http.Jar.Cookies(u) {
		if c.Name == "sid" {
			return c.Value
		}
	}
	t.Fatal("no sid cookie")
	return ""
}

// withSID hace un request con una cookie sid fija, sin jar.
func (f *fixture) withSID(t *testing.T, method, path, sid string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestLogin_RotatesSessionID(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	planted := f.sid(t)

	// otro cliente llega con el sid conocido y se autentica
	resp, _ := f.withSID(t, http.MethodPost, "/api/auth/login", planted, map[string]string{"login": "bob", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fresh string
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			fresh = c.Value
		}
	}
	require.NotEmpty(t, fresh)
	require.NotEqual(t, planted, fresh)

	resp, body := f.withSID(t, http.MethodGet, "/api/auth/me", planted, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "SESSION_EXPIRED", body["code"])

	resp, body = f.withSID(t, http.MethodGet, "/api/auth/me", fresh, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "bob", body["user"].(map[string]any)["login"])
}
