package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/accounts"
	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/auth"
	"github.com/HanTheDev/reqnest-engine/internal/docstore"
	"github.com/HanTheDev/reqnest-engine/internal/engine"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/HanTheDev/reqnest-engine/internal/ratelimit"
	"github.com/HanTheDev/reqnest-engine/internal/registry"
	"github.com/HanTheDev/reqnest-engine/internal/schemagen"
	"github.com/HanTheDev/reqnest-engine/internal/usage"
	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret     = "test-secret"
	testAdminToken = "admin-secret"
	todoSchema     = `{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`
)

type testServer struct {
	t        *testing.T
	router   *mux.Router
	accounts *accounts.MemoryStore
	ledger   *usage.Ledger
}

// cannedModel answers every prompt with a fenced JSON reply chosen by
// the prompt's leading words.
type cannedModel struct{}

func (cannedModel) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.HasPrefix(prompt, "Generate ONLY a JSON Schema") {
		return "```json\n" + todoSchema + "\n```", nil
	}
	return "```json\n{\"title\":\"buy milk\"}\n```", nil
}

type client struct {
	apiKey string
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	accts := accounts.NewMemoryStore()
	reg := registry.New(registry.NewMemoryStore())
	ledger := usage.NewLedger()
	eng := engine.New(reg, docstore.NewMemoryStore(),
		engine.WithRecorder(ledger),
		engine.WithHashCost(bcrypt.MinCost),
	)
	limiter := ratelimit.New(accts, ratelimit.WithClock(clock.NewMock()))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(ledger.PrometheusCollectors()...)
	promRegistry.MustRegister(limiter.PrometheusCollectors()...)

	h := NewHandler(Deps{
		Engine:         eng,
		Registry:       reg,
		Limiter:        limiter,
		FreeTrial:      ratelimit.NewFreeTrial(2),
		Ledger:         ledger,
		Accounts:       accts,
		Generator:      schemagen.New(cannedModel{}),
		Gatherer:       promRegistry,
		JWTSecret:      testSecret,
		TokenTTL:       time.Hour,
		AdminToken:     testAdminToken,
		RequestTimeout: 5 * time.Second,
	})
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{t: t, router: router, accounts: accts, ledger: ledger}
}

func (s *testServer) newClient(email, tier string) client {
	s.t.Helper()
	key, err := accounts.GenerateAPIKey()
	require.NoError(s.t, err)
	require.NoError(s.t, s.accounts.CreateUser(context.Background(), &models.User{Email: email, APIKey: key, Tier: tier}))
	token, err := auth.GenerateToken(email, key, testSecret, time.Hour)
	require.NoError(s.t, err)
	return client{apiKey: key, token: token}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (c client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.token,
		HeaderAPIKey:    c.apiKey,
	}
}

func (s *testServer) registerTodos(c client) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/apis", map[string]any{
		"name":   "todos",
		"schema": json.RawMessage(todoSchema),
	}, c.headers())
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) apierr.Kind {
	t.Helper()
	return decode[apierr.Body](t, rec).Code
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
}

func TestToken(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)

	rec := s.do(http.MethodPost, "/auth/token", map[string]string{"api_key": c.apiKey}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[map[string]any](t, rec)["token"].(string)
	claims, err := auth.ValidateToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", claims.UserID)

	rec = s.do(http.MethodPost, "/auth/token", map[string]string{"api_key": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/auth/token", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/auth/token", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchemaCRUD(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	other := s.newClient("b@example.com", models.TierFree)

	s.registerTodos(c)

	rec := s.do(http.MethodPost, "/apis", map[string]string{"name": "todos", "schema": todoSchema}, c.headers())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/apis", map[string]string{"name": "todos", "schema": todoSchema}, other.headers())
	assert.Equal(t, http.StatusCreated, rec.Code, "names are unique per owner only")

	rec = s.do(http.MethodPost, "/apis", map[string]string{"name": "", "schema": todoSchema}, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/apis", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	defs := decode[[]models.SchemaDefinition](t, rec)
	require.Len(t, defs, 1)
	assert.Equal(t, todoSchema, defs[0].SchemaJSON)
	assert.Equal(t, "a@example.com", defs[0].CreatedBy)

	rec = s.do(http.MethodPut, "/apis/todos", map[string]string{"name": "tasks"}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tasks", decode[models.SchemaDefinition](t, rec).Name)

	rec = s.do(http.MethodGet, "/apis/todos", nil, c.headers())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodDelete, "/apis/tasks", nil, c.headers())
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/apis", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)

	rec := s.do(http.MethodPost, "/data/todos", map[string]any{"title": "buy milk"}, c.headers())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "29", rec.Header().Get("X-Rate-Limit-Remaining"))
	assert.Equal(t, "1", rec.Header().Get("X-Total-Hits"))
	created := decode[map[string]any](t, rec)
	id := created["_id"].(string)
	assert.Equal(t, "buy milk", created["title"])

	rec = s.do(http.MethodPost, "/data/todos", map[string]any{}, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierr.EValidationFailed, errorCode(t, rec))

	rec = s.do(http.MethodGet, "/data/todos", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = s.do(http.MethodPost, "/data/todos/search", map[string]any{"_id": id}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[[]map[string]any](t, rec)[0]["_id"])

	rec = s.do(http.MethodPost, "/data/todos/search", map[string]any{}, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/data/todos/search", map[string]any{"title": "nothing"}, c.headers())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPut, "/data/todos", map[string]any{"_id": id, "done": true}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[map[string]any](t, rec)
	assert.Equal(t, id, updated["_id"])
	assert.Equal(t, "buy milk", updated["title"])
	assert.Equal(t, true, updated["done"])

	rec = s.do(http.MethodDelete, "/data/todos/delete", map[string]any{"_id": id}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["deleted"])

	rec = s.do(http.MethodDelete, "/data/todos/delete", map[string]any{"_id": id}, c.headers())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/data/unknown", nil, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apierr.ESchemaNotRegistered, errorCode(t, rec))
}

func TestDataRoutesRequireCredentials(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)

	rec := s.do(http.MethodGet, "/data/todos", nil, map[string]string{"Authorization": "Bearer " + c.token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no API key")

	rec = s.do(http.MethodGet, "/data/todos", nil, map[string]string{HeaderAPIKey: c.apiKey})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no token")
}

func TestDataRoutesRejectForeignAPIKeys(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	other := s.newClient("b@example.com", models.TierFree)
	s.registerTodos(c)

	admitted := 0
	for i := 0; i < 200; i++ {
		rec := s.do(http.MethodGet, "/data/todos", nil, map[string]string{
			"Authorization": "Bearer " + c.token,
			HeaderAPIKey:    fmt.Sprintf("made-up-%d", i),
		})
		if rec.Code == http.StatusOK {
			admitted++
		}
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Zero(t, admitted)

	rec := s.do(http.MethodGet, "/data/todos", nil, map[string]string{
		"Authorization": "Bearer " + c.token,
		HeaderAPIKey:    other.apiKey,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "key of another account")

	rec = s.do(http.MethodGet, "/data/todos", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "29", rec.Header().Get("X-Rate-Limit-Remaining"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)

	for i := 0; i < 30; i++ {
		rec := s.do(http.MethodGet, "/data/todos", nil, c.headers())
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := s.do(http.MethodGet, "/data/todos", nil, c.headers())
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2880", rec.Header().Get("Retry-After"))
	assert.Equal(t, "Quota exceeded. Retry after 2880 seconds.", rec.Header().Get("X-Rate-Limit-Reason"))
	assert.Equal(t, apierr.ERateLimited, errorCode(t, rec))

	// Upgrading resets the quota to the premium burst.
	rec = s.do(http.MethodPost, "/user/upgrade", map[string]string{"tier": models.TierPremium}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/data/todos", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "99", rec.Header().Get("X-Rate-Limit-Remaining"))
	assert.Equal(t, "31", rec.Header().Get("X-Total-Hits"))

	rec = s.do(http.MethodPost, "/user/upgrade", map[string]string{"tier": "gold"}, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrial(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)

	rec := s.do(http.MethodGet, "/trial/todos", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, rec)["remaining"])

	rec = s.do(http.MethodGet, "/trial/todos", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/trial/todos", nil, c.headers())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUserStatsAndAnalytics(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)

	s.do(http.MethodPost, "/data/todos", map[string]any{"title": "a"}, c.headers())
	s.do(http.MethodPost, "/data/todos", map[string]any{}, c.headers())
	s.do(http.MethodGet, "/data/todos", nil, c.headers())

	rec := s.do(http.MethodGet, "/user/stats", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[usage.Stats](t, rec)
	assert.Equal(t, int64(3), stats.TotalCalls)
	assert.Equal(t, int64(3), stats.CallsToday)
	assert.InDelta(t, 66.67, stats.SuccessRate, 0.01)
	assert.Equal(t, map[string]int64{"todos": 3}, stats.APICalls)
	require.Len(t, stats.RecentActivity, 3)
	assert.Equal(t, models.OpReadAll, stats.RecentActivity[0].Operation)
	assert.Equal(t, float64(3), decode[map[string]any](t, rec)["totalHits"])

	rec = s.do(http.MethodGet, "/apis/todos/stats", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	apiStats := decode[map[string]any](t, rec)
	assert.Equal(t, float64(3), apiStats["totalCalls"])
	assert.InDelta(t, 66.67, apiStats["successRate"], 0.01)

	other := s.newClient("b@example.com", models.TierFree)
	rec = s.do(http.MethodGet, "/apis/todos/stats", nil, other.headers())
	assert.Equal(t, http.StatusNotFound, rec.Code, "stats are owner scoped")

	rec = s.do(http.MethodGet, "/user/analytics", nil, c.headers())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stats []models.UsageAnalytics `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Stats, 2)
	assert.Equal(t, models.OpCreate, body.Stats[0].Operation)
	assert.Equal(t, int64(2), body.Stats[0].Calls)
	assert.Equal(t, int64(1), body.Stats[0].Errors)

	rec = s.do(http.MethodGet, "/user/analytics?from=yesterday", nil, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/user/analytics?from=2024-02-01&to=2024-01-01", nil, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{HeaderAdminToken: testAdminToken}

	rec := s.do(http.MethodPost, "/admin/users", map[string]string{"email": "new@example.com"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/admin/users", map[string]string{"email": "new@example.com"}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[models.User](t, rec)
	assert.Len(t, user.APIKey, 64)
	assert.Equal(t, models.TierFree, user.Tier)

	rec = s.do(http.MethodPost, "/admin/users", map[string]string{"email": "new@example.com"}, admin)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, "/admin/users", map[string]string{"email": "x@example.com", "tier": "gold"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/admin/users/new@example.com/rotate-key", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decode[map[string]string](t, rec)["api_key"]
	assert.NotEqual(t, user.APIKey, rotated)

	_, err := s.accounts.GetUserByAPIKey(context.Background(), user.APIKey)
	assert.ErrorIs(t, err, models.ErrNotFound)

	rec = s.do(http.MethodPost, "/admin/users/ghost@example.com/rotate-key", nil, admin)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)
	s.registerTodos(c)
	s.do(http.MethodGet, "/data/todos", nil, c.headers())

	rec := s.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reqnest_engine_operations_total")
	assert.Contains(t, rec.Body.String(), `reqnest_ratelimit_decisions_total{result="admitted",tier="free"} 1`)
	assert.Contains(t, rec.Body.String(), "reqnest_ratelimit_buckets 1")
}

func TestGenerate(t *testing.T) {
	s := newTestServer(t)
	c := s.newClient("a@example.com", models.TierFree)

	rec := s.do(http.MethodPost, "/apis/generate", map[string]string{"prompt": "a todo list"}, c.headers())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Schema json.RawMessage `json:"schema"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, todoSchema, string(body.Schema))

	// The draft registers as is.
	rec = s.do(http.MethodPost, "/apis", map[string]any{"name": "todos", "schema": body.Schema}, c.headers())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/apis/generate", map[string]string{"prompt": ""}, c.headers())
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/apis/generate-test-data", json.RawMessage(todoSchema), c.headers())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"title":"buy milk"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/apis/generate", map[string]string{"prompt": "a todo list"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
