package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"game-lobby-backend/internal/config"
	"game-lobby-backend/internal/gateway"
	"game-lobby-backend/internal/models"
	"game-lobby-backend/internal/services"
)

type catalog struct {
	games     map[int64]models.Game
	providers map[models.ProviderKey]models.Provider
	overrides []models.AccessOverride
}

func (c *catalog) GetUser(ctx context.Context, id int64) (models.User, error) {
	if id != 1 && id != 2 {
		return models.User{}, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return models.User{ID: id, Username: fmt.Sprintf("user%d", id), StoreID: 10}, nil
}

func (c *catalog) GetGame(ctx context.Context, id int64) (models.Game, error) {
	g, ok := c.games[id]
	if !ok {
		return models.Game{}, fmt.Errorf("game %d: %w", id, models.ErrNotFound)
	}
	return g, nil
}

func (c *catalog) GetProvider(ctx context.Context, apiTag string, providerID int64) (models.Provider, error) {
	p, ok := c.providers[models.ProviderKey{APITag: apiTag, ProviderID: providerID}]
	if !ok {
		return models.Provider{}, fmt.Errorf("provider: %w", models.ErrNotFound)
	}
	return p, nil
}

func (c *catalog) GetProviderGroup(ctx context.Context, id int64) (models.ProviderGroup, error) {
	if id != 1 {
		return models.ProviderGroup{}, fmt.Errorf("group %d: %w", id, models.ErrNotFound)
	}
	return models.ProviderGroup{ID: 1, Members: []models.ProviderKey{{APITag: "honor", ProviderID: 1}, {APITag: "invest", ProviderID: 2}}}, nil
}

func (c *catalog) ListOverrides(ctx context.Context, storeID, userID int64) ([]models.AccessOverride, error) {
	var out []models.AccessOverride
	for _, o := range c.overrides {
		if (o.StoreID == storeID && o.UserID == 0) || o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *catalog) ListGames(ctx context.Context, filter models.GameFilter) ([]models.Game, error) {
	var out []models.Game
	for id := int64(1); id <= 10; id++ {
		if g, ok := c.games[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

type stubGateway struct {
	family string

	mu       sync.Mutex
	deposits int
	withdraw int
	held     int64
	fail     error
}

func (g *stubGateway) LaunchURL(ctx context.Context, userID int64, gameCode string) (gateway.Launch, error) {
	return gateway.Launch{URL: "https://" + g.family + ".example/" + gameCode}, nil
}

func (g *stubGateway) Deposit(ctx context.Context, userID int64, family string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deposits++
	g.held += amount
	return nil
}

func (g *stubGateway) Withdraw(ctx context.Context, userID int64, family string) (gateway.Withdrawal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return gateway.Withdrawal{}, g.fail
	}
	g.withdraw++
	amount := g.held
	g.held = 0
	return gateway.Withdrawal{Amount: amount}, nil
}

func (g *stubGateway) ActiveSession(ctx context.Context, userID int64) (gateway.ActiveSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gateway.ActiveSession{IsActive: g.held > 0, Family: g.family}, nil
}

func (g *stubGateway) depositCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deposits
}

type testServer struct {
	t      *testing.T
	engine *gin.Engine
	jwt    *services.JWTService
	store  *services.RedisService
	honor  *stubGateway
	invest *stubGateway
	cat    *catalog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := services.NewRedisServiceWithClient(client)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := &catalog{
		games: map[int64]models.Game{
			1: {ID: 1, ProviderID: 1, APITag: "honor", Code: "a", Name: "Honor A", AdminStatus: models.StateVisible, OperatorVisible: true},
			2: {ID: 2, ProviderID: 2, APITag: "invest", Code: "b", Name: "Invest B", AdminStatus: models.StateVisible, OperatorVisible: true},
			3: {ID: 3, ProviderID: 1, APITag: "honor", Code: "c", Name: "Honor Hidden", AdminStatus: models.StateHidden, OperatorVisible: true},
		},
		providers: map[models.ProviderKey]models.Provider{
			{APITag: "honor", ProviderID: 1}:  {ID: 1, APITag: "honor", AdminStatus: models.StateVisible, OperatorVisible: true},
			{APITag: "invest", ProviderID: 2}: {ID: 2, APITag: "invest", AdminStatus: models.StateVisible, OperatorVisible: true},
		},
	}

	honor := &stubGateway{family: "honor"}
	invest := &stubGateway{family: "invest"}
	gateways := gateway.NewRegistry()
	gateways.Register("honor", gateway.NewBounded("honor", honor, time.Second))
	gateways.Register("invest", gateway.NewBounded("invest", invest, time.Second))

	hub := NewWebSocketHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	watchers := services.NewWatchRegistry(services.EventWatcher{}, logger)
	t.Cleanup(watchers.Close)
	visibility := services.NewVisibilityService(cat)
	balance := services.NewBalanceSynchronizer(store, gateways, hub, logger)
	sessions := services.NewSessionRegistry(store, visibility, balance, gateways, watchers, hub, services.SessionOptions{}, logger)

	jwtService := services.NewJWTService(&config.Config{JWTSecret: "test-secret"})
	router := &Router{
		Games:           NewGameHandler(visibility, sessions, logger),
		Sessions:        NewSessionHandler(sessions, logger),
		Users:           NewUserHandler(store, cat, logger),
		WebSocket:       NewWebSocketHandler(hub, sessions, store, logger),
		Health:          NewHealthHandler(map[string]Pinger{"redis": store}),
		JWT:             jwtService,
		Redis:           store,
		LaunchRateLimit: 5,
		Logger:          logger,
	}

	if _, _, err := store.CreditWallet(context.Background(), 1, 5000); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}

	return &testServer{t: t, engine: router.Engine(), jwt: jwtService, store: store, honor: honor, invest: invest, cat: cat}
}

func (s *testServer) do(method, path string, userID int64, body any) (int, map[string]any) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := s.jwt.GenerateToken(userID, "")
		if err != nil {
			s.t.Fatalf("GenerateToken: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			s.t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func sessionField(t *testing.T, body map[string]any, key string) any {
	t.Helper()
	session, ok := body["session"].(map[string]any)
	if !ok {
		t.Fatalf("no session in %v", body)
	}
	return session[key]
}

func TestLaunchAndEndFlow(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/api/games/1/launch", 1, nil)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("launch: %d %v", code, body)
	}
	id := sessionField(t, body, "session_id").(string)
	if url := sessionField(t, body, "launch_url"); url != "https://honor.example/a" {
		t.Fatalf("launch url %v", url)
	}

	code, body = s.do(http.MethodPost, "/api/sessions/"+id+"/surface", 1, gin.H{"status": "blocked"})
	if code != http.StatusOK || body["error_kind"] != "popup_blocked" || body["launch_url"] != "https://honor.example/a" {
		t.Fatalf("blocked: %d %v", code, body)
	}

	code, body = s.do(http.MethodPost, "/api/games/1/launch", 1, nil)
	if code != http.StatusOK || sessionField(t, body, "reused") != true {
		t.Fatalf("relaunch: %d %v", code, body)
	}
	if n := s.honor.depositCount(); n != 1 {
		t.Fatalf("deposits = %d", n)
	}

	code, _ = s.do(http.MethodPost, "/api/sessions/"+id+"/surface", 1, gin.H{"status": "opened"})
	if code != http.StatusOK {
		t.Fatalf("opened: %d", code)
	}

	code, body = s.do(http.MethodGet, "/api/sessions/active", 1, nil)
	if code != http.StatusOK || sessionField(t, body, "status") != "active" {
		t.Fatalf("active: %d %v", code, body)
	}

	code, body = s.do(http.MethodPost, "/api/sessions/"+id+"/end", 1, nil)
	if code != http.StatusOK || sessionField(t, body, "status") != "ended" {
		t.Fatalf("end: %d %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/sessions/active", 1, nil)
	if code != http.StatusOK || body["session"] != nil {
		t.Fatalf("active after end: %d %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/wallet/balance", 1, nil)
	wallet := body["wallet"].(map[string]any)
	if code != http.StatusOK || wallet["balance"] != float64(5000) {
		t.Fatalf("balance: %d %v", code, body)
	}
}

func TestLaunchErrorKinds(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(http.MethodPost, "/api/games/3/launch", 1, nil)
	if code != http.StatusForbidden || body["error_kind"] != "permission_denied" {
		t.Fatalf("hidden game: %d %v", code, body)
	}

	code, body = s.do(http.MethodPost, "/api/games/99/launch", 1, nil)
	if code != http.StatusNotFound || body["error_kind"] != "not_found" {
		t.Fatalf("missing game: %d %v", code, body)
	}

	code, _ = s.do(http.MethodPost, "/api/games/abc/launch", 1, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", code)
	}

	s.do(http.MethodPost, "/api/games/2/launch", 1, nil)
	code, body = s.do(http.MethodPost, "/api/games/1/launch", 1, nil)
	if code != http.StatusConflict || body["error_kind"] != "session_conflict" || body["running_game"] != "Invest B" {
		t.Fatalf("conflict: %d %v", code, body)
	}
	if s.honor.depositCount() != 0 {
		t.Fatal("conflicting launch touched the provider")
	}
}

func TestEndSessionProviderError(t *testing.T) {
	s := newTestServer(t)

	_, body := s.do(http.MethodPost, "/api/games/1/launch", 1, nil)
	id := sessionField(t, body, "session_id").(string)

	s.honor.mu.Lock()
	s.honor.fail = fmt.Errorf("provider offline")
	s.honor.mu.Unlock()

	code, body := s.do(http.MethodPost, "/api/sessions/"+id+"/end", 1, nil)
	if code != http.StatusBadGateway || body["error_kind"] != "provider_error" {
		t.Fatalf("end: %d %v", code, body)
	}

	code, _ = s.do(http.MethodPost, "/api/sessions/"+id+"/end", 2, nil)
	if code != http.StatusNotFound {
		t.Fatalf("foreign user: %d", code)
	}
}

func TestSurfaceRequestValidation(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodPost, "/api/sessions/x/surface", 1, gin.H{"status": "maybe"})
	if code != http.StatusBadRequest {
		t.Fatalf("bad status: %d", code)
	}
	code, body := s.do(http.MethodPost, "/api/sessions/missing/surface", 1, gin.H{"status": "opened"})
	if code != http.StatusNotFound || body["error_kind"] != "not_found" {
		t.Fatalf("missing session: %d %v", code, body)
	}
}

func TestLobbyAndVisibility(t *testing.T) {
	s := newTestServer(t)
	s.cat.overrides = []models.AccessOverride{
		{StoreID: 10, APITag: "invest", ProviderID: 2, Kind: models.AccessMaintenance},
	}

	code, body := s.do(http.MethodGet, "/api/games", 1, nil)
	if code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("lobby: %d %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/visibility/games/2", 1, nil)
	vis := body["visibility"].(map[string]any)
	if code != http.StatusOK || vis["state"] != "maintenance" || vis["deciding_scope"] != "store" {
		t.Fatalf("game visibility: %d %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/visibility/providers/honor/1", 1, nil)
	vis = body["visibility"].(map[string]any)
	if code != http.StatusOK || vis["state"] != "visible" {
		t.Fatalf("provider visibility: %d %v", code, body)
	}

	code, body = s.do(http.MethodGet, "/api/visibility/groups/1", 1, nil)
	vis = body["visibility"].(map[string]any)
	if code != http.StatusOK || vis["state"] != "maintenance" {
		t.Fatalf("group visibility: %d %v", code, body)
	}

	code, _ = s.do(http.MethodGet, "/api/visibility/groups/7", 1, nil)
	if code != http.StatusNotFound {
		t.Fatalf("missing group: %d", code)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.invest.mu.Lock()
	s.invest.held = 300
	s.invest.mu.Unlock()

	code, body := s.do(http.MethodPost, "/api/sessions/reconcile", 1, nil)
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("reconcile: %d %v", code, body)
	}
	recovered := body["recovered"].([]any)
	if len(recovered) != 1 {
		t.Fatalf("recovered %v", recovered)
	}

	_, body = s.do(http.MethodGet, "/api/wallet/balance", 1, nil)
	if body["wallet"].(map[string]any)["balance"] != float64(5300) {
		t.Fatalf("balance %v", body)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	code, body := s.do(http.MethodGet, "/healthz", 0, nil)
	if code != http.StatusOK || body["checks"].(map[string]any)["redis"] != "ok" {
		t.Fatalf("healthz: %d %v", code, body)
	}
}
