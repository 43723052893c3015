package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"game-lobby-backend/internal/gateway"
	"game-lobby-backend/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisServiceWithClient(client), mr
}

type fakeCatalog struct {
	users     map[int64]models.User
	games     map[int64]models.Game
	providers map[models.ProviderKey]models.Provider
	groups    map[int64]models.ProviderGroup
	overrides []models.AccessOverride
}

func (c *fakeCatalog) GetUser(ctx context.Context, id int64) (models.User, error) {
	u, ok := c.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return u, nil
}

func (c *fakeCatalog) GetGame(ctx context.Context, id int64) (models.Game, error) {
	g, ok := c.games[id]
	if !ok {
		return models.Game{}, fmt.Errorf("game %d: %w", id, models.ErrNotFound)
	}
	return g, nil
}

func (c *fakeCatalog) GetProvider(ctx context.Context, apiTag string, providerID int64) (models.Provider, error) {
	p, ok := c.providers[models.ProviderKey{APITag: apiTag, ProviderID: providerID}]
	if !ok {
		return models.Provider{}, fmt.Errorf("provider %s/%d: %w", apiTag, providerID, models.ErrNotFound)
	}
	return p, nil
}

func (c *fakeCatalog) GetProviderGroup(ctx context.Context, id int64) (models.ProviderGroup, error) {
	g, ok := c.groups[id]
	if !ok {
		return models.ProviderGroup{}, fmt.Errorf("group %d: %w", id, models.ErrNotFound)
	}
	return g, nil
}

func (c *fakeCatalog) ListOverrides(ctx context.Context, storeID, userID int64) ([]models.AccessOverride, error) {
	var out []models.AccessOverride
	for _, o := range c.overrides {
		if (storeID != 0 && o.StoreID == storeID && o.UserID == 0) || (userID != 0 && o.UserID == userID) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *fakeCatalog) ListGames(ctx context.Context, filter models.GameFilter) ([]models.Game, error) {
	var out []models.Game
	for id := int64(0); id < 100; id++ {
		g, ok := c.games[id]
		if !ok {
			continue
		}
		if filter.APITag != "" && g.APITag != filter.APITag {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

const (
	testUser     = int64(1)
	testStore    = int64(100)
	gameHonorA   = int64(10)
	gameHonorB   = int64(11)
	gameHidden   = int64(12)
	gameInvest   = int64(20)
	gameOroplay  = int64(30)
	startBalance = int64(10000)
)

func newFakeCatalog() *fakeCatalog {
	providers := []models.Provider{
		{ID: 1, APITag: "honor", Name: "Honor", AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: 2, APITag: "invest", Name: "Invest", AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: 3, APITag: "oroplay", Name: "Oro", AdminStatus: models.StateVisible, OperatorVisible: true},
	}
	games := []models.Game{
		{ID: gameHonorA, ProviderID: 1, APITag: "honor", Code: "a", Name: "Game A", Category: models.CategorySlot, AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: gameHonorB, ProviderID: 1, APITag: "honor", Code: "b", Name: "Game B", Category: models.CategorySlot, AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: gameHidden, ProviderID: 1, APITag: "honor", Code: "h", Name: "Hidden", Category: models.CategorySlot, AdminStatus: models.StateHidden, OperatorVisible: true},
		{ID: gameInvest, ProviderID: 2, APITag: "invest", Code: "inv", Name: "Invest Slots", Category: models.CategorySlot, AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: gameOroplay, ProviderID: 3, APITag: "oroplay", Code: "oro", Name: "Oro Roulette", Category: models.CategoryCasino, AdminStatus: models.StateVisible, OperatorVisible: true},
	}
	c := &fakeCatalog{
		users:     map[int64]models.User{testUser: {ID: testUser, Username: "alice", StoreID: testStore}},
		games:     map[int64]models.Game{},
		providers: map[models.ProviderKey]models.Provider{},
		groups:    map[int64]models.ProviderGroup{},
	}
	for _, p := range providers {
		c.providers[models.ProviderKey{APITag: p.APITag, ProviderID: p.ID}] = p
	}
	for _, g := range games {
		c.games[g.ID] = g
	}
	return c
}

// callLog records gateway calls across every fake in the order they happened.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(family, op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, family+":"+op)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) count(call string) int {
	n := 0
	for _, c := range l.all() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	family string
	log    *callLog

	mu            sync.Mutex
	wallet        map[int64]int64
	launches      int
	depositErr    error
	withdrawErr   error
	launchErr     error
	withdrawDelay time.Duration
	bet, win      int64

	// depositDelay holds the deposit reply back. With depositLands the
	// provider has already credited the wallet by then.
	depositDelay time.Duration
	depositLands bool
	// inactive makes ActiveSession report no running game whatever the wallet holds.
	inactive bool
}

func newFakeGateway(family string, log *callLog) *fakeGateway {
	return &fakeGateway{family: family, log: log, wallet: map[int64]int64{}}
}

func (g *fakeGateway) LaunchURL(ctx context.Context, userID int64, gameCode string) (gateway.Launch, error) {
	g.log.add(g.family, "launch")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.launchErr != nil {
		return gateway.Launch{}, g.launchErr
	}
	g.launches++
	return gateway.Launch{
		URL:       fmt.Sprintf("https://%s.example/play/%s?n=%d", g.family, gameCode, g.launches),
		SessionID: fmt.Sprintf("%s-%d", g.family, g.launches),
	}, nil
}

func (g *fakeGateway) Deposit(ctx context.Context, userID int64, family string, amount int64) error {
	g.log.add(g.family, "deposit")
	g.mu.Lock()
	if g.depositErr != nil {
		g.mu.Unlock()
		return g.depositErr
	}
	delay := g.depositDelay
	if delay == 0 || g.depositLands {
		g.wallet[userID] += amount
	}
	g.mu.Unlock()

	if err := sleepCtx(ctx, delay); err != nil {
		return err
	}
	if delay > 0 && !g.depositLands {
		g.mu.Lock()
		g.wallet[userID] += amount
		g.mu.Unlock()
	}
	return nil
}

func (g *fakeGateway) Withdraw(ctx context.Context, userID int64, family string) (gateway.Withdrawal, error) {
	g.mu.Lock()
	delay := g.withdrawDelay
	g.mu.Unlock()
	// a cancelled request never reaches the provider wallet
	if err := sleepCtx(ctx, delay); err != nil {
		return gateway.Withdrawal{}, err
	}
	// logged on completion so ordering checks see when the withdrawal finished
	defer g.log.add(g.family, "withdraw")
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.withdrawErr != nil {
		return gateway.Withdrawal{}, g.withdrawErr
	}
	amount := g.wallet[userID]
	g.wallet[userID] = 0
	return gateway.Withdrawal{Amount: amount, Bet: g.bet, Win: g.win}, nil
}

func (g *fakeGateway) ActiveSession(ctx context.Context, userID int64) (gateway.ActiveSession, error) {
	g.log.add(g.family, "active")
	g.mu.Lock()
	defer g.mu.Unlock()
	return gateway.ActiveSession{IsActive: !g.inactive && g.wallet[userID] > 0, Family: g.family}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGateway) set(fn func(g *fakeGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

type testEnv struct {
	store    *RedisService
	mr       *miniredis.Miniredis
	catalog  *fakeCatalog
	log      *callLog
	honor    *fakeGateway
	invest   *fakeGateway
	oroplay  *fakeGateway
	watchers *WatchRegistry
	registry *SessionRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithTimeout(t, 2*time.Second)
}

// newTestEnvWithTimeout bounds every gateway call by timeout.
func newTestEnvWithTimeout(t *testing.T, timeout time.Duration) *testEnv {
	t.Helper()
	store, mr := setupTestRedis(t)
	log := &callLog{}
	env := &testEnv{
		store:   store,
		mr:      mr,
		catalog: newFakeCatalog(),
		log:     log,
		honor:   newFakeGateway("honor", log),
		invest:  newFakeGateway("invest", log),
		oroplay: newFakeGateway("oroplay", log),
	}

	gateways := gateway.NewRegistry()
	for _, g := range []*fakeGateway{env.honor, env.invest, env.oroplay} {
		gateways.Register(g.family, gateway.NewBounded(g.family, g, timeout))
	}

	logger := discardLogger()
	env.watchers = NewWatchRegistry(EventWatcher{}, logger)
	t.Cleanup(env.watchers.Close)
	balance := NewBalanceSynchronizer(store, gateways, nil, logger)
	env.registry = NewSessionRegistry(store, NewVisibilityService(env.catalog), balance, gateways, env.watchers, nil,
		SessionOptions{LockTTL: 5 * time.Second, LockWait: 3 * time.Second, HeartbeatTTL: 15 * time.Second}, logger)

	if _, _, err := store.CreditWallet(context.Background(), testUser, startBalance); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	return env
}

func (e *testEnv) wallet(t *testing.T) *models.Wallet {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), testUser)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	return w
}
