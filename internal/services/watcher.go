package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"game-lobby-backend/internal/gateway"
)

// SurfaceWatcher observes one externally opened game surface. Watch blocks
// until ctx is cancelled or the surface is seen closed, in which case it calls
// closed once before returning.
type SurfaceWatcher interface {
	Watch(ctx context.Context, sessionID string, closed func())
}

// SurfaceProbe answers whether a surface has gone away.
type SurfaceProbe interface {
	SurfaceClosed(ctx context.Context, sessionID string) (bool, error)
}

// PollWatcher asks a probe on a fixed interval.
type PollWatcher struct {
	probe    SurfaceProbe
	interval time.Duration
	logger   *slog.Logger
}

func NewPollWatcher(probe SurfaceProbe, interval time.Duration, logger *slog.Logger) *PollWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PollWatcher{probe: probe, interval: interval, logger: logger}
}

func (w *PollWatcher) Watch(ctx context.Context, sessionID string, closed func()) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gone, err := w.probe.SurfaceClosed(ctx, sessionID)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					w.logger.Warn("surface probe failed", "session_id", sessionID, "err", err)
				}
				continue
			}
			if gone {
				closed()
				return
			}
		}
	}
}

type heartbeatProbe struct {
	store *RedisService
}

func (p heartbeatProbe) SurfaceClosed(ctx context.Context, sessionID string) (bool, error) {
	alive, err := p.store.HeartbeatAlive(ctx, sessionID)
	return !alive, err
}

// NewHeartbeatWatcher treats a surface as closed once its heartbeat key has
// expired. Clients refresh the key over the websocket or HTTP.
func NewHeartbeatWatcher(store *RedisService, interval time.Duration, logger *slog.Logger) *PollWatcher {
	return NewPollWatcher(heartbeatProbe{store: store}, interval, logger)
}

// GatewayProbe considers a surface closed when the provider no longer reports
// the session as active.
type GatewayProbe struct {
	store    *RedisService
	gateways *gateway.Registry
}

func NewGatewayProbe(store *RedisService, gateways *gateway.Registry) *GatewayProbe {
	return &GatewayProbe{store: store, gateways: gateways}
}

func (p *GatewayProbe) SurfaceClosed(ctx context.Context, sessionID string) (bool, error) {
	session, err := p.store.GetGameSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	gw, err := p.gateways.Get(session.Family)
	if err != nil {
		return false, err
	}
	active, err := gw.ActiveSession(ctx, session.UserID)
	if err != nil {
		return false, err
	}
	if !active.IsActive {
		return true, nil
	}
	return session.ProviderSession != "" && active.SessionID != "" && active.SessionID != session.ProviderSession, nil
}

// EventWatcher never detects anything itself; the surface is closed only by
// an explicit signal.
type EventWatcher struct{}

func (EventWatcher) Watch(ctx context.Context, sessionID string, closed func()) {
	<-ctx.Done()
}

type watchEntry struct {
	cancel context.CancelFunc
	fired  atomic.Bool
}

// WatchRegistry owns the running watcher of every open session. Each entry
// carries a one-shot flag so a close is acted on once no matter how many
// detections race; the flag goes away only with the entry, on successful
// teardown or retirement.
type WatchRegistry struct {
	mu       sync.Mutex
	entries  map[string]*watchEntry
	strategy SurfaceWatcher
	onClosed func(ctx context.Context, sessionID string) error
	logger   *slog.Logger
}

func NewWatchRegistry(strategy SurfaceWatcher, logger *slog.Logger) *WatchRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatchRegistry{
		entries:  make(map[string]*watchEntry),
		strategy: strategy,
		logger:   logger,
	}
}

// SetHandler installs the teardown invoked on a close.
func (r *WatchRegistry) SetHandler(fn func(ctx context.Context, sessionID string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClosed = fn
}

func (r *WatchRegistry) Register(sessionID string) {
	r.mu.Lock()
	if _, ok := r.entries[sessionID]; ok {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.entries[sessionID] = &watchEntry{cancel: cancel}
	r.mu.Unlock()

	go r.strategy.Watch(ctx, sessionID, func() {
		if err := r.Fire(context.Background(), sessionID); err != nil {
			r.logger.Error("teardown after surface close failed", "session_id", sessionID, "err", err)
		}
	})
}

// Unregister stops the watcher and forgets the session.
func (r *WatchRegistry) Unregister(sessionID string) {
	r.mu.Lock()
	entry, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

func (r *WatchRegistry) Registered(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sessionID]
	return ok
}

// Fire reports the surface of sessionID closed. Only the first caller runs
// the handler; later callers return nil at once. Without a registered watcher
// the handler runs directly and relies on the teardown claim alone.
func (r *WatchRegistry) Fire(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	entry := r.entries[sessionID]
	handler := r.onClosed
	r.mu.Unlock()

	if handler == nil {
		return errors.New("watch registry has no close handler")
	}
	if entry == nil {
		return handler(ctx, sessionID)
	}
	if !entry.fired.CompareAndSwap(false, true) {
		return nil
	}
	if err := handler(ctx, sessionID); err != nil {
		return err
	}
	r.Unregister(sessionID)
	return nil
}

// Close stops every watcher.
func (r *WatchRegistry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*watchEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.cancel()
	}
}
