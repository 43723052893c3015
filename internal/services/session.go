package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"game-lobby-backend/internal/gateway"
	"game-lobby-backend/internal/models"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type SessionOptions struct {
	LockTTL      time.Duration
	LockWait     time.Duration
	HeartbeatTTL time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.LockWait <= 0 {
		o.LockWait = 3 * time.Second
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = 15 * time.Second
	}
	return o
}

// SessionRegistry is the one place that launches, reuses, switches and ends
// game sessions. A user holds at most one open session.
type SessionRegistry struct {
	store      *RedisService
	visibility *VisibilityService
	balance    *BalanceSynchronizer
	gateways   *gateway.Registry
	watchers   *WatchRegistry
	notify     Broadcaster
	opts       SessionOptions
	teardowns  singleflight.Group
	logger     *slog.Logger
}

func NewSessionRegistry(
	store *RedisService,
	visibility *VisibilityService,
	balance *BalanceSynchronizer,
	gateways *gateway.Registry,
	watchers *WatchRegistry,
	notify Broadcaster,
	opts SessionOptions,
	logger *slog.Logger,
) *SessionRegistry {
	if notify == nil {
		notify = nopBroadcaster{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &SessionRegistry{
		store:      store,
		visibility: visibility,
		balance:    balance,
		gateways:   gateways,
		watchers:   watchers,
		notify:     notify,
		opts:       opts.withDefaults(),
		logger:     logger,
	}
	watchers.SetHandler(r.surfaceClosed)
	return r
}

type LaunchResult struct {
	SessionID string               `json:"session_id"`
	LaunchURL string               `json:"launch_url"`
	Status    models.SessionStatus `json:"status"`
	Popup     models.PopupStatus   `json:"popup,omitempty"`
	Reused    bool                 `json:"reused"`
	Deposited int64                `json:"deposited"`
}

func resultOf(s *models.GameSession, reused bool) *LaunchResult {
	return &LaunchResult{
		SessionID: s.ID,
		LaunchURL: s.LaunchURL,
		Status:    s.Status,
		Popup:     s.Popup,
		Reused:    reused,
		Deposited: s.Deposited,
	}
}

// LaunchGame checks visibility, then under the user's lock either reuses the
// open session for the same game, refuses a different family, or tears down
// the open session before funding and minting a new one.
func (r *SessionRegistry) LaunchGame(ctx context.Context, userID, gameID int64) (*LaunchResult, error) {
	gr, err := r.visibility.ResolveGame(ctx, userID, gameID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, launchErr(KindNotFound, "game not found", err)
		}
		return nil, err
	}
	if !gr.Resolution.Playable() {
		return nil, &LaunchError{
			Kind:    KindPermissionDenied,
			Message: fmt.Sprintf("game is %s (%s)", gr.Resolution.State, gr.Resolution.DecidingScope),
		}
	}
	game := gr.Game
	if _, err := r.gateways.Get(game.Family()); err != nil {
		return nil, launchErr(KindProviderError, "provider is not configured", err)
	}

	token := uuid.NewString()
	if err := r.store.AcquireUserLock(ctx, userID, token, r.opts.LockTTL, r.opts.LockWait); err != nil {
		if errors.Is(err, ErrLockBusy) {
			return nil, launchErr(KindRaceConflict, "another launch is in progress", err)
		}
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseUserLock(context.WithoutCancel(ctx), userID, token); err != nil {
			r.logger.Warn("release user lock", "user_id", userID, "err", err)
		}
	}()

	existing, err := r.store.GetActiveSession(ctx, userID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if existing != nil {
		if existing.Reusable(game.ID) {
			r.logger.Info("reusing session", "session_id", existing.ID, "user_id", userID, "game_id", game.ID)
			return resultOf(existing, true), nil
		}
		if existing.Open() && existing.Status != models.SessionEnding && existing.Family != game.Family() {
			return nil, &LaunchError{
				Kind:        KindSessionConflict,
				Message:     fmt.Sprintf("%s is still running, end it first", existing.GameName),
				RunningGame: existing.GameName,
			}
		}
		// Same family switch, or an unfinished session. Its withdrawal must
		// complete before anything is deposited for the new game.
		if err := r.endSession(ctx, existing.ID); err != nil {
			if errors.Is(err, ErrTeardownBusy) {
				return nil, launchErr(KindRaceConflict, "previous session is still ending", err)
			}
			return nil, launchErr(KindProviderError, "could not end the previous session", err)
		}
	}

	if _, err := r.clearStaleHold(ctx, userID, ""); err != nil {
		if errors.Is(err, ErrTeardownBusy) {
			return nil, launchErr(KindRaceConflict, "previous session is still ending", err)
		}
		return nil, launchErr(KindProviderError, "could not return funds held for a previous session", err)
	}

	return r.startSession(ctx, gr.User, game)
}

func (r *SessionRegistry) startSession(ctx context.Context, user models.User, game models.Game) (*LaunchResult, error) {
	now := models.NowMillis()
	session := &models.GameSession{
		ID:         models.GenerateSessionID(),
		UserID:     user.ID,
		GameID:     game.ID,
		GameName:   game.Name,
		Family:     game.Family(),
		ProviderID: game.ProviderID,
		Status:     models.SessionNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, launchErr(KindRaceConflict, "another session was opened concurrently", err)
		}
		return nil, err
	}

	deposited, err := r.balance.Deposit(ctx, session)
	if errors.Is(err, ErrDepositUnconfirmed) {
		session.Deposited = deposited
		session.Unconfirmed = true
		return nil, r.unwindLaunch(ctx, session, "could not move funds to the provider", err)
	}
	if err != nil {
		if abErr := r.store.AbandonSession(context.WithoutCancel(ctx), user.ID, session.ID); abErr != nil {
			r.logger.Error("abandon session after failed deposit", "session_id", session.ID, "err", abErr)
		}
		return nil, launchErr(KindProviderError, "could not move funds to the provider", err)
	}
	session.Deposited = deposited

	gw, err := r.gateways.Get(session.Family)
	if err != nil {
		return nil, r.unwindLaunch(ctx, session, "could not open the game", err)
	}
	launch, err := gw.LaunchURL(ctx, user.ID, game.Code)
	if err != nil {
		return nil, r.unwindLaunch(ctx, session, "could not open the game", err)
	}

	session.LaunchURL = launch.URL
	session.ProviderSession = launch.SessionID
	session.Status = models.SessionReady
	if err := r.store.MarkReady(ctx, session); err != nil {
		return nil, r.unwindLaunch(ctx, session, "could not open the game", err)
	}

	r.logger.Info("session ready",
		"session_id", session.ID, "user_id", user.ID, "game_id", game.ID, "family", session.Family, "deposited", deposited)
	r.notify.BroadcastSessionUpdate(user.ID, session)
	return resultOf(session, false), nil
}

// unwindLaunch returns the funds of a session whose launch could not be
// completed. If that withdrawal fails too the session is left ending.
func (r *SessionRegistry) unwindLaunch(ctx context.Context, session *models.GameSession, message string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.MarkFunded(ctx, session.ID, session.Deposited, session.Unconfirmed); err != nil {
		r.logger.Error("mark funded session", "session_id", session.ID, "err", err)
	}
	if err := r.endSession(ctx, session.ID); err != nil {
		r.logger.Error("unwind failed launch", "session_id", session.ID, "user_id", session.UserID, "err", err)
	}
	return launchErr(KindProviderError, message, cause)
}

// ReportSurface records whether the client managed to open the game surface.
// A blocked popup keeps the session, its URL and its funds for a retry.
func (r *SessionRegistry) ReportSurface(ctx context.Context, userID int64, sessionID string, opened bool) (*models.GameSession, error) {
	session, err := r.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	popup := models.PopupBlocked
	if opened {
		popup = models.PopupOpened
	}
	if err := r.store.SetPopup(ctx, sessionID, popup); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, launchErr(KindNotFound, "session is no longer open", err)
		}
		return nil, err
	}
	if session, err = r.store.GetGameSession(ctx, sessionID); err != nil {
		return nil, err
	}
	r.notify.BroadcastSessionUpdate(userID, session)

	if !opened {
		return session, &LaunchError{
			Kind:      KindPopupBlocked,
			Message:   "allow pop-ups and retry, the same game link will be used",
			LaunchURL: session.LaunchURL,
		}
	}

	if err := r.store.TouchHeartbeat(ctx, sessionID, r.opts.HeartbeatTTL); err != nil {
		r.logger.Warn("initial heartbeat", "session_id", sessionID, "err", err)
	}
	r.watchers.Register(sessionID)
	return session, nil
}

// Heartbeat refreshes the surface liveness of an open session.
func (r *SessionRegistry) Heartbeat(ctx context.Context, userID int64, sessionID string) error {
	session, err := r.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionActive {
		return nil
	}
	return r.store.TouchHeartbeat(ctx, sessionID, r.opts.HeartbeatTTL)
}

// NotifySurfaceClosed is the external close signal for a session.
func (r *SessionRegistry) NotifySurfaceClosed(ctx context.Context, sessionID string) error {
	return r.watchers.Fire(ctx, sessionID)
}

// NotifyUserSurfaceClosed is NotifySurfaceClosed for a caller that must own
// the session.
func (r *SessionRegistry) NotifyUserSurfaceClosed(ctx context.Context, userID int64, sessionID string) error {
	if _, err := r.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	return r.NotifySurfaceClosed(ctx, sessionID)
}

// EndSession ends the user's session on request.
func (r *SessionRegistry) EndSession(ctx context.Context, userID int64, sessionID string) (*models.GameSession, error) {
	if _, err := r.ownedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if err := r.endSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrTeardownBusy) {
			return nil, launchErr(KindRaceConflict, "session is already ending", err)
		}
		return nil, launchErr(KindProviderError, "could not end the session", err)
	}
	return r.store.GetGameSession(ctx, sessionID)
}

func (r *SessionRegistry) ActiveSession(ctx context.Context, userID int64) (*models.GameSession, error) {
	return r.store.GetActiveSession(ctx, userID)
}

func (r *SessionRegistry) History(ctx context.Context, userID int64, limit int64) ([]*models.GameSession, error) {
	return r.store.GetSessionHistory(ctx, userID, limit)
}

func (r *SessionRegistry) surfaceClosed(ctx context.Context, sessionID string) error {
	r.logger.Info("surface closed", "session_id", sessionID)
	err := r.endSession(ctx, sessionID)
	if errors.Is(err, ErrTeardownBusy) {
		return nil
	}
	return err
}

// endSession tears the session down at most once. Callers in this process
// share one attempt; across processes the stored claim decides.
func (r *SessionRegistry) endSession(ctx context.Context, sessionID string) error {
	_, err, _ := r.teardowns.Do(sessionID, func() (any, error) {
		return nil, r.teardown(context.WithoutCancel(ctx), sessionID)
	})
	return err
}

func (r *SessionRegistry) teardown(ctx context.Context, sessionID string) error {
	owner := uuid.NewString()
	claim, err := r.store.ClaimTeardown(ctx, sessionID, owner)
	if err != nil {
		return err
	}
	switch claim {
	case ClaimNone:
		r.watchers.Unregister(sessionID)
		return nil
	case ClaimInProgress:
		return ErrTeardownBusy
	}

	session, err := r.store.GetGameSession(ctx, sessionID)
	if err != nil {
		return err
	}
	r.notify.BroadcastSessionUpdate(session.UserID, session)

	w, err := r.balance.WithdrawAndReconcile(ctx, session, owner)
	if err != nil {
		if relErr := r.store.ReleaseTeardown(ctx, sessionID, owner, err.Error()); relErr != nil {
			r.logger.Error("release teardown claim", "session_id", sessionID, "err", relErr)
		}
		return err
	}

	r.watchers.Unregister(sessionID)
	if err := r.store.ClearHeartbeat(ctx, sessionID); err != nil {
		r.logger.Warn("clear heartbeat", "session_id", sessionID, "err", err)
	}
	r.logger.Info("session ended",
		"session_id", sessionID, "user_id", session.UserID, "family", session.Family,
		"deposited", session.Deposited, "returned", w.Amount)

	if ended, err := r.store.GetGameSession(ctx, sessionID); err == nil {
		r.notify.BroadcastSessionUpdate(ended.UserID, ended)
	}
	return nil
}

type Recovered struct {
	Family    string `json:"family"`
	SessionID string `json:"session_id,omitempty"`
	Amount    int64  `json:"amount"`
}

// Reconcile finishes the user's unfinished session and pulls back any
// provider wallet that no local session accounts for.
func (r *SessionRegistry) Reconcile(ctx context.Context, userID int64) ([]Recovered, error) {
	token := uuid.NewString()
	if err := r.store.AcquireUserLock(ctx, userID, token, r.opts.LockTTL, r.opts.LockWait); err != nil {
		if errors.Is(err, ErrLockBusy) {
			return nil, launchErr(KindRaceConflict, "another launch is in progress", err)
		}
		return nil, err
	}
	defer func() {
		if err := r.store.ReleaseUserLock(context.WithoutCancel(ctx), userID, token); err != nil {
			r.logger.Warn("release user lock", "user_id", userID, "err", err)
		}
	}()

	var out []Recovered
	var errs []error

	local, err := r.store.GetActiveSession(ctx, userID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if local != nil && local.Status == models.SessionEnding {
		if err := r.endSession(ctx, local.ID); err != nil {
			errs = append(errs, fmt.Errorf("finish %s: %w", local.ID, err))
		} else {
			ended, err := r.store.GetGameSession(ctx, local.ID)
			if err != nil {
				r.logger.Warn("load finished session", "session_id", local.ID, "err", err)
			} else {
				out = append(out, Recovered{Family: ended.Family, SessionID: ended.ID, Amount: ended.Returned})
			}
			local = nil
		}
	}

	keep := ""
	if local != nil {
		keep = local.ID
	}
	if rec, err := r.clearStaleHold(ctx, userID, keep); err != nil {
		errs = append(errs, fmt.Errorf("release held funds: %w", err))
	} else if rec != nil {
		out = append(out, *rec)
	}

	// Every family without a live local session is withdrawn; an empty
	// provider wallet comes back as zero and is skipped.
	for _, family := range r.gateways.Families() {
		if local != nil && local.Family == family {
			continue
		}
		amount, err := r.balance.Recover(ctx, userID, family)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if amount == 0 {
			continue
		}
		r.logger.Info("recovered orphaned provider balance", "user_id", userID, "family", family, "amount", amount)
		out = append(out, Recovered{Family: family, Amount: amount})
	}

	return out, errors.Join(errs...)
}

// clearStaleHold returns funds the wallet still holds for a session other than
// keep. A session row that still exists is torn down normally; a hold whose
// row is gone is settled straight from the provider wallet.
func (r *SessionRegistry) clearStaleHold(ctx context.Context, userID int64, keep string) (*Recovered, error) {
	wallet, err := r.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Session == "" || wallet.Session == keep || wallet.InProvider == 0 {
		return nil, nil
	}

	held, err := r.store.GetGameSession(ctx, wallet.Session)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}
	if err == nil && held.Status != models.SessionEnded {
		if err := r.endSession(ctx, held.ID); err != nil {
			return nil, err
		}
		ended, err := r.store.GetGameSession(ctx, held.ID)
		if err != nil {
			return nil, err
		}
		return &Recovered{Family: ended.Family, SessionID: ended.ID, Amount: ended.Returned}, nil
	}

	amount, err := r.balance.RecoverHold(ctx, wallet)
	if err != nil {
		return nil, err
	}
	r.logger.Warn("settled hold of a lost session",
		"user_id", userID, "session_id", wallet.Session, "family", wallet.Family, "amount", amount)
	return &Recovered{Family: wallet.Family, SessionID: wallet.Session, Amount: amount}, nil
}

// RetryPendingTeardowns retries sessions left ending by a failed withdrawal at
// least olderThan ago and returns how many were finished.
func (r *SessionRegistry) RetryPendingTeardowns(ctx context.Context, olderThan time.Duration) int {
	ids, err := r.store.PendingTeardowns(ctx, time.Now().Add(-olderThan), 100)
	if err != nil {
		r.logger.Error("list pending teardowns", "err", err)
		return 0
	}

	finished := 0
	for _, id := range ids {
		if err := r.endSession(ctx, id); err != nil {
			r.logger.Warn("retry teardown", "session_id", id, "err", err)
			continue
		}
		if err := r.store.DropPendingTeardown(ctx, id); err != nil {
			r.logger.Warn("drop pending teardown", "session_id", id, "err", err)
		}
		finished++
	}
	return finished
}

// ExpireUnopenedSessions ends ready sessions whose surface was never reported
// open within olderThan, such as a blocked popup the user never retried, and
// returns how many were finished.
func (r *SessionRegistry) ExpireUnopenedSessions(ctx context.Context, olderThan time.Duration) int {
	ids, err := r.store.UnopenedSessions(ctx, time.Now().Add(-olderThan), 100)
	if err != nil {
		r.logger.Error("list unopened sessions", "err", err)
		return 0
	}

	finished := 0
	for _, id := range ids {
		session, err := r.store.GetGameSession(ctx, id)
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("load unopened session", "session_id", id, "err", err)
			continue
		}
		if err != nil || session.Status != models.SessionReady {
			// opened, already ending, or gone; the other paths own it now
			if err := r.store.DropUnopened(ctx, id); err != nil {
				r.logger.Warn("drop unopened session", "session_id", id, "err", err)
			}
			continue
		}
		if err := r.endSession(ctx, id); err != nil {
			r.logger.Warn("expire unopened session", "session_id", id, "err", err)
			continue
		}
		r.logger.Info("expired unopened session", "session_id", id, "user_id", session.UserID)
		finished++
	}
	return finished
}

func (r *SessionRegistry) ownedSession(ctx context.Context, userID int64, sessionID string) (*models.GameSession, error) {
	session, err := r.store.GetGameSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, launchErr(KindNotFound, "session not found", err)
		}
		return nil, err
	}
	if session.UserID != userID {
		return nil, launchErr(KindNotFound, "session not found", ErrSessionNotFound)
	}
	return session, nil
}
