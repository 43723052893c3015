package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"game-lobby-backend/internal/config"
	"game-lobby-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisService owns the ledger, session rows, locks and heartbeat keys.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

func NewRedisServiceWithClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

// Wallet

func (s *RedisService) GetWallet(ctx context.Context, userID int64) (*models.Wallet, error) {
	key := fmt.Sprintf(KeyWallet, userID)

	res := s.client.HGetAll(ctx, key)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	wallet := &models.Wallet{UserID: userID}
	if len(res.Val()) == 0 {
		return wallet, nil
	}
	if err := res.Scan(wallet); err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	wallet.UserID = userID
	return wallet, nil
}

// CreditWallet adds amount to the resting balance and returns the balance
// before and after.
func (s *RedisService) CreditWallet(ctx context.Context, userID int64, amount int64) (int64, int64, error) {
	key := fmt.Sprintf(KeyWallet, userID)

	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "user_id", userID)
		incr = pipe.HIncrBy(ctx, key, "balance", amount)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to credit wallet: %w", err)
	}
	after := incr.Val()
	return after - amount, after, nil
}

var reserveFundsScript = redis.NewScript(`
	local key = KEYS[1]
	local held = redis.call("HGET", key, "session") or ""
	local inprov = tonumber(redis.call("HGET", key, "in_provider") or "0")
	local bal = tonumber(redis.call("HGET", key, "balance") or "0")

	if held == ARGV[2] then
		return {inprov, bal + inprov, 1}
	end
	if inprov > 0 and held ~= "" then
		return redis.error_reply("FUNDS_HELD")
	end

	redis.call("HSET", key, "user_id", ARGV[1], "balance", 0, "in_provider", inprov + bal,
		"family", ARGV[3], "session", ARGV[2])
	return {bal, bal, 0}
`)

type Reservation struct {
	Amount        int64
	BalanceBefore int64
	// Existing is set when the funds were already reserved for this session.
	Existing bool
}

// ReserveFunds moves the whole resting balance into in_provider for sessionID.
// It fails with ErrFundsHeld while another session still holds funds.
func (s *RedisService) ReserveFunds(ctx context.Context, userID int64, sessionID, family string) (Reservation, error) {
	key := fmt.Sprintf(KeyWallet, userID)

	vals, err := reserveFundsScript.Run(ctx, s.client, []string{key}, userID, sessionID, family).Int64Slice()
	if err != nil {
		if strings.Contains(err.Error(), "FUNDS_HELD") {
			return Reservation{}, ErrFundsHeld
		}
		return Reservation{}, fmt.Errorf("failed to reserve funds: %w", err)
	}
	return Reservation{Amount: vals[0], BalanceBefore: vals[1], Existing: vals[2] == 1}, nil
}

var releaseFundsScript = redis.NewScript(`
	local key = KEYS[1]
	local held = redis.call("HGET", key, "session") or ""
	if held ~= ARGV[1] then
		return 0
	end
	local inprov = tonumber(redis.call("HGET", key, "in_provider") or "0")
	redis.call("HINCRBY", key, "balance", inprov)
	redis.call("HSET", key, "in_provider", 0, "session", "", "family", "")
	return inprov
`)

// ReleaseFunds returns a reservation to the resting balance. Used when the
// provider deposit did not happen.
func (s *RedisService) ReleaseFunds(ctx context.Context, userID int64, sessionID string) (int64, error) {
	key := fmt.Sprintf(KeyWallet, userID)
	amount, err := releaseFundsScript.Run(ctx, s.client, []string{key}, sessionID).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to release funds: %w", err)
	}
	return amount, nil
}

var settleHoldScript = redis.NewScript(`
	local key = KEYS[1]
	if (redis.call("HGET", key, "session") or "") ~= ARGV[1] then
		return {0, 0, 0}
	end
	local before = tonumber(redis.call("HGET", key, "balance") or "0")
	local after = before + tonumber(ARGV[2])
	redis.call("HSET", key, "balance", after, "in_provider", 0, "session", "", "family", "")
	return {1, before, after}
`)

// SettleHold replaces a hold left by a session that no longer exists with what
// the provider returned for it. It fails with ErrHoldMoved when the wallet no
// longer names sessionID.
func (s *RedisService) SettleHold(ctx context.Context, userID int64, sessionID string, returned int64) (int64, int64, error) {
	key := fmt.Sprintf(KeyWallet, userID)
	vals, err := settleHoldScript.Run(ctx, s.client, []string{key}, sessionID, returned).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to settle hold: %w", err)
	}
	if vals[0] != 1 {
		return 0, 0, fmt.Errorf("%w: %s", ErrHoldMoved, sessionID)
	}
	return vals[1], vals[2], nil
}

// Game sessions

func sessionFields(session *models.GameSession) []any {
	return []any{
		"id", session.ID,
		"user_id", session.UserID,
		"game_id", session.GameID,
		"game_name", session.GameName,
		"family", session.Family,
		"provider_id", session.ProviderID,
		"status", string(session.Status),
		"popup", string(session.Popup),
		"launch_url", session.LaunchURL,
		"provider_session", session.ProviderSession,
		"deposited", session.Deposited,
		"returned", session.Returned,
		"unconfirmed", session.Unconfirmed,
		"teardown_owner", session.TeardownOwner,
		"last_error", session.LastError,
		"created_at", session.CreatedAt,
		"updated_at", session.UpdatedAt,
		"ended_at", session.EndedAt,
	}
}

var createSessionScript = redis.NewScript(`
	local current = redis.call("GET", KEYS[1])
	if current then
		return current
	end
	redis.call("HSET", KEYS[2], unpack(ARGV, 2))
	redis.call("SET", KEYS[1], ARGV[1])
	return ""
`)

// CreateSession stores session and points the user's active slot at it, but
// only if the slot is empty. It returns ErrSlotTaken otherwise. The row has no
// TTL until the session ends.
func (s *RedisService) CreateSession(ctx context.Context, session *models.GameSession) error {
	pointer := fmt.Sprintf(KeyUserActiveSession, session.UserID)
	key := fmt.Sprintf(KeyGameSession, session.ID)

	args := append([]any{session.ID}, sessionFields(session)...)
	current, err := createSessionScript.Run(ctx, s.client, []string{pointer, key}, args...).Text()
	if err != nil {
		return fmt.Errorf("failed to create game session: %w", err)
	}
	if current != "" {
		return fmt.Errorf("%w: %s", ErrSlotTaken, current)
	}
	return nil
}

func (s *RedisService) GetGameSession(ctx context.Context, sessionID string) (*models.GameSession, error) {
	key := fmt.Sprintf(KeyGameSession, sessionID)

	res := s.client.HGetAll(ctx, key)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}
	if len(res.Val()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	var session models.GameSession
	if err := res.Scan(&session); err != nil {
		return nil, fmt.Errorf("failed to scan game session: %w", err)
	}
	return &session, nil
}

// GetActiveSession returns the session occupying the user's slot.
func (s *RedisService) GetActiveSession(ctx context.Context, userID int64) (*models.GameSession, error) {
	pointer := fmt.Sprintf(KeyUserActiveSession, userID)

	id, err := s.client.Get(ctx, pointer).Result()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}

	session, err := s.GetGameSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		// the row is gone from under the pointer
		s.clearPointer(ctx, userID, id)
	}
	return session, err
}

var clearPointerScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

func (s *RedisService) clearPointer(ctx context.Context, userID int64, sessionID string) {
	pointer := fmt.Sprintf(KeyUserActiveSession, userID)
	clearPointerScript.Run(ctx, s.client, []string{pointer}, sessionID)
}

var transitionScript = redis.NewScript(`
	local status = redis.call("HGET", KEYS[1], "status")
	if not status then
		return -1
	end
	if not string.find("|" .. ARGV[1] .. "|", "|" .. status .. "|", 1, true) then
		return 0
	end
	redis.call("HSET", KEYS[1], unpack(ARGV, 2))
	return 1
`)

// transition applies fields to the session only when its status is one of from.
func (s *RedisService) transition(ctx context.Context, sessionID string, from []models.SessionStatus, fields ...any) error {
	key := fmt.Sprintf(KeyGameSession, sessionID)

	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	args := append([]any{strings.Join(allowed, "|"), "updated_at", models.NowMillis()}, fields...)

	res, err := transitionScript.Run(ctx, s.client, []string{key}, args...).Int64()
	if err != nil {
		return fmt.Errorf("failed to update game session: %w", err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	case 0:
		return fmt.Errorf("%w: %s", ErrInvalidTransition, sessionID)
	}
	return nil
}

// MarkReady records the minted launch for a session that was just created and
// files it as unopened until the client reports the surface.
func (s *RedisService) MarkReady(ctx context.Context, session *models.GameSession) error {
	err := s.transition(ctx, session.ID, []models.SessionStatus{models.SessionNone},
		"status", string(models.SessionReady),
		"launch_url", session.LaunchURL,
		"provider_session", session.ProviderSession,
		"deposited", session.Deposited,
	)
	if err != nil {
		return err
	}
	if err := s.client.ZAdd(ctx, KeyUnopenedSessions, redis.Z{
		Score:  float64(models.NowMillis()),
		Member: session.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to track unopened session: %w", err)
	}
	return nil
}

// MarkFunded moves a fresh session whose launch could not be completed to
// ready without a URL, so the normal teardown can return its funds.
func (s *RedisService) MarkFunded(ctx context.Context, sessionID string, deposited int64, unconfirmed bool) error {
	return s.transition(ctx, sessionID, []models.SessionStatus{models.SessionNone},
		"status", string(models.SessionReady),
		"deposited", deposited,
		"unconfirmed", unconfirmed,
	)
}

func (s *RedisService) SetPopup(ctx context.Context, sessionID string, popup models.PopupStatus) error {
	fields := []any{"popup", string(popup)}
	if popup == models.PopupOpened {
		fields = append(fields, "status", string(models.SessionActive))
	}
	err := s.transition(ctx, sessionID, []models.SessionStatus{models.SessionReady, models.SessionActive}, fields...)
	if err != nil || popup != models.PopupOpened {
		return err
	}
	return s.DropUnopened(ctx, sessionID)
}

// UnopenedSessions lists ready sessions filed at or before cutoff whose
// surface was never reported open.
func (s *RedisService) UnopenedSessions(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, KeyUnopenedSessions, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", cutoff.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unopened sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisService) DropUnopened(ctx context.Context, sessionID string) error {
	return s.client.ZRem(ctx, KeyUnopenedSessions, sessionID).Err()
}

var abandonSessionScript = redis.NewScript(`
	local status = redis.call("HGET", KEYS[1], "status")
	if status and status ~= "" then
		return 0
	end
	redis.call("DEL", KEYS[1])
	if redis.call("GET", KEYS[2]) == ARGV[1] then
		redis.call("DEL", KEYS[2])
	end
	return 1
`)

// AbandonSession removes a session that never got past creation.
func (s *RedisService) AbandonSession(ctx context.Context, userID int64, sessionID string) error {
	keys := []string{
		fmt.Sprintf(KeyGameSession, sessionID),
		fmt.Sprintf(KeyUserActiveSession, userID),
	}
	if err := abandonSessionScript.Run(ctx, s.client, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to abandon game session: %w", err)
	}
	return nil
}

type ClaimResult int

const (
	ClaimNone       ClaimResult = 0 // ended or missing
	ClaimAcquired   ClaimResult = 1
	ClaimInProgress ClaimResult = 2
)

var claimTeardownScript = redis.NewScript(`
	local status = redis.call("HGET", KEYS[1], "status")
	if not status or status == "ended" then
		return 0
	end
	local now = tonumber(ARGV[2])
	local updated = tonumber(redis.call("HGET", KEYS[1], "updated_at") or "0")
	local stale = now - updated > tonumber(ARGV[3])
	local owner = redis.call("HGET", KEYS[1], "teardown_owner") or ""

	if status == "ready" or status == "active" or (status == "ending" and owner == "") or stale then
		redis.call("HSET", KEYS[1], "status", "ending", "teardown_owner", ARGV[1], "updated_at", ARGV[2])
		return 1
	end
	return 2
`)

// ClaimTeardown moves ready or active to ending and makes owner the only
// caller allowed to finish it. An ending session with no owner, or one whose
// owner went silent, can be claimed again.
func (s *RedisService) ClaimTeardown(ctx context.Context, sessionID, owner string) (ClaimResult, error) {
	key := fmt.Sprintf(KeyGameSession, sessionID)
	res, err := claimTeardownScript.Run(ctx, s.client, []string{key},
		owner, models.NowMillis(), TeardownStaleAfter.Milliseconds()).Int64()
	if err != nil {
		return ClaimNone, fmt.Errorf("failed to claim teardown: %w", err)
	}
	return ClaimResult(res), nil
}

var releaseTeardownScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "teardown_owner") ~= ARGV[1] then
		return 0
	end
	redis.call("HSET", KEYS[1], "teardown_owner", "", "last_error", ARGV[3], "updated_at", ARGV[2])
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[4])
	return 1
`)

// ReleaseTeardown gives up a claim after a failed withdrawal. The session
// stays ending and is queued for the retry sweep.
func (s *RedisService) ReleaseTeardown(ctx context.Context, sessionID, owner, reason string) error {
	keys := []string{fmt.Sprintf(KeyGameSession, sessionID), KeyEndingSessions}
	return releaseTeardownScript.Run(ctx, s.client, keys, owner, models.NowMillis(), reason, sessionID).Err()
}

// PendingTeardowns lists sessions whose teardown failed at or before cutoff.
func (s *RedisService) PendingTeardowns(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, KeyEndingSessions, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", cutoff.UnixMilli()),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending teardowns: %w", err)
	}
	return ids, nil
}

func (s *RedisService) DropPendingTeardown(ctx context.Context, sessionID string) error {
	return s.client.ZRem(ctx, KeyEndingSessions, sessionID).Err()
}

var finishTeardownScript = redis.NewScript(`
	if redis.call("HGET", KEYS[1], "teardown_owner") ~= ARGV[1] then
		return {0, 0, 0}
	end
	redis.call("HSET", KEYS[1], "status", "ended", "teardown_owner", "", "last_error", "",
		"returned", ARGV[3], "ended_at", ARGV[2], "updated_at", ARGV[2])
	if redis.call("GET", KEYS[2]) == ARGV[4] then
		redis.call("DEL", KEYS[2])
	end
	redis.call("ZADD", KEYS[3], ARGV[2], ARGV[4])
	redis.call("ZREMRANGEBYRANK", KEYS[3], 0, -(tonumber(ARGV[5]) + 1))
	redis.call("ZREM", KEYS[5], ARGV[4])
	redis.call("ZREM", KEYS[6], ARGV[4])
	redis.call("EXPIRE", KEYS[1], ARGV[6])

	local before = tonumber(redis.call("HGET", KEYS[4], "balance") or "0")
	local after = before + tonumber(ARGV[3])
	if (redis.call("HGET", KEYS[4], "session") or "") == ARGV[4] then
		redis.call("HSET", KEYS[4], "balance", after, "in_provider", 0, "session", "", "family", "")
	else
		redis.call("HSET", KEYS[4], "balance", after)
	end
	return {1, before, after}
`)

// FinishTeardown credits the withdrawn amount, ends the session, frees the
// user's slot and files the session under history, all in one step. The ended
// row expires after TTLGameSession.
func (s *RedisService) FinishTeardown(ctx context.Context, session *models.GameSession, owner string, returned int64) (int64, int64, error) {
	keys := []string{
		fmt.Sprintf(KeyGameSession, session.ID),
		fmt.Sprintf(KeyUserActiveSession, session.UserID),
		fmt.Sprintf(KeyUserCompletedSessions, session.UserID),
		fmt.Sprintf(KeyWallet, session.UserID),
		KeyEndingSessions,
		KeyUnopenedSessions,
	}
	vals, err := finishTeardownScript.Run(ctx, s.client, keys,
		owner, models.NowMillis(), returned, session.ID, MaxHistory, int64(TTLGameSession.Seconds())).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to finish teardown: %w", err)
	}
	if vals[0] != 1 {
		return 0, 0, fmt.Errorf("%w: %s", ErrClaimLost, session.ID)
	}
	return vals[1], vals[2], nil
}

func (s *RedisService) GetSessionHistory(ctx context.Context, userID int64, limit int64) ([]*models.GameSession, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = 50
	}

	completedKey := fmt.Sprintf(KeyUserCompletedSessions, userID)
	ids, err := s.client.ZRevRange(ctx, completedKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session ids: %w", err)
	}
	return s.BulkGetGameSessions(ctx, ids)
}

func (s *RedisService) BulkGetGameSessions(ctx context.Context, sessionIDs []string) ([]*models.GameSession, error) {
	if len(sessionIDs) == 0 {
		return []*models.GameSession{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, fmt.Sprintf(KeyGameSession, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	sessions := make([]*models.GameSession, 0, len(cmds))
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		var session models.GameSession
		if err := cmd.Scan(&session); err != nil {
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Single-writer guard

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// AcquireUserLock takes the per-user lease, polling until wait elapses.
func (s *RedisService) AcquireUserLock(ctx context.Context, userID int64, token string, ttl, wait time.Duration) error {
	key := fmt.Sprintf(KeyUserLock, userID)
	deadline := time.Now().Add(wait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire user lock: %w", err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (s *RedisService) ReleaseUserLock(ctx context.Context, userID int64, token string) error {
	key := fmt.Sprintf(KeyUserLock, userID)
	return unlockScript.Run(ctx, s.client, []string{key}, token).Err()
}

// Surface heartbeats

func (s *RedisService) TouchHeartbeat(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := fmt.Sprintf(KeySurfaceHeartbeat, sessionID)
	return s.client.Set(ctx, key, models.NowMillis(), ttl).Err()
}

func (s *RedisService) HeartbeatAlive(ctx context.Context, sessionID string) (bool, error) {
	key := fmt.Sprintf(KeySurfaceHeartbeat, sessionID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat: %w", err)
	}
	return n == 1, nil
}

func (s *RedisService) ClearHeartbeat(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeySurfaceHeartbeat, sessionID)).Err()
}

// Transactions and plays

func (s *RedisService) SaveTransaction(ctx context.Context, tx *models.Transaction) error {
	txKey := fmt.Sprintf(KeyTransaction, tx.ID)

	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	if err := s.client.Set(ctx, txKey, data, TTLTransaction).Err(); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	userTxKey := fmt.Sprintf(KeyUserTransactions, tx.UserID)
	if err := s.client.ZAdd(ctx, userTxKey, redis.Z{
		Score:  float64(tx.CreatedAt),
		Member: tx.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to user transactions: %w", err)
	}

	// Keep only last 100 transactions
	s.client.ZRemRangeByRank(ctx, userTxKey, 0, -(MaxHistory + 1))

	return nil
}

func (s *RedisService) GetUserTransactions(ctx context.Context, userID int64, limit int64) ([]*models.Transaction, error) {
	if limit <= 0 || limit > MaxHistory {
		limit = 50
	}

	userTxKey := fmt.Sprintf(KeyUserTransactions, userID)
	txIDs, err := s.client.ZRevRange(ctx, userTxKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction IDs: %w", err)
	}

	var transactions []*models.Transaction
	for _, txID := range txIDs {
		data, err := s.client.Get(ctx, fmt.Sprintf(KeyTransaction, txID)).Result()
		if err != nil {
			continue
		}

		var tx models.Transaction
		if err := json.Unmarshal([]byte(data), &tx); err != nil {
			continue
		}
		transactions = append(transactions, &tx)
	}

	return transactions, nil
}

// PublishPlay appends a play record to the plays stream for downstream
// consumers (reporting, bonus engines).
func (s *RedisService) PublishPlay(ctx context.Context, play models.PlayRecord) error {
	data, err := json.Marshal(play)
	if err != nil {
		return fmt.Errorf("failed to marshal play: %w", err)
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamPlays,
		MaxLen: MaxPlayStreamLen,
		Approx: true,
		Values: map[string]any{
			"data":       string(data),
			"session_id": play.SessionID,
			"user_id":    play.UserID,
			"family":     play.Family,
		},
	}).Err()
}

func (s *RedisService) CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}
