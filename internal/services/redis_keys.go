package services

import "time"

const (
	KeyWallet                = "wallet:%d"
	KeyGameSession           = "game:session:%s"
	KeyUserActiveSession     = "user:%d:active_session"
	KeyUserCompletedSessions = "user:%d:completed_sessions"
	KeyTransaction           = "transaction:%s"
	KeyUserTransactions      = "user:%d:transactions"
	KeyRateLimit             = "ratelimit:%d:%s"
	KeyUserLock              = "lock:user:%d"
	KeySurfaceHeartbeat      = "surface:%s:heartbeat"
	KeyEndingSessions        = "sessions:ending"
	KeyUnopenedSessions      = "sessions:unopened"
	StreamPlays              = "stream:plays"

	// Applied once a session has ended. Open rows never expire.
	TTLGameSession = 7 * 24 * time.Hour  // 7 days
	TTLTransaction = 30 * 24 * time.Hour // 30 days

	// A teardown owner that has not touched the row for this long is presumed dead.
	TeardownStaleAfter = 2 * time.Minute

	DefaultRateLimitLaunch = 30 // Max 30 launches per minute
	MaxHistory             = 100
	MaxPlayStreamLen       = 100000
)
