package models

type TransactionType string

const (
	TransactionTypeSessionDeposit  TransactionType = "session_deposit"
	TransactionTypeSessionWithdraw TransactionType = "session_withdraw"
	TransactionTypeRecovery        TransactionType = "session_recovery"
)

type Transaction struct {
	ID            string          `json:"id" redis:"id"`
	UserID        int64           `json:"user_id" redis:"user_id"`
	Type          TransactionType `json:"type" redis:"type"`
	Amount        int64           `json:"amount" redis:"amount"`
	BalanceBefore int64           `json:"balance_before" redis:"balance_before"`
	BalanceAfter  int64           `json:"balance_after" redis:"balance_after"`
	GameSessionID string          `json:"game_session_id,omitempty" redis:"game_session_id"`
	Family        string          `json:"family,omitempty" redis:"family"`
	Description   string          `json:"description" redis:"description"`
	CreatedAt     int64           `json:"created_at" redis:"created_at"`
}

// PlayRecord is the play/result entry written when a provider reports bet/win
// deltas for a finished session.
type PlayRecord struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
	GameID    int64  `json:"game_id"`
	Family    string `json:"family"`
	Bet       int64  `json:"bet"`
	Win       int64  `json:"win"`
	Deposited int64  `json:"deposited"`
	Returned  int64  `json:"returned"`
	EndedAt   int64  `json:"ended_at"`
}

func (p PlayRecord) Net() int64 {
	return p.Returned - p.Deposited
}
