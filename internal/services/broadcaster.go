package services

import "game-lobby-backend/internal/models"

// Broadcaster pushes session and balance changes to a user's connected clients.
type Broadcaster interface {
	BroadcastSessionUpdate(userID int64, session *models.GameSession)
	BroadcastBalance(userID int64, balance models.BalanceResponse)
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastSessionUpdate(int64, *models.GameSession)  {}
func (nopBroadcaster) BroadcastBalance(int64, models.BalanceResponse) {}
