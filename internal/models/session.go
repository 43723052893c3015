package models

type SessionStatus string

const (
	SessionNone   SessionStatus = ""
	SessionReady  SessionStatus = "ready"
	SessionActive SessionStatus = "active"
	SessionEnding SessionStatus = "ending"
	SessionEnded  SessionStatus = "ended"
)

// PopupStatus tracks whether the externally opened surface came up. It is a
// separate axis from SessionStatus.
type PopupStatus string

const (
	PopupPending PopupStatus = ""
	PopupOpened  PopupStatus = "opened"
	PopupBlocked PopupStatus = "blocked"
)

type GameSession struct {
	ID              string        `json:"id" redis:"id"`
	UserID          int64         `json:"user_id" redis:"user_id"`
	GameID          int64         `json:"game_id" redis:"game_id"`
	GameName        string        `json:"game_name" redis:"game_name"`
	Family          string        `json:"family" redis:"family"`
	ProviderID      int64         `json:"provider_id" redis:"provider_id"`
	Status          SessionStatus `json:"status" redis:"status"`
	Popup           PopupStatus   `json:"popup" redis:"popup"`
	LaunchURL       string        `json:"launch_url" redis:"launch_url"`
	ProviderSession string        `json:"provider_session,omitempty" redis:"provider_session"`

	// Deposited is the ledger balance moved into the provider wallet at launch, in cents.
	Deposited int64 `json:"deposited" redis:"deposited"`
	Returned  int64 `json:"returned" redis:"returned"`
	// Unconfirmed marks a deposit whose provider call failed without a clear
	// refusal. The provider may or may not hold Deposited.
	Unconfirmed bool `json:"unconfirmed,omitempty" redis:"unconfirmed"`

	TeardownOwner string `json:"-" redis:"teardown_owner"`
	LastError     string `json:"last_error,omitempty" redis:"last_error"`

	CreatedAt int64 `json:"created_at" redis:"created_at"`
	UpdatedAt int64 `json:"updated_at" redis:"updated_at"`
	EndedAt   int64 `json:"ended_at,omitempty" redis:"ended_at"`
}

// Open reports whether the session still holds the user's single slot.
func (s *GameSession) Open() bool {
	switch s.Status {
	case SessionReady, SessionActive, SessionEnding:
		return true
	}
	return false
}

// Reusable reports whether a relaunch of gameID may return the stored URL.
func (s *GameSession) Reusable(gameID int64) bool {
	if s.Status != SessionReady && s.Status != SessionActive {
		return false
	}
	return s.GameID == gameID && s.LaunchURL != ""
}
