package models

type VisibilityState string

const (
	StateVisible     VisibilityState = "visible"
	StateMaintenance VisibilityState = "maintenance"
	StateHidden      VisibilityState = "hidden"
)

// Severity orders states by restrictiveness: visible < maintenance < hidden.
func (s VisibilityState) Severity() int {
	switch s {
	case StateHidden:
		return 2
	case StateMaintenance:
		return 1
	default:
		return 0
	}
}

func (s VisibilityState) Restricts() bool {
	return s.Severity() > 0
}

func (s VisibilityState) Valid() bool {
	switch s {
	case StateVisible, StateMaintenance, StateHidden:
		return true
	}
	return false
}

type Category string

const (
	CategoryCasino   Category = "casino"
	CategorySlot     Category = "slot"
	CategoryMinigame Category = "minigame"
)

type Game struct {
	ID              int64           `json:"id"`
	ProviderID      int64           `json:"provider_id"`
	APITag          string          `json:"api_tag"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Category        Category        `json:"category"`
	AdminStatus     VisibilityState `json:"admin_status"`
	OperatorVisible bool            `json:"operator_visible"`
	Featured        bool            `json:"featured"`
	Priority        int             `json:"priority"`
	RTP             *float64        `json:"rtp,omitempty"`
}

// Family is the provider family whose wallet a session of this game funds.
func (g Game) Family() string {
	return g.APITag
}

type Provider struct {
	ID              int64           `json:"id"`
	APITag          string          `json:"api_tag"`
	Name            string          `json:"name"`
	AdminStatus     VisibilityState `json:"admin_status"`
	OperatorVisible bool            `json:"operator_visible"`
}

// ProviderKey identifies one upstream provider inside an api tag.
type ProviderKey struct {
	APITag     string `json:"api_tag"`
	ProviderID int64  `json:"provider_id"`
}

// ProviderGroup is a merged provider: several (api tag, provider id) members
// presented to users as one entity.
type ProviderGroup struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Members []ProviderKey `json:"members"`
}

// GameFilter narrows a lobby listing. Zero fields match everything.
type GameFilter struct {
	APITag     string   `form:"api_tag"`
	ProviderID int64    `form:"provider_id"`
	Category   Category `form:"category"`
	Limit      int      `form:"limit"`
	Offset     int      `form:"offset"`
}
