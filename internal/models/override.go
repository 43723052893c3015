package models

type AccessKind string

const (
	AccessProvider    AccessKind = "provider"
	AccessGame        AccessKind = "game"
	AccessMaintenance AccessKind = "maintenance"
)

type Scope string

const (
	ScopeNone     Scope = ""
	ScopeAdmin    Scope = "admin"
	ScopeOperator Scope = "operator"
	ScopeStore    Scope = "store"
	ScopeUser     Scope = "user"
)

// AccessOverride narrows the catalog state for one store or one user.
// StoreID and UserID are zero when unset; GameID is zero for provider-wide rows.
type AccessOverride struct {
	ID         int64           `json:"id"`
	StoreID    int64           `json:"store_id,omitempty"`
	UserID     int64           `json:"user_id,omitempty"`
	APITag     string          `json:"api_tag"`
	ProviderID int64           `json:"provider_id"`
	GameID     int64           `json:"game_id,omitempty"`
	Kind       AccessKind      `json:"access_kind"`
	State      VisibilityState `json:"state"`
}

func (o AccessOverride) Effective() VisibilityState {
	if o.Kind == AccessMaintenance {
		return StateMaintenance
	}
	if !o.State.Valid() {
		return StateVisible
	}
	return o.State
}

func (o AccessOverride) Scope() Scope {
	if o.UserID != 0 {
		return ScopeUser
	}
	if o.StoreID != 0 {
		return ScopeStore
	}
	return ScopeNone
}

func (o AccessOverride) MatchesProvider(apiTag string, providerID int64) bool {
	return o.APITag == apiTag && o.ProviderID == providerID
}
