package services

import (
	"context"
	"fmt"

	"game-lobby-backend/internal/models"
)

// Resolution is the effective exposure of a game or provider for one user.
// UserOverridable is false when a scope above the user decided, in which case
// the user-level control must not be offered.
type Resolution struct {
	State           models.VisibilityState `json:"state"`
	DecidingScope   models.Scope           `json:"deciding_scope"`
	UserOverridable bool                   `json:"user_overridable"`
}

func (r Resolution) Playable() bool {
	return !r.State.Restricts()
}

var visibleResolution = Resolution{State: models.StateVisible, DecidingScope: models.ScopeNone, UserOverridable: true}

func decided(state models.VisibilityState, scope models.Scope) Resolution {
	return Resolution{
		State:           state,
		DecidingScope:   scope,
		UserOverridable: scope == models.ScopeUser,
	}
}

func worst(states ...models.VisibilityState) models.VisibilityState {
	out := models.StateVisible
	for _, s := range states {
		if s.Severity() > out.Severity() {
			out = s
		}
	}
	return out
}

// scopeRank orders scopes from broadest to narrowest.
func scopeRank(s models.Scope) int {
	switch s {
	case models.ScopeAdmin:
		return 0
	case models.ScopeOperator:
		return 1
	case models.ScopeStore:
		return 2
	case models.ScopeUser:
		return 3
	}
	return 4
}

type overrideMatch func(o models.AccessOverride) bool

// overrideState folds the matching rows of one scope. Rows that say visible
// never loosen anything; they simply do not restrict.
func overrideState(overrides []models.AccessOverride, inScope, match overrideMatch) models.VisibilityState {
	state := models.StateVisible
	for _, o := range overrides {
		if !inScope(o) || !match(o) {
			continue
		}
		state = worst(state, o.Effective())
	}
	return state
}

func storeScope(user models.User) overrideMatch {
	return func(o models.AccessOverride) bool {
		return user.HasStore() && o.UserID == 0 && o.StoreID == user.StoreID
	}
}

func userScope(user models.User) overrideMatch {
	return func(o models.AccessOverride) bool {
		return user.ID != 0 && o.UserID == user.ID
	}
}

func resolve(user models.User, admin models.VisibilityState, operatorVisible bool,
	overrides []models.AccessOverride, match overrideMatch) Resolution {
	if admin.Restricts() {
		return decided(admin, models.ScopeAdmin)
	}
	if !operatorVisible {
		return decided(models.StateHidden, models.ScopeOperator)
	}
	if state := overrideState(overrides, storeScope(user), match); state.Restricts() {
		return decided(state, models.ScopeStore)
	}
	if state := overrideState(overrides, userScope(user), match); state.Restricts() {
		return decided(state, models.ScopeUser)
	}
	return visibleResolution
}

// ResolveGame walks admin status, operator visibility, store overrides and
// user overrides in that order; the first scope that restricts decides.
func ResolveGame(user models.User, provider models.Provider, game models.Game, overrides []models.AccessOverride) Resolution {
	admin := worst(provider.AdminStatus, game.AdminStatus)
	operator := provider.OperatorVisible && game.OperatorVisible
	match := func(o models.AccessOverride) bool {
		if !o.MatchesProvider(game.APITag, game.ProviderID) {
			return false
		}
		return o.GameID == 0 || o.GameID == game.ID
	}
	return resolve(user, admin, operator, overrides, match)
}

// ResolveProvider only consults provider-wide override rows.
func ResolveProvider(user models.User, provider models.Provider, overrides []models.AccessOverride) Resolution {
	match := func(o models.AccessOverride) bool {
		return o.GameID == 0 && o.MatchesProvider(provider.APITag, provider.ID)
	}
	return resolve(user, provider.AdminStatus, provider.OperatorVisible, overrides, match)
}

// ResolveGroup resolves every member and keeps the most restrictive result.
// Between equally restrictive members the broadest deciding scope is kept.
// A group without members is hidden.
func ResolveGroup(user models.User, members []models.Provider, overrides []models.AccessOverride) Resolution {
	if len(members) == 0 {
		return decided(models.StateHidden, models.ScopeAdmin)
	}
	out := visibleResolution
	for _, p := range members {
		r := ResolveProvider(user, p, overrides)
		switch {
		case r.State.Severity() > out.State.Severity():
			out = r
		case r.State.Severity() == out.State.Severity() && scopeRank(r.DecidingScope) < scopeRank(out.DecidingScope):
			out = r
		}
	}
	return out
}

// CatalogReader is the read side of the catalog the resolver needs.
type CatalogReader interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	GetGame(ctx context.Context, id int64) (models.Game, error)
	GetProvider(ctx context.Context, apiTag string, providerID int64) (models.Provider, error)
	GetProviderGroup(ctx context.Context, id int64) (models.ProviderGroup, error)
	ListOverrides(ctx context.Context, storeID, userID int64) ([]models.AccessOverride, error)
	ListGames(ctx context.Context, filter models.GameFilter) ([]models.Game, error)
}

type VisibilityService struct {
	catalog CatalogReader
}

func NewVisibilityService(catalog CatalogReader) *VisibilityService {
	return &VisibilityService{catalog: catalog}
}

type GameResolution struct {
	User       models.User
	Game       models.Game
	Provider   models.Provider
	Resolution Resolution
}

func (v *VisibilityService) userContext(ctx context.Context, userID int64) (models.User, []models.AccessOverride, error) {
	user, err := v.catalog.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, nil, fmt.Errorf("load user: %w", err)
	}
	overrides, err := v.catalog.ListOverrides(ctx, user.StoreID, user.ID)
	if err != nil {
		return models.User{}, nil, fmt.Errorf("load overrides: %w", err)
	}
	return user, overrides, nil
}

func (v *VisibilityService) ResolveGame(ctx context.Context, userID, gameID int64) (GameResolution, error) {
	user, overrides, err := v.userContext(ctx, userID)
	if err != nil {
		return GameResolution{}, err
	}
	game, err := v.catalog.GetGame(ctx, gameID)
	if err != nil {
		return GameResolution{}, fmt.Errorf("load game: %w", err)
	}
	provider, err := v.catalog.GetProvider(ctx, game.APITag, game.ProviderID)
	if err != nil {
		return GameResolution{}, fmt.Errorf("load provider: %w", err)
	}
	return GameResolution{
		User:       user,
		Game:       game,
		Provider:   provider,
		Resolution: ResolveGame(user, provider, game, overrides),
	}, nil
}

func (v *VisibilityService) ResolveProvider(ctx context.Context, userID int64, apiTag string, providerID int64) (Resolution, error) {
	user, overrides, err := v.userContext(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	provider, err := v.catalog.GetProvider(ctx, apiTag, providerID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load provider: %w", err)
	}
	return ResolveProvider(user, provider, overrides), nil
}

func (v *VisibilityService) ResolveGroup(ctx context.Context, userID, groupID int64) (Resolution, error) {
	user, overrides, err := v.userContext(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	group, err := v.catalog.GetProviderGroup(ctx, groupID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load provider group: %w", err)
	}
	members := make([]models.Provider, 0, len(group.Members))
	for _, key := range group.Members {
		p, err := v.catalog.GetProvider(ctx, key.APITag, key.ProviderID)
		if err != nil {
			return Resolution{}, fmt.Errorf("load group member %s/%d: %w", key.APITag, key.ProviderID, err)
		}
		members = append(members, p)
	}
	return ResolveGroup(user, members, overrides), nil
}

type LobbyGame struct {
	models.Game
	Resolution Resolution `json:"visibility"`
}

// Lobby lists the games a user may see. Hidden games are dropped; games under
// maintenance stay listed so the lobby can grey them out.
func (v *VisibilityService) Lobby(ctx context.Context, userID int64, filter models.GameFilter) ([]LobbyGame, error) {
	user, overrides, err := v.userContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	games, err := v.catalog.ListGames(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	providers := make(map[models.ProviderKey]models.Provider)
	out := make([]LobbyGame, 0, len(games))
	for _, g := range games {
		key := models.ProviderKey{APITag: g.APITag, ProviderID: g.ProviderID}
		p, ok := providers[key]
		if !ok {
			p, err = v.catalog.GetProvider(ctx, g.APITag, g.ProviderID)
			if err != nil {
				return nil, fmt.Errorf("load provider %s/%d: %w", g.APITag, g.ProviderID, err)
			}
			providers[key] = p
		}
		r := ResolveGame(user, p, g, overrides)
		if r.State == models.StateHidden {
			continue
		}
		out = append(out, LobbyGame{Game: g, Resolution: r})
	}
	return out, nil
}
