package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"game-lobby-backend/internal/models"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skipf("DATABASE_URL not set, skipping Postgres tests")
	}
	ctx := context.Background()
	if err := RunMigrations(ctx, url); err != nil {
		t.Skipf("Postgres not available, skipping test: %v", err)
	}
	repo, err := NewRepository(ctx, url)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func TestRepositoryCatalogRoundTrip(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	tag := fmt.Sprintf("test%d", time.Now().UnixNano())

	providers := []models.Provider{
		{ID: 1, APITag: tag, Name: "Pragmatic", AdminStatus: models.StateVisible, OperatorVisible: true},
		{ID: 2, APITag: tag, Name: "Pragmatic Live", AdminStatus: models.StateMaintenance, OperatorVisible: true},
	}
	if err := repo.UpsertProviders(ctx, providers); err != nil {
		t.Fatalf("UpsertProviders: %v", err)
	}
	rtp := 96.5
	games := []models.Game{
		{ProviderID: 1, APITag: tag, Code: "gates", Name: "Gates", Category: models.CategorySlot,
			AdminStatus: models.StateVisible, OperatorVisible: true, Featured: true, RTP: &rtp},
		{ProviderID: 2, APITag: tag, Code: "roulette", Name: "Roulette", Category: models.CategoryCasino,
			AdminStatus: models.StateHidden, OperatorVisible: true},
	}
	if err := repo.UpsertGames(ctx, games); err != nil {
		t.Fatalf("UpsertGames: %v", err)
	}

	got, err := repo.GetGame(ctx, games[0].ID)
	if err != nil {
		t.Fatalf("GetGame: %v", err)
	}
	if got.Code != "gates" || got.RTP == nil || *got.RTP != 96.5 || !got.Featured {
		t.Fatalf("unexpected game %+v", got)
	}

	listed, err := repo.ListGames(ctx, models.GameFilter{APITag: tag})
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(listed) != 2 || listed[0].Code != "gates" {
		t.Fatalf("unexpected listing %+v", listed)
	}

	p, err := repo.GetProvider(ctx, tag, 2)
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p.AdminStatus != models.StateMaintenance {
		t.Fatalf("provider status = %s", p.AdminStatus)
	}

	group := models.ProviderGroup{
		Name:    "Pragmatic " + tag,
		Members: []models.ProviderKey{{APITag: tag, ProviderID: 1}, {APITag: tag, ProviderID: 2}},
	}
	if err := repo.CreateProviderGroup(ctx, &group); err != nil {
		t.Fatalf("CreateProviderGroup: %v", err)
	}
	loaded, err := repo.GetProviderGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetProviderGroup: %v", err)
	}
	if len(loaded.Members) != 2 {
		t.Fatalf("members = %+v", loaded.Members)
	}
}

func TestRepositoryOverridesByScope(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	tag := fmt.Sprintf("ovr%d", time.Now().UnixNano())

	if err := repo.UpsertProviders(ctx, []models.Provider{{ID: 1, APITag: tag, Name: "P", OperatorVisible: true}}); err != nil {
		t.Fatalf("UpsertProviders: %v", err)
	}
	user := models.User{Username: "u-" + tag, StoreID: 900}
	if err := repo.CreateUser(ctx, &user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	other := models.User{Username: "o-" + tag, StoreID: 900}
	if err := repo.CreateUser(ctx, &other); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	rows := []models.AccessOverride{
		{StoreID: 900, APITag: tag, ProviderID: 1, Kind: models.AccessProvider, State: models.StateHidden},
		{StoreID: 901, APITag: tag, ProviderID: 1, Kind: models.AccessProvider, State: models.StateHidden},
		{UserID: user.ID, APITag: tag, ProviderID: 1, Kind: models.AccessProvider, State: models.StateVisible},
		{UserID: other.ID, APITag: tag, ProviderID: 1, Kind: models.AccessMaintenance},
	}
	for i := range rows {
		if err := repo.CreateOverride(ctx, &rows[i]); err != nil {
			t.Fatalf("CreateOverride: %v", err)
		}
		defer repo.DeleteOverride(ctx, rows[i].ID)
	}

	got, err := repo.ListOverrides(ctx, user.StoreID, user.ID)
	if err != nil {
		t.Fatalf("ListOverrides: %v", err)
	}
	var store, own int
	for _, o := range got {
		if o.APITag != tag {
			continue
		}
		switch {
		case o.StoreID == 900 && o.UserID == 0:
			store++
		case o.UserID == user.ID:
			own++
		default:
			t.Fatalf("unexpected row %+v", o)
		}
	}
	if store != 1 || own != 1 {
		t.Fatalf("store=%d own=%d", store, own)
	}
}

func TestRepositoryNotFound(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	if _, err := repo.GetGame(ctx, -1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetUser(ctx, -1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteOverride(ctx, -1); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
