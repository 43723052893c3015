package postgres

import (
	"context"
	"errors"
	"fmt"

	"game-lobby-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the catalog, provider groups, users and access overrides.
// Rows are written by the admin tooling; the write helpers here exist for
// provider sync and fixtures.
type Repository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, txRepo *Repository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	txRepo := &Repository{pool: r.pool, tx: tx}
	if err := fn(ctx, txRepo); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const gameColumns = `id, provider_id, api_tag, code, name, category, admin_status,
	operator_visible, featured, priority, rtp::float8`

func (r *Repository) GetUser(ctx context.Context, id int64) (models.User, error) {
	const query = `SELECT id, username, store_id, operator_id FROM users WHERE id = $1`
	var u models.User
	var storeID, operatorID *int64
	err := r.queryRow(ctx, query, id).Scan(&u.ID, &u.Username, &storeID, &operatorID)
	if err != nil {
		return models.User{}, notFound(err, "user %d", id)
	}
	if storeID != nil {
		u.StoreID = *storeID
	}
	if operatorID != nil {
		u.OperatorID = *operatorID
	}
	return u, nil
}

func (r *Repository) GetGame(ctx context.Context, id int64) (models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	g, err := scanGame(r.queryRow(ctx, query, id))
	if err != nil {
		return models.Game{}, notFound(err, "game %d", id)
	}
	return g, nil
}

func (r *Repository) GetProvider(ctx context.Context, apiTag string, providerID int64) (models.Provider, error) {
	const query = `
		SELECT id, api_tag, name, admin_status, operator_visible
		FROM providers
		WHERE api_tag = $1 AND id = $2
	`
	var p models.Provider
	var status string
	err := r.queryRow(ctx, query, apiTag, providerID).Scan(&p.ID, &p.APITag, &p.Name, &status, &p.OperatorVisible)
	if err != nil {
		return models.Provider{}, notFound(err, "provider %s/%d", apiTag, providerID)
	}
	p.AdminStatus = models.VisibilityState(status)
	return p, nil
}

func (r *Repository) GetProviderGroup(ctx context.Context, id int64) (models.ProviderGroup, error) {
	var group models.ProviderGroup
	err := r.queryRow(ctx, `SELECT id, name FROM provider_groups WHERE id = $1`, id).Scan(&group.ID, &group.Name)
	if err != nil {
		return models.ProviderGroup{}, notFound(err, "provider group %d", id)
	}

	const members = `
		SELECT api_tag, provider_id
		FROM provider_group_members
		WHERE group_id = $1
		ORDER BY api_tag, provider_id
	`
	rows, err := r.query(ctx, members, id)
	if err != nil {
		return models.ProviderGroup{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var key models.ProviderKey
		if err := rows.Scan(&key.APITag, &key.ProviderID); err != nil {
			return models.ProviderGroup{}, err
		}
		group.Members = append(group.Members, key)
	}
	if rows.Err() != nil {
		return models.ProviderGroup{}, rows.Err()
	}
	return group, nil
}

// ListOverrides returns the rows scoped to storeID (store-wide rows only) and
// to userID. A zero id matches nothing.
func (r *Repository) ListOverrides(ctx context.Context, storeID, userID int64) ([]models.AccessOverride, error) {
	const query = `
		SELECT id, store_id, user_id, api_tag, provider_id, game_id, access_kind, state
		FROM access_overrides
		WHERE ($1 <> 0 AND store_id = $1 AND user_id IS NULL)
		   OR ($2 <> 0 AND user_id = $2)
		ORDER BY id
	`
	rows, err := r.query(ctx, query, storeID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.AccessOverride
	for rows.Next() {
		var o models.AccessOverride
		var store, user, game *int64
		var kind, state string
		if err := rows.Scan(&o.ID, &store, &user, &o.APITag, &o.ProviderID, &game, &kind, &state); err != nil {
			return nil, err
		}
		if store != nil {
			o.StoreID = *store
		}
		if user != nil {
			o.UserID = *user
		}
		if game != nil {
			o.GameID = *game
		}
		o.Kind = models.AccessKind(kind)
		o.State = models.VisibilityState(state)
		result = append(result, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func (r *Repository) ListGames(ctx context.Context, filter models.GameFilter) ([]models.Game, error) {
	limit, offset := normalizePaging(filter.Limit, filter.Offset)
	query := `SELECT ` + gameColumns + `
		FROM games
		WHERE ($1 = '' OR api_tag = $1)
		  AND ($2 = 0 OR provider_id = $2)
		  AND ($3 = '' OR category = $3)
		ORDER BY featured DESC, priority DESC, name
		LIMIT $4 OFFSET $5
	`
	rows, err := r.query(ctx, query, filter.APITag, filter.ProviderID, string(filter.Category), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func (r *Repository) UpsertProviders(ctx context.Context, providers []models.Provider) error {
	if len(providers) == 0 {
		return nil
	}
	const query = `
		INSERT INTO providers (id, api_tag, name, admin_status, operator_visible, updated_at, created_at)
		VALUES ($1,$2,$3,$4,$5, now(), now())
		ON CONFLICT (api_tag, id) DO UPDATE SET
			name = EXCLUDED.name,
			admin_status = EXCLUDED.admin_status,
			operator_visible = EXCLUDED.operator_visible,
			updated_at = now()
	`
	batch := &pgx.Batch{}
	for _, p := range providers {
		batch.Queue(query, p.ID, p.APITag, p.Name, string(defaultState(p.AdminStatus)), p.OperatorVisible)
	}
	return r.execBatch(ctx, batch)
}

// UpsertGames writes games keyed by (api tag, code) and fills in their ids.
func (r *Repository) UpsertGames(ctx context.Context, games []models.Game) error {
	const query = `
		INSERT INTO games (
			provider_id, api_tag, code, name, category, admin_status,
			operator_visible, featured, priority, rtp, updated_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
		ON CONFLICT (api_tag, code) DO UPDATE SET
			provider_id = EXCLUDED.provider_id,
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			admin_status = EXCLUDED.admin_status,
			operator_visible = EXCLUDED.operator_visible,
			featured = EXCLUDED.featured,
			priority = EXCLUDED.priority,
			rtp = EXCLUDED.rtp,
			updated_at = now()
		RETURNING id
	`
	for i := range games {
		g := &games[i]
		err := r.queryRow(ctx, query,
			g.ProviderID, g.APITag, g.Code, g.Name, string(g.Category),
			string(defaultState(g.AdminStatus)), g.OperatorVisible, g.Featured, g.Priority, g.RTP,
		).Scan(&g.ID)
		if err != nil {
			return fmt.Errorf("upsert game %s/%s: %w", g.APITag, g.Code, err)
		}
	}
	return nil
}

func (r *Repository) CreateUser(ctx context.Context, u *models.User) error {
	const query = `
		INSERT INTO users (username, store_id, operator_id)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	return r.queryRow(ctx, query, u.Username, nullID(u.StoreID), nullID(u.OperatorID)).Scan(&u.ID)
}

func (r *Repository) CreateOverride(ctx context.Context, o *models.AccessOverride) error {
	const query = `
		INSERT INTO access_overrides (store_id, user_id, api_tag, provider_id, game_id, access_kind, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`
	return r.queryRow(ctx, query,
		nullID(o.StoreID), nullID(o.UserID), o.APITag, o.ProviderID, nullID(o.GameID),
		string(o.Kind), string(defaultState(o.State)),
	).Scan(&o.ID)
}

func (r *Repository) DeleteOverride(ctx context.Context, id int64) error {
	tag, err := r.exec(ctx, `DELETE FROM access_overrides WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("override %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *Repository) CreateProviderGroup(ctx context.Context, group *models.ProviderGroup) error {
	return r.WithTx(ctx, func(ctx context.Context, txRepo *Repository) error {
		err := txRepo.queryRow(ctx, `INSERT INTO provider_groups (name) VALUES ($1) RETURNING id`, group.Name).Scan(&group.ID)
		if err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, m := range group.Members {
			batch.Queue(`INSERT INTO provider_group_members (group_id, api_tag, provider_id) VALUES ($1,$2,$3)`,
				group.ID, m.APITag, m.ProviderID)
		}
		return txRepo.execBatch(ctx, batch)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (models.Game, error) {
	var g models.Game
	var category, status string
	var rtp *float64
	err := row.Scan(&g.ID, &g.ProviderID, &g.APITag, &g.Code, &g.Name, &category, &status,
		&g.OperatorVisible, &g.Featured, &g.Priority, &rtp)
	if err != nil {
		return models.Game{}, err
	}
	g.Category = models.Category(category)
	g.AdminStatus = models.VisibilityState(status)
	g.RTP = rtp
	return g, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, models.ErrNotFound)...)
	}
	return err
}

func defaultState(s models.VisibilityState) models.VisibilityState {
	if s.Valid() {
		return s
	}
	return models.StateVisible
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (r *Repository) execBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	var br pgx.BatchResults
	if r.tx != nil {
		br = r.tx.SendBatch(ctx, batch)
	} else {
		br = r.pool.SendBatch(ctx, batch)
	}
	for range batch.QueuedQueries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if r.tx != nil {
		return r.tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

func (r *Repository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if r.tx != nil {
		return r.tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if r.tx != nil {
		return r.tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func normalizePaging(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
