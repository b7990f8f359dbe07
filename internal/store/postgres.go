package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dropwatch/dropwatch/internal/db"
	"github.com/dropwatch/dropwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. Refresh
// passes hit these once per item, so preparation pays for itself quickly.
var preparedStatements = map[string]string{
	"save_refresh": `UPDATE items SET
		new_min = $1, new_max = $2, new_current = $3,
		all_min = $4, all_max = $5, all_current = $6,
		active_price = $7, active_min = $8, active_max = $9,
		availability = $10, updated_at = $11
	 WHERE id = $12`,
	"save_active":        `UPDATE items SET mode = $1, active_price = $2, active_min = $3, active_max = $4, updated_at = $5 WHERE id = $6`,
	"save_last_notified": `UPDATE items SET last_notified_price = $1, updated_at = $2 WHERE id = $3`,
	"get_item":           `SELECT ` + itemColumns + ` FROM items WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Tests inject pgxmock here.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id             TEXT NOT NULL,
	product_id          TEXT NOT NULL,
	domain              TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	mode                TEXT NOT NULL DEFAULT 'new_only',
	new_min             DOUBLE PRECISION,
	new_max             DOUBLE PRECISION,
	new_current         DOUBLE PRECISION,
	all_min             DOUBLE PRECISION,
	all_max             DOUBLE PRECISION,
	all_current         DOUBLE PRECISION,
	active_price        DOUBLE PRECISION,
	active_min          DOUBLE PRECISION,
	active_max          DOUBLE PRECISION,
	availability        TEXT NOT NULL DEFAULT 'unknown',
	last_notified_price DOUBLE PRECISION,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, product_id, domain)
);

CREATE TABLE IF NOT EXISTS price_history (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	item_id     TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	price       DOUBLE PRECISION NOT NULL,
	source      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	item_id        TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	old_price      DOUBLE PRECISION NOT NULL,
	new_price      DOUBLE PRECISION NOT NULL,
	historical_low BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_domain ON items(domain);
CREATE INDEX IF NOT EXISTS idx_items_user ON items(user_id);
CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history(item_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_item ON notifications(item_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateItem(ctx context.Context, item *model.TrackedItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Mode == "" {
		item.Mode = model.ModeNewOnly
	}
	if item.Availability == "" {
		item.Availability = model.AvailabilityUnknown
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	newB := item.BoundsFor(model.ModeNewOnly)
	allB := item.BoundsFor(model.ModeAllConditions)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		item.ID, item.UserID, item.Product.ID, item.Product.Domain, item.Title, string(item.Mode),
		newB.Min, newB.Max, newB.Current, allB.Min, allB.Max, allB.Current,
		item.ActivePrice, item.ActiveMin, item.ActiveMax, string(item.Availability), item.LastNotifiedPrice,
		now, now,
	)
	return eris.Wrapf(err, "postgres: insert item %s", item.Product.ID)
}

func (s *PostgresStore) GetItem(ctx context.Context, itemID string) (*model.TrackedItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, itemID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "%s", itemID)
		}
		return nil, eris.Wrapf(err, "postgres: get item %s", itemID)
	}
	return item, nil
}

func (s *PostgresStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.TrackedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Domain != "" {
		query += fmt.Sprintf(` AND domain = $%d`, argIdx)
		args = append(args, filter.Domain)
		argIdx++
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) DeleteItem(ctx context.Context, itemID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, itemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", itemID)
	}
	return nil
}

func (s *PostgresStore) ImportItems(ctx context.Context, items []model.TrackedItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		mode := item.Mode
		if mode == "" {
			mode = model.ModeNewOnly
		}
		rows = append(rows, []any{
			id, item.UserID, item.Product.ID, item.Product.Domain, item.Title,
			string(mode), string(model.AvailabilityUnknown), now, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "items",
		Columns:      []string{"id", "user_id", "product_id", "domain", "title", "mode", "availability", "created_at", "updated_at"},
		ConflictKeys: []string{"user_id", "product_id", "domain"},
		UpdateCols:   []string{"title", "mode", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import items")
}

func (s *PostgresStore) SaveRefresh(ctx context.Context, item *model.TrackedItem) error {
	newB := item.BoundsFor(model.ModeNewOnly)
	allB := item.BoundsFor(model.ModeAllConditions)

	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET
		   new_min = $1, new_max = $2, new_current = $3,
		   all_min = $4, all_max = $5, all_current = $6,
		   active_price = $7, active_min = $8, active_max = $9,
		   availability = $10, updated_at = $11
		 WHERE id = $12`,
		newB.Min, newB.Max, newB.Current,
		allB.Min, allB.Max, allB.Current,
		item.ActivePrice, item.ActiveMin, item.ActiveMax,
		string(item.Availability), time.Now().UTC(), item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save refresh %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", item.ID)
	}
	return nil
}

func (s *PostgresStore) SaveActive(ctx context.Context, itemID string, mode model.ConditionMode, price, min, max *float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET mode = $1, active_price = $2, active_min = $3, active_max = $4, updated_at = $5 WHERE id = $6`,
		string(mode), price, min, max, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save active %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", itemID)
	}
	return nil
}

func (s *PostgresStore) SaveAvailability(ctx context.Context, itemID string, availability model.Availability) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET availability = $1, updated_at = $2 WHERE id = $3`,
		string(availability), time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save availability %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", itemID)
	}
	return nil
}

func (s *PostgresStore) SaveLastNotified(ctx context.Context, itemID string, price float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET last_notified_price = $1, updated_at = $2 WHERE id = $3`,
		price, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save last notified %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", itemID)
	}
	return nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, observations []PriceObservation) (int64, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(observations))
	for _, obs := range observations {
		rows = append(rows, []any{
			uuid.New().String(), obs.ItemID, obs.Price, obs.Source, obs.ObservedAt.UTC(),
		})
	}

	n, err := db.CopyFrom(ctx, s.pool, "price_history",
		[]string{"id", "item_id", "price", "source", "observed_at"}, rows)
	return n, eris.Wrap(err, "postgres: append history")
}

func (s *PostgresStore) ListHistory(ctx context.Context, itemID string, limit int) ([]PriceObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, price, source, observed_at FROM price_history
		 WHERE item_id = $1 ORDER BY observed_at DESC LIMIT $2`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list history %s", itemID)
	}
	defer rows.Close()

	var observations []PriceObservation
	for rows.Next() {
		var obs PriceObservation
		if err := rows.Scan(&obs.ItemID, &obs.Price, &obs.Source, &obs.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan history row")
		}
		observations = append(observations, obs)
	}
	return observations, eris.Wrap(rows.Err(), "postgres: list history iterate")
}

func (s *PostgresStore) RecordNotification(ctx context.Context, event model.NotificationEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, item_id, user_id, old_price, new_price, historical_low, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.ItemID, event.UserID, event.OldPrice, event.NewPrice,
		event.HistoricalLow, event.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: record notification %s", event.ItemID)
}
