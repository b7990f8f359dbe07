package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dropwatch/dropwatch/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	product_id          TEXT NOT NULL,
	domain              TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	mode                TEXT NOT NULL DEFAULT 'new_only',
	new_min             REAL,
	new_max             REAL,
	new_current         REAL,
	all_min             REAL,
	all_max             REAL,
	all_current         REAL,
	active_price        REAL,
	active_min          REAL,
	active_max          REAL,
	availability        TEXT NOT NULL DEFAULT 'unknown',
	last_notified_price REAL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS price_history (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	price       REAL NOT NULL,
	source      TEXT NOT NULL,
	observed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id             TEXT PRIMARY KEY,
	item_id        TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
	user_id        TEXT NOT NULL,
	old_price      REAL NOT NULL,
	new_price      REAL NOT NULL,
	historical_low INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_user_product ON items(user_id, product_id, domain);
CREATE INDEX IF NOT EXISTS idx_items_domain ON items(domain);
CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history(item_id, observed_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_item ON notifications(item_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const itemColumns = `id, user_id, product_id, domain, title, mode,
	new_min, new_max, new_current, all_min, all_max, all_current,
	active_price, active_min, active_max, availability, last_notified_price,
	created_at, updated_at`

func (s *SQLiteStore) CreateItem(ctx context.Context, item *model.TrackedItem) error {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.Product.ID, item.Product.Domain, item.Title, string(item.Mode),
		newB.Min, newB.Max, newB.Current, allB.Min, allB.Max, allB.Current,
		item.ActivePrice, item.ActiveMin, item.ActiveMax, string(item.Availability), item.LastNotifiedPrice,
		now, now,
	)
	return eris.Wrapf(err, "sqlite: insert item %s", item.Product.ID)
}

func (s *SQLiteStore) GetItem(ctx context.Context, itemID string) (*model.TrackedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "%s", itemID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get item %s", itemID)
	}
	return item, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, filter ItemFilter) ([]model.TrackedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.TrackedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, itemID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete item %s", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) ImportItems(ctx context.Context, items []model.TrackedItem) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		mode := item.Mode
		if mode == "" {
			mode = model.ModeNewOnly
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO items (id, user_id, product_id, domain, title, mode, availability, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(user_id, product_id, domain) DO UPDATE SET
			   title = excluded.title, mode = excluded.mode, updated_at = excluded.updated_at`,
			id, item.UserID, item.Product.ID, item.Product.Domain, item.Title,
			string(mode), string(model.AvailabilityUnknown), now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import item %s", item.Product.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import commit")
	}
	return n, nil
}

func (s *SQLiteStore) SaveRefresh(ctx context.Context, item *model.TrackedItem) error {
	newB := item.BoundsFor(model.ModeNewOnly)
	allB := item.BoundsFor(model.ModeAllConditions)

	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET
		   new_min = ?, new_max = ?, new_current = ?,
		   all_min = ?, all_max = ?, all_current = ?,
		   active_price = ?, active_min = ?, active_max = ?,
		   availability = ?, updated_at = ?
		 WHERE id = ?`,
		newB.Min, newB.Max, newB.Current,
		allB.Min, allB.Max, allB.Current,
		item.ActivePrice, item.ActiveMin, item.ActiveMax,
		string(item.Availability), time.Now().UTC(), item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save refresh %s", item.ID)
	}
	return checkRowsAffected(res, "item", item.ID)
}

func (s *SQLiteStore) SaveActive(ctx context.Context, itemID string, mode model.ConditionMode, price, min, max *float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET mode = ?, active_price = ?, active_min = ?, active_max = ?, updated_at = ? WHERE id = ?`,
		string(mode), price, min, max, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save active %s", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) SaveAvailability(ctx context.Context, itemID string, availability model.Availability) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET availability = ?, updated_at = ? WHERE id = ?`,
		string(availability), time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save availability %s", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) SaveLastNotified(ctx context.Context, itemID string, price float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET last_notified_price = ?, updated_at = ? WHERE id = ?`,
		price, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save last notified %s", itemID)
	}
	return checkRowsAffected(res, "item", itemID)
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, observations []PriceObservation) (int64, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: history begin tx")
	}
	defer tx.Rollback()

	for _, obs := range observations {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO price_history (id, item_id, price, source, observed_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), obs.ItemID, obs.Price, obs.Source, obs.ObservedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: append history %s", obs.ItemID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: history commit")
	}
	return int64(len(observations)), nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, itemID string, limit int) ([]PriceObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, price, source, observed_at FROM price_history
		 WHERE item_id = ? ORDER BY observed_at DESC LIMIT ?`,
		itemID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list history %s", itemID)
	}
	defer rows.Close()

	var observations []PriceObservation
	for rows.Next() {
		var obs PriceObservation
		if err := rows.Scan(&obs.ItemID, &obs.Price, &obs.Source, &obs.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history row")
		}
		observations = append(observations, obs)
	}
	return observations, eris.Wrap(rows.Err(), "sqlite: list history iterate")
}

func (s *SQLiteStore) RecordNotification(ctx context.Context, event model.NotificationEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, item_id, user_id, old_price, new_price, historical_low, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ItemID, event.UserID, event.OldPrice, event.NewPrice,
		boolToInt(event.HistoricalLow), event.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record notification %s", event.ItemID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.TrackedItem, error) {
	var item model.TrackedItem
	var mode, availability string
	var newB, allB model.PriceBounds

	err := row.Scan(
		&item.ID, &item.UserID, &item.Product.ID, &item.Product.Domain, &item.Title, &mode,
		&newB.Min, &newB.Max, &newB.Current, &allB.Min, &allB.Max, &allB.Current,
		&item.ActivePrice, &item.ActiveMin, &item.ActiveMax, &availability, &item.LastNotifiedPrice,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Mode = model.ConditionMode(mode)
	item.Availability = model.Availability(availability)
	item.SetBounds(model.ModeNewOnly, newB)
	item.SetBounds(model.ModeAllConditions, allB)
	return &item, nil
}
