// Package store persists tracked items, the dual-mode bounds cache, and the
// price history behind a single interface with SQLite and PostgreSQL drivers.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dropwatch/dropwatch/internal/model"
)

// ItemFilter specifies criteria for listing tracked items.
type ItemFilter struct {
	UserID string `json:"user_id,omitempty"`
	Domain string `json:"domain,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// PriceObservation is one appended history row. Only fresh prices (a live
// signal or a historical current) are recorded; stale fallbacks never enter
// the history.
type PriceObservation struct {
	ItemID     string    `json:"item_id"`
	Price      float64   `json:"price"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
}

// ErrNotFound marks lookups and writes that matched no item.
var ErrNotFound = eris.New("store: item not found")

// Store defines the persistence interface for the tracking engine.
type Store interface {
	// Items
	CreateItem(ctx context.Context, item *model.TrackedItem) error
	GetItem(ctx context.Context, itemID string) (*model.TrackedItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.TrackedItem, error)
	DeleteItem(ctx context.Context, itemID string) error
	ImportItems(ctx context.Context, items []model.TrackedItem) (int64, error)

	// Refresh state. SaveRefresh writes both bound sets, the recomputed
	// active fields, and availability in one statement so a crashed pass
	// can never leave an item with bounds from one pass and actives from
	// another.
	SaveRefresh(ctx context.Context, item *model.TrackedItem) error
	SaveActive(ctx context.Context, itemID string, mode model.ConditionMode, price, min, max *float64) error
	SaveAvailability(ctx context.Context, itemID string, availability model.Availability) error
	SaveLastNotified(ctx context.Context, itemID string, price float64) error

	// History and audit
	AppendHistory(ctx context.Context, observations []PriceObservation) (int64, error)
	ListHistory(ctx context.Context, itemID string, limit int) ([]PriceObservation, error)
	RecordNotification(ctx context.Context, event model.NotificationEvent) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
