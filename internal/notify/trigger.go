// Package notify decides when a reconciled price is worth telling the user
// about, and delivers the resulting events.
package notify

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dropwatch/dropwatch/internal/model"
)

// Notifier delivers events to the user-facing channel.
type Notifier interface {
	Deliver(ctx context.Context, event model.NotificationEvent) error
}

// Config holds the drop thresholds. A notification fires when the drop from
// the last notified price exceeds the absolute threshold or the relative
// fraction of that baseline; either alone is enough.
type Config struct {
	AbsoluteDrop float64 `yaml:"absolute_drop" mapstructure:"absolute_drop"`
	RelativeDrop float64 `yaml:"relative_drop" mapstructure:"relative_drop"`
}

// DefaultConfig mirrors the long-standing defaults: a full currency unit or
// five percent off the baseline.
func DefaultConfig() Config {
	return Config{AbsoluteDrop: 1.0, RelativeDrop: 0.05}
}

// historicalLowTolerance absorbs float jitter when comparing a price against
// the recorded minimum.
const historicalLowTolerance = 0.01

// Trigger evaluates fresh prices against the notification rule.
type Trigger struct {
	cfg Config
	now func() time.Time
}

func NewTrigger(cfg Config) *Trigger {
	if cfg.AbsoluteDrop <= 0 && cfg.RelativeDrop <= 0 {
		cfg = DefaultConfig()
	}
	return &Trigger{cfg: cfg, now: time.Now}
}

// Outcome reports what Evaluate decided for one item.
type Outcome struct {
	// Event is non-nil when a notification should be emitted.
	Event *model.NotificationEvent
	// Baseline is non-nil when last_notified_price must be updated: on
	// every emission, and on the first ever observation, which seeds the
	// baseline silently so the next drop has something to compare against.
	Baseline *float64
	// Seeded marks a silent first-observation baseline.
	Seeded bool
}

// Evaluate applies the notification rule to a reconciled price. Only fresh
// prices reach here with fresh=true; stale fallbacks update the display but
// can never notify. An unavailable item is also silenced: its price is still
// recorded, but a drop on a listing nobody can buy is noise.
func (t *Trigger) Evaluate(item *model.TrackedItem, currencyCode string, value float64, fresh bool) Outcome {
	if !fresh {
		return Outcome{}
	}
	if item.Availability == model.AvailabilityUnavailable {
		return Outcome{}
	}
	if item.LastNotifiedPrice == nil {
		v := value
		return Outcome{Baseline: &v, Seeded: true}
	}

	last := *item.LastNotifiedPrice
	drop := last - value
	if drop <= t.cfg.AbsoluteDrop && drop <= t.cfg.RelativeDrop*last {
		return Outcome{}
	}

	v := value
	event := &model.NotificationEvent{
		ID:            uuid.New().String(),
		ItemID:        item.ID,
		UserID:        item.UserID,
		Product:       item.Product,
		Title:         item.Title,
		Currency:      currencyCode,
		OldPrice:      last,
		NewPrice:      value,
		Bounds:        item.BoundsFor(item.Mode),
		HistoricalLow: isHistoricalLow(value, item.ActiveMin),
		Timestamp:     t.now().UTC(),
	}
	return Outcome{Event: event, Baseline: &v}
}

func isHistoricalLow(value float64, min *float64) bool {
	if min == nil {
		return false
	}
	return math.Abs(value-*min) < historicalLowTolerance
}
