// Package cache maintains the dual-mode price view for every tracked item.
// Both condition modes are kept warm on each refresh, which is what makes a
// mode toggle a pure local projection instead of another round of upstream
// calls.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/store"
)

// Cache mediates all mutations of an item's cached price state. Refresh
// updates and mode toggles on the same item serialize on a per-item lock so
// a toggle can never observe half-written bounds.
type Cache struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(st store.Store) *Cache {
	return &Cache{store: st, locks: make(map[string]*sync.Mutex)}
}

// lockItem returns the mutex for one item, creating it on first use. The map
// is bounded by the number of tracked items.
func (c *Cache) lockItem(itemID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[itemID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[itemID] = l
	}
	return l
}

// ProjectActive computes the active price fields for a mode purely from the
// cached bound sets. Fields missing in the selected mode fall back to the
// other mode, and the min/max are widened to include the current price when
// the stored bounds have drifted behind it. Deterministic: toggling a mode
// twice reproduces the original fields exactly.
func ProjectActive(bounds map[model.ConditionMode]model.PriceBounds, mode model.ConditionMode) (price, min, max *float64) {
	merged := bounds[mode].Merge(bounds[mode.Other()])

	price = merged.Current
	min = merged.Min
	max = merged.Max

	if price != nil {
		if min == nil || *price < *min {
			min = price
		}
		if max == nil || *price > *max {
			max = price
		}
	}
	return price, min, max
}

// midpoint is the display of last resort: with only a floor and a ceiling
// known, their middle keeps the view populated.
func midpoint(min, max *float64) *float64 {
	if min == nil || max == nil {
		return nil
	}
	mid := (*min + *max) / 2
	return &mid
}

// Update folds one refresh pass into the item: both bound sets are merged
// over the existing cache (an upstream gap never erases known data), the
// reconciled price becomes the current price of the active mode when fresh,
// and the active fields are reprojected. A stale reconciled price (a cached
// echo or a midpoint guess) never enters the bounds but still populates the
// display when the projection has nothing better. The whole result is
// persisted in one statement.
func (c *Cache) Update(ctx context.Context, item *model.TrackedItem, newOnly, allConditions model.PriceBounds, resolved *float64, fresh bool, availability model.Availability) error {
	l := c.lockItem(item.ID)
	l.Lock()
	defer l.Unlock()

	item.SetBounds(model.ModeNewOnly, newOnly.Merge(item.BoundsFor(model.ModeNewOnly)))
	item.SetBounds(model.ModeAllConditions, allConditions.Merge(item.BoundsFor(model.ModeAllConditions)))

	if fresh && resolved != nil {
		active := item.BoundsFor(item.Mode)
		active.Current = resolved
		item.SetBounds(item.Mode, active)
	}

	price, min, max := ProjectActive(item.Bounds, item.Mode)
	if price == nil {
		price = resolved
	}
	if price == nil {
		// No usable price anywhere: hold the last known active price
		// rather than blanking the display.
		price = item.ActivePrice
	}
	if price == nil {
		price = midpoint(min, max)
	}
	item.ActivePrice = price
	item.ActiveMin = min
	item.ActiveMax = max

	if availability != "" {
		item.Availability = availability
	}
	item.UpdatedAt = time.Now().UTC()

	return eris.Wrapf(c.store.SaveRefresh(ctx, item), "cache: update %s", item.ID)
}

// Toggle flips the item's condition mode and reprojects the active fields
// from the cached bounds alone. No upstream lookup happens here; the other
// mode's data is already warm from the last refresh.
func (c *Cache) Toggle(ctx context.Context, itemID string) (*model.TrackedItem, error) {
	l := c.lockItem(itemID)
	l.Lock()
	defer l.Unlock()

	item, err := c.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "cache: toggle %s", itemID)
	}

	item.Mode = item.Mode.Other()

	price, min, max := ProjectActive(item.Bounds, item.Mode)
	if price == nil {
		price = item.ActivePrice
	}
	if price == nil {
		price = midpoint(min, max)
	}
	item.ActivePrice = price
	item.ActiveMin = min
	item.ActiveMax = max
	item.UpdatedAt = time.Now().UTC()

	if err := c.store.SaveActive(ctx, itemID, item.Mode, price, min, max); err != nil {
		return nil, eris.Wrapf(err, "cache: toggle save %s", itemID)
	}
	return item, nil
}
