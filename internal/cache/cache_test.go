package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/store"
)

// memStore keeps items in a map; only the methods the cache touches do
// anything interesting.
type memStore struct {
	mu    sync.Mutex
	items map[string]model.TrackedItem
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]model.TrackedItem)}
}

func (m *memStore) put(item model.TrackedItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
}

func (m *memStore) CreateItem(_ context.Context, item *model.TrackedItem) error {
	m.put(*item)
	return nil
}

func (m *memStore) GetItem(_ context.Context, itemID string) (*model.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, assert.AnError
	}
	clone := item
	clone.Bounds = make(map[model.ConditionMode]model.PriceBounds, len(item.Bounds))
	for k, v := range item.Bounds {
		clone.Bounds[k] = v
	}
	return &clone, nil
}

func (m *memStore) ListItems(context.Context, store.ItemFilter) ([]model.TrackedItem, error) {
	return nil, nil
}
func (m *memStore) DeleteItem(context.Context, string) error { return nil }
func (m *memStore) ImportItems(context.Context, []model.TrackedItem) (int64, error) {
	return 0, nil
}

func (m *memStore) SaveRefresh(_ context.Context, item *model.TrackedItem) error {
	m.put(*item)
	return nil
}

func (m *memStore) SaveActive(_ context.Context, itemID string, mode model.ConditionMode, price, min, max *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[itemID]
	item.Mode = mode
	item.ActivePrice = price
	item.ActiveMin = min
	item.ActiveMax = max
	m.items[itemID] = item
	return nil
}

func (m *memStore) SaveAvailability(_ context.Context, itemID string, availability model.Availability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[itemID]
	item.Availability = availability
	m.items[itemID] = item
	return nil
}

func (m *memStore) SaveLastNotified(_ context.Context, itemID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[itemID]
	item.LastNotifiedPrice = &price
	m.items[itemID] = item
	return nil
}

func (m *memStore) AppendHistory(context.Context, []store.PriceObservation) (int64, error) {
	return 0, nil
}
func (m *memStore) ListHistory(context.Context, string, int) ([]store.PriceObservation, error) {
	return nil, nil
}
func (m *memStore) RecordNotification(context.Context, model.NotificationEvent) error { return nil }
func (m *memStore) Migrate(context.Context) error                                     { return nil }
func (m *memStore) Close() error                                                      { return nil }

var _ store.Store = (*memStore)(nil)

func seedItem(st *memStore) *model.TrackedItem {
	item := &model.TrackedItem{
		ID:      "item-1",
		UserID:  "u1",
		Product: model.Product{ID: "B0TEST0001", Domain: "amazon.com"},
		Mode:    model.ModeNewOnly,
	}
	st.put(*item)
	return item
}

func TestProjectActiveCrossModeFallback(t *testing.T) {
	bounds := map[model.ConditionMode]model.PriceBounds{
		model.ModeNewOnly:       {Min: model.Float(55), Max: model.Float(110)},
		model.ModeAllConditions: {Min: model.Float(40), Current: model.Float(61)},
	}

	// new_only lacks a current price; it comes from all_conditions.
	price, min, max := ProjectActive(bounds, model.ModeNewOnly)
	require.NotNil(t, price)
	assert.Equal(t, 61.0, *price)
	assert.Equal(t, 55.0, *min)
	assert.Equal(t, 110.0, *max)

	// all_conditions lacks a max; it comes from new_only.
	price, min, max = ProjectActive(bounds, model.ModeAllConditions)
	assert.Equal(t, 61.0, *price)
	assert.Equal(t, 40.0, *min)
	assert.Equal(t, 110.0, *max)
}

func TestProjectActiveWidensBoundsToCurrent(t *testing.T) {
	bounds := map[model.ConditionMode]model.PriceBounds{
		model.ModeNewOnly: {Min: model.Float(55), Max: model.Float(60), Current: model.Float(84.99)},
	}

	_, min, max := ProjectActive(bounds, model.ModeNewOnly)
	assert.Equal(t, 55.0, *min)
	assert.Equal(t, 84.99, *max)

	bounds[model.ModeNewOnly] = model.PriceBounds{Current: model.Float(10)}
	price, min, max := ProjectActive(bounds, model.ModeNewOnly)
	assert.Equal(t, 10.0, *price)
	assert.Equal(t, 10.0, *min)
	assert.Equal(t, 10.0, *max)
}

func TestUpdateMergesOverExistingBounds(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeNewOnly, model.PriceBounds{Min: model.Float(55), Max: model.Float(110), Current: model.Float(84.99)})
	c := New(st)

	// A pass where the lookup came back empty must not erase known data.
	err := c.Update(context.Background(), item, model.PriceBounds{}, model.PriceBounds{}, nil, false, model.AvailabilityInStock)
	require.NoError(t, err)

	newB := item.BoundsFor(model.ModeNewOnly)
	require.NotNil(t, newB.Min)
	assert.Equal(t, 55.0, *newB.Min)
	require.NotNil(t, item.ActivePrice)
	assert.Equal(t, 84.99, *item.ActivePrice)
	assert.Equal(t, model.AvailabilityInStock, item.Availability)
}

func TestUpdateFreshPriceBecomesActiveModeCurrent(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	c := New(st)

	newB := model.PriceBounds{Min: model.Float(55), Max: model.Float(110), Current: model.Float(84.99)}
	allB := model.PriceBounds{Min: model.Float(40), Max: model.Float(110), Current: model.Float(61)}

	err := c.Update(context.Background(), item, newB, allB, model.Float(79.5), true, "")
	require.NoError(t, err)

	require.NotNil(t, item.ActivePrice)
	assert.Equal(t, 79.5, *item.ActivePrice)
	got := item.BoundsFor(model.ModeNewOnly)
	require.NotNil(t, got.Current)
	assert.Equal(t, 79.5, *got.Current)
	// The inactive mode is untouched by the reconciled price.
	assert.Equal(t, 61.0, *item.BoundsFor(model.ModeAllConditions).Current)
}

func TestUpdateNoDataKeepsLastActivePrice(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.ActivePrice = model.Float(84.99)
	c := New(st)

	err := c.Update(context.Background(), item, model.PriceBounds{}, model.PriceBounds{}, nil, false, "")
	require.NoError(t, err)

	require.NotNil(t, item.ActivePrice)
	assert.Equal(t, 84.99, *item.ActivePrice)
}

func TestUpdateStalePricePopulatesDisplayOnly(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	c := New(st)

	// Bounds with no current price anywhere: the stale resolved value keeps
	// the view populated but must not become a mode's current price.
	newB := model.PriceBounds{Min: model.Float(40), Max: model.Float(55)}
	err := c.Update(context.Background(), item, newB, model.PriceBounds{}, model.Float(47.5), false, "")
	require.NoError(t, err)

	require.NotNil(t, item.ActivePrice)
	assert.Equal(t, 47.5, *item.ActivePrice)
	assert.Nil(t, item.BoundsFor(model.ModeNewOnly).Current)
	assert.Nil(t, item.BoundsFor(model.ModeAllConditions).Current)
	assert.Equal(t, 40.0, *item.ActiveMin)
	assert.Equal(t, 55.0, *item.ActiveMax)
}

func TestUpdateBoundsOnlyFallsBackToMidpoint(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeNewOnly, model.PriceBounds{Min: model.Float(40), Max: model.Float(55)})
	c := New(st)

	// Nothing resolved this pass and no prior price, but the cached bounds
	// are enough to show their middle.
	err := c.Update(context.Background(), item, model.PriceBounds{}, model.PriceBounds{}, nil, false, "")
	require.NoError(t, err)

	require.NotNil(t, item.ActivePrice)
	assert.InDelta(t, 47.5, *item.ActivePrice, 0.001)
}

func TestToggleFlipsModeWithoutUpstreamCalls(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeNewOnly, model.PriceBounds{Min: model.Float(55), Max: model.Float(110), Current: model.Float(84.99)})
	item.SetBounds(model.ModeAllConditions, model.PriceBounds{Min: model.Float(40), Current: model.Float(61)})
	item.ActivePrice = model.Float(84.99)
	item.ActiveMin = model.Float(55)
	item.ActiveMax = model.Float(110)
	st.put(*item)

	c := New(st)

	toggled, err := c.Toggle(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeAllConditions, toggled.Mode)
	assert.Equal(t, 61.0, *toggled.ActivePrice)
	assert.Equal(t, 40.0, *toggled.ActiveMin)
	assert.Equal(t, 110.0, *toggled.ActiveMax)
}

func TestToggleBoundsOnlyFallsBackToMidpoint(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeAllConditions, model.PriceBounds{Min: model.Float(30), Max: model.Float(50)})
	st.put(*item)

	c := New(st)

	toggled, err := c.Toggle(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ModeAllConditions, toggled.Mode)
	require.NotNil(t, toggled.ActivePrice)
	assert.InDelta(t, 40.0, *toggled.ActivePrice, 0.001)
}

func TestToggleTwiceRestoresOriginalView(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeNewOnly, model.PriceBounds{Min: model.Float(55), Max: model.Float(110), Current: model.Float(84.99)})
	item.SetBounds(model.ModeAllConditions, model.PriceBounds{Min: model.Float(40), Current: model.Float(61)})
	item.ActivePrice = model.Float(84.99)
	item.ActiveMin = model.Float(55)
	item.ActiveMax = model.Float(110)
	st.put(*item)

	c := New(st)
	ctx := context.Background()

	_, err := c.Toggle(ctx, item.ID)
	require.NoError(t, err)
	back, err := c.Toggle(ctx, item.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ModeNewOnly, back.Mode)
	assert.Equal(t, 84.99, *back.ActivePrice)
	assert.Equal(t, 55.0, *back.ActiveMin)
	assert.Equal(t, 110.0, *back.ActiveMax)
}

func TestToggleAndUpdateSerialize(t *testing.T) {
	st := newMemStore()
	item := seedItem(st)
	item.SetBounds(model.ModeNewOnly, model.PriceBounds{Current: model.Float(84.99)})
	item.SetBounds(model.ModeAllConditions, model.PriceBounds{Current: model.Float(61)})
	st.put(*item)

	c := New(st)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = c.Toggle(ctx, item.ID)
		}()
		go func() {
			defer wg.Done()
			current, err := st.GetItem(ctx, item.ID)
			if err != nil {
				return
			}
			_ = c.Update(ctx, current, model.PriceBounds{Current: model.Float(84.99)}, model.PriceBounds{Current: model.Float(61)}, nil, false, "")
		}()
	}
	wg.Wait()

	final, err := st.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ActivePrice)
	// Whatever the interleaving, the active price matches the final mode.
	switch final.Mode {
	case model.ModeNewOnly:
		assert.Equal(t, 84.99, *final.ActivePrice)
	case model.ModeAllConditions:
		assert.Equal(t, 61.0, *final.ActivePrice)
	}
}
