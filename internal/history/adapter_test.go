package history

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwatch/dropwatch/internal/model"
)

// mockSource implements Source for testing.
type mockSource struct {
	stats   map[string]RawStats
	err     error
	calls   int
	lastIDs []string
}

func (m *mockSource) Stats(_ context.Context, ids []string, _ string, _ model.ConditionMode) (map[string]RawStats, error) {
	m.calls++
	m.lastIDs = ids
	if m.err != nil {
		return nil, m.err
	}
	return m.stats, nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  RawStats
		want model.PriceBounds
	}{
		{
			name: "all known",
			raw:  RawStats{MinCents: 8499, MaxCents: 12999, CurrentCents: 10999},
			want: model.PriceBounds{Min: model.Float(84.99), Max: model.Float(129.99), Current: model.Float(109.99)},
		},
		{
			name: "sentinel min, current backfills",
			raw:  RawStats{MinCents: -1, MaxCents: 12999, CurrentCents: 10999},
			want: model.PriceBounds{Min: model.Float(109.99), Max: model.Float(129.99), Current: model.Float(109.99)},
		},
		{
			name: "no data at all",
			raw:  RawStats{MinCents: -1, MaxCents: 0, CurrentCents: -1},
			want: model.PriceBounds{},
		},
		{
			name: "min known, current absent",
			raw:  RawStats{MinCents: 8499, MaxCents: -1, CurrentCents: 0},
			want: model.PriceBounds{Min: model.Float(84.99)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdapter_Bounds(t *testing.T) {
	src := &mockSource{stats: map[string]RawStats{
		"A1": {MinCents: 5000, MaxCents: 9000, CurrentCents: 7000},
	}}
	a := NewAdapter(src, Options{})

	bounds, err := a.Bounds(context.Background(), []string{"A1", "A2"}, "amazon.com", model.ModeNewOnly)
	require.NoError(t, err)

	assert.Equal(t, 50.0, *bounds["A1"].Min)
	assert.Equal(t, 70.0, *bounds["A1"].Current)
	// Unknown id maps to empty bounds, never zero.
	assert.True(t, bounds["A2"].Empty())
}

func TestAdapter_Bounds_UpstreamFailure(t *testing.T) {
	src := &mockSource{err: eris.New("upstream timeout")}
	a := NewAdapter(src, Options{})

	bounds, err := a.Bounds(context.Background(), []string{"A1", "A2"}, "amazon.com", model.ModeAllConditions)
	require.Error(t, err)

	// Every id still resolves to fully unknown bounds.
	assert.Len(t, bounds, 2)
	assert.True(t, bounds["A1"].Empty())
	assert.True(t, bounds["A2"].Empty())
}

func TestAdapter_Bounds_ChunksLargeBatches(t *testing.T) {
	src := &mockSource{stats: map[string]RawStats{}}
	a := NewAdapter(src, Options{BatchSize: 2})

	ids := []string{"A1", "A2", "A3", "A4", "A5"}
	_, err := a.Bounds(context.Background(), ids, "amazon.de", model.ModeNewOnly)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, []string{"A5"}, src.lastIDs)
}

func TestAdapter_Bounds_CachesResponses(t *testing.T) {
	src := &mockSource{stats: map[string]RawStats{"A1": {MinCents: 100, MaxCents: 200, CurrentCents: 150}}}
	a := NewAdapter(src, Options{CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := a.Bounds(context.Background(), []string{"A1"}, "amazon.com", model.ModeNewOnly)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)

	// Different mode is a different cache entry.
	_, err := a.Bounds(context.Background(), []string{"A1"}, "amazon.com", model.ModeAllConditions)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	// Invalidation forces a refetch.
	a.Invalidate([]string{"A1"}, "amazon.com", model.ModeNewOnly)
	_, err = a.Bounds(context.Background(), []string{"A1"}, "amazon.com", model.ModeNewOnly)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestResponseCache_Expiry(t *testing.T) {
	c := newResponseCache(time.Minute)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.set("k", map[string]RawStats{"A1": {}})
	_, ok := c.get("k")
	assert.True(t, ok)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = c.get("k")
	assert.False(t, ok)
}
