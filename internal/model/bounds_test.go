package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceBounds_Midpoint(t *testing.T) {
	b := PriceBounds{Min: Float(100), Max: Float(150)}
	mid, ok := b.Midpoint()
	assert.True(t, ok)
	assert.InDelta(t, 125.0, mid, 0.001)

	_, ok = PriceBounds{Min: Float(100)}.Midpoint()
	assert.False(t, ok)

	_, ok = PriceBounds{}.Midpoint()
	assert.False(t, ok)
}

func TestPriceBounds_Merge(t *testing.T) {
	a := PriceBounds{Min: Float(10), Current: Float(12)}
	b := PriceBounds{Min: Float(8), Max: Float(20), Current: Float(15)}

	merged := a.Merge(b)
	assert.Equal(t, 10.0, *merged.Min) // known field wins
	assert.Equal(t, 20.0, *merged.Max) // filled from other
	assert.Equal(t, 12.0, *merged.Current)
}

func TestPriceBounds_Empty(t *testing.T) {
	assert.True(t, PriceBounds{}.Empty())
	assert.False(t, PriceBounds{Max: Float(1)}.Empty())
}

func TestConditionMode_Other(t *testing.T) {
	assert.Equal(t, ModeAllConditions, ModeNewOnly.Other())
	assert.Equal(t, ModeNewOnly, ModeAllConditions.Other())
}

func TestTrackedItem_SetBounds(t *testing.T) {
	item := &TrackedItem{}
	assert.True(t, item.BoundsFor(ModeNewOnly).Empty())

	item.SetBounds(ModeNewOnly, PriceBounds{Min: Float(5)})
	assert.Equal(t, 5.0, *item.BoundsFor(ModeNewOnly).Min)
	assert.True(t, item.BoundsFor(ModeAllConditions).Empty())
}
