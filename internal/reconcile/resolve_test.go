package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwatch/dropwatch/internal/model"
)

func TestResolvePrefersLiveSignal(t *testing.T) {
	sig := &model.PriceSignal{Value: 84.5, Currency: "USD", Origin: model.OriginMainListing}
	hist := model.PriceBounds{Current: model.Float(90)}

	res := Resolve(sig, "", hist, model.Float(80))

	require.NotNil(t, res.Price)
	assert.Equal(t, 84.5, *res.Price)
	assert.Equal(t, SourceLiveSignal, res.Source)
	assert.True(t, res.Fresh)
	assert.Empty(t, res.Rejections)
}

func TestResolveFallsBackToHistoricalCurrent(t *testing.T) {
	hist := model.PriceBounds{Min: model.Float(50), Max: model.Float(120), Current: model.Float(90)}

	res := Resolve(nil, "currency mismatch", hist, model.Float(80))

	require.NotNil(t, res.Price)
	assert.Equal(t, 90.0, *res.Price)
	assert.Equal(t, SourceHistoricalCurrent, res.Source)
	assert.True(t, res.Fresh)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, SourceLiveSignal, res.Rejections[0].Source)
	assert.Equal(t, "currency mismatch", res.Rejections[0].Reason)
}

func TestResolveCachedPreviousIsNotFresh(t *testing.T) {
	res := Resolve(nil, "", model.PriceBounds{}, model.Float(80))

	require.NotNil(t, res.Price)
	assert.Equal(t, 80.0, *res.Price)
	assert.Equal(t, SourceCachedPrevious, res.Source)
	assert.False(t, res.Fresh)
	assert.Len(t, res.Rejections, 2)
}

func TestResolveMidpointLastResort(t *testing.T) {
	hist := model.PriceBounds{Min: model.Float(50), Max: model.Float(150)}

	res := Resolve(nil, "", hist, nil)

	require.NotNil(t, res.Price)
	assert.Equal(t, 100.0, *res.Price)
	assert.Equal(t, SourceMidpoint, res.Source)
	assert.False(t, res.Fresh)
}

func TestResolveNothingAvailable(t *testing.T) {
	res := Resolve(nil, "", model.PriceBounds{}, nil)

	assert.Nil(t, res.Price)
	assert.Equal(t, SourceNone, res.Source)
	assert.False(t, res.Fresh)
	assert.Len(t, res.Rejections, 4)
}

func TestCorrectBoundsClampsNewOnlyMin(t *testing.T) {
	newOnly := model.PriceBounds{Min: model.Float(40), Max: model.Float(100)}
	all := model.PriceBounds{Min: model.Float(55), Max: model.Float(110)}

	fixed, report := CorrectBounds(newOnly, all)

	assert.True(t, report.MinCorrected)
	require.NotNil(t, report.OldMin)
	assert.Equal(t, 40.0, *report.OldMin)
	require.NotNil(t, fixed.Min)
	assert.Equal(t, 55.0, *fixed.Min)
	// all-conditions side is ground truth and untouched
	assert.Equal(t, 55.0, *all.Min)
}

func TestCorrectBoundsMaxViolationReportedNotFixed(t *testing.T) {
	newOnly := model.PriceBounds{Min: model.Float(60), Max: model.Float(200)}
	all := model.PriceBounds{Min: model.Float(55), Max: model.Float(150)}

	fixed, report := CorrectBounds(newOnly, all)

	assert.False(t, report.MinCorrected)
	assert.True(t, report.MaxViolation)
	require.NotNil(t, fixed.Max)
	assert.Equal(t, 200.0, *fixed.Max)
}

func TestCorrectBoundsConsistentDataUntouched(t *testing.T) {
	newOnly := model.PriceBounds{Min: model.Float(60), Max: model.Float(100)}
	all := model.PriceBounds{Min: model.Float(55), Max: model.Float(110)}

	fixed, report := CorrectBounds(newOnly, all)

	assert.False(t, report.Anomalous())
	assert.Equal(t, newOnly, fixed)
}

func TestCorrectBoundsMissingSidesSkipped(t *testing.T) {
	_, report := CorrectBounds(model.PriceBounds{}, model.PriceBounds{Min: model.Float(55)})
	assert.False(t, report.Anomalous())

	_, report = CorrectBounds(model.PriceBounds{Min: model.Float(40)}, model.PriceBounds{})
	assert.False(t, report.Anomalous())
}
