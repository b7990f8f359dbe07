package reconcile

import "github.com/dropwatch/dropwatch/internal/model"

// PriceSource names where a resolved price came from. Sources are ordered by
// trust: a validated live signal beats everything, the historical current
// price beats cached state, and the midpoint guess is a last resort so the
// display is never blank when any data exists.
type PriceSource string

const (
	SourceLiveSignal        PriceSource = "live_signal"
	SourceHistoricalCurrent PriceSource = "historical_current"
	SourceCachedPrevious    PriceSource = "cached_previous"
	SourceMidpoint          PriceSource = "midpoint"
	SourceNone              PriceSource = "none"
)

// Rejection explains why a higher-precedence source was skipped.
type Rejection struct {
	Source PriceSource `json:"source"`
	Reason string      `json:"reason"`
}

// Resolution is the outcome of one precedence walk. Fresh is true only for
// the first two sources; stale fallbacks keep the display populated but must
// never drive notifications or be mistaken for a new observation.
type Resolution struct {
	Price      *float64    `json:"price,omitempty"`
	Source     PriceSource `json:"source"`
	Fresh      bool        `json:"fresh"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Resolve walks the precedence chain for one item. The live signal, when
// present, has already passed extraction and currency validation; callers
// that rejected it pass nil with the reason in liveReason. Historical bounds
// are the active-mode set from the same pass, and cachedPrevious is the last
// active price the cache holds.
func Resolve(live *model.PriceSignal, liveReason string, historical model.PriceBounds, cachedPrevious *float64) Resolution {
	var res Resolution

	if live != nil {
		v := live.Value
		res.Price = &v
		res.Source = SourceLiveSignal
		res.Fresh = true
		return res
	}
	if liveReason == "" {
		liveReason = "no signal"
	}
	res.Rejections = append(res.Rejections, Rejection{Source: SourceLiveSignal, Reason: liveReason})

	if historical.Current != nil {
		res.Price = historical.Current
		res.Source = SourceHistoricalCurrent
		res.Fresh = true
		return res
	}
	res.Rejections = append(res.Rejections, Rejection{Source: SourceHistoricalCurrent, Reason: "no current price in history"})

	if cachedPrevious != nil {
		res.Price = cachedPrevious
		res.Source = SourceCachedPrevious
		return res
	}
	res.Rejections = append(res.Rejections, Rejection{Source: SourceCachedPrevious, Reason: "no cached price"})

	if mid, ok := historical.Midpoint(); ok {
		res.Price = &mid
		res.Source = SourceMidpoint
		return res
	}
	res.Rejections = append(res.Rejections, Rejection{Source: SourceMidpoint, Reason: "bounds incomplete"})

	res.Source = SourceNone
	return res
}
