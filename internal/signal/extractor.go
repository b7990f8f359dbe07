package signal

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dropwatch/dropwatch/internal/model"
)

// ErrNoSignal is returned when no observation qualifies as the product price.
var ErrNoSignal = eris.New("signal: no qualifying price observation")

const (
	// clusterWidth is the maximum relative gap between neighbouring values
	// inside one price band.
	clusterWidth = 0.20
	// bundleFactor marks values above this multiple of the band minimum as
	// bundle listings.
	bundleFactor = 2.0
	// defaultSanityFloor discards sub-unit noise (warranty add-ons, digital
	// extras) before clustering.
	defaultSanityFloor = 1.0
)

// Extractor reduces a page's observations to at most one PriceSignal.
type Extractor struct {
	sanityFloor float64
}

// NewExtractor returns an extractor with the default sanity floor.
func NewExtractor() *Extractor {
	return &Extractor{sanityFloor: defaultSanityFloor}
}

// WithSanityFloor overrides the minimum plausible price. Values at or below
// the floor never enter the candidate pool.
func (e *Extractor) WithSanityFloor(floor float64) *Extractor {
	e.sanityFloor = floor
	return e
}

// Extract picks the page's best-effort minimum legitimate price.
//
// Observations from accessory/bundle zones are excluded structurally. Main
// listing and other-seller candidates are merged into one pool, since a third
// party can undercut the featured offer. The pool is then clustered: values
// within 20% of a neighbour form a band, the band anchored on the featured
// offer (or the pool's upper median when the page had no featured price) is
// the legitimate one, and isolated values far below (accessories) or above
// twice the band minimum (bundles) are discarded. The canonical price is the
// minimum survivor, ties preferring the main-listing origin.
func (e *Extractor) Extract(product model.Product, snap model.PageSnapshot) (model.PriceSignal, error) {
	pool := e.pool(snap.Observations)
	if len(pool) == 0 {
		return model.PriceSignal{}, ErrNoSignal
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].Value < pool[j].Value })

	anchor, anchored := e.anchor(pool)
	band := clusterAround(pool, anchor)

	if len(band) == 1 && len(pool) > 1 && !anchored {
		// Every candidate is isolated from every other: no band to trust.
		// Degrade to the single lowest value rather than dropping the page.
		zap.L().Warn("signal: ambiguous page, no legitimate price band",
			zap.String("product", product.ID),
			zap.String("domain", product.Domain),
			zap.Int("candidates", len(pool)),
			zap.Float64("fallback", pool[0].Value),
		)
		return toSignal(pool[0]), nil
	}

	// Inside the band, drop bundle-priced stragglers relative to the band
	// minimum. The band minimum itself always survives.
	bandMin := band[0]
	best := bandMin
	for _, obs := range band {
		if obs.Value > bandMin.Value*bundleFactor {
			continue
		}
		if obs.Value < best.Value {
			best = obs
			continue
		}
		// Tie: the featured offer wins over a third-party duplicate.
		if obs.Value == best.Value && obs.Origin == model.OriginMainListing && best.Origin != model.OriginMainListing {
			best = obs
		}
	}

	if dropped := len(pool) - len(band); dropped > 0 {
		zap.L().Debug("signal: discarded outlier observations",
			zap.String("product", product.ID),
			zap.Int("dropped", dropped),
			zap.Float64("canonical", best.Value),
		)
	}

	return toSignal(best), nil
}

// pool keeps main-listing and other-seller observations above the sanity
// floor. Accessory-zone observations never qualify regardless of value.
func (e *Extractor) pool(observations []model.Observation) []model.Observation {
	out := make([]model.Observation, 0, len(observations))
	for _, obs := range observations {
		if obs.Origin == model.OriginAccessory {
			continue
		}
		if obs.Value <= e.sanityFloor {
			continue
		}
		out = append(out, obs)
	}
	return out
}

// anchor picks the observation the legitimate band must contain: the cheapest
// featured-offer value when the page had one, otherwise the pool's upper
// median. Reports whether a featured offer anchored the choice.
func (e *Extractor) anchor(sorted []model.Observation) (model.Observation, bool) {
	for _, obs := range sorted {
		if obs.Origin == model.OriginMainListing {
			return obs, true
		}
	}
	return sorted[len(sorted)/2], false
}

// clusterAround chains sorted values whose neighbour gap stays within
// clusterWidth and returns the chain containing the anchor.
func clusterAround(sorted []model.Observation, anchor model.Observation) []model.Observation {
	start, end := 0, 0
	for i := range sorted {
		if i > 0 && sorted[i].Value > sorted[i-1].Value*(1+clusterWidth) {
			start = i
		}
		if sorted[i] == anchor {
			end = i
			// Extend forward through the rest of the chain.
			for j := i + 1; j < len(sorted); j++ {
				if sorted[j].Value > sorted[j-1].Value*(1+clusterWidth) {
					break
				}
				end = j
			}
			return sorted[start : end+1]
		}
	}
	return sorted
}

func toSignal(obs model.Observation) model.PriceSignal {
	return model.PriceSignal{Value: obs.Value, Currency: obs.Currency, Origin: obs.Origin}
}
