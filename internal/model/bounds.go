package model

// PriceBounds holds the historical minimum, maximum, and current price for one
// condition mode. Absent fields mean "unknown", never zero.
//
// Cross-mode invariant: when both minima are known, the all-conditions minimum
// is never above the new-only minimum (used offers can only pull the floor
// down). The anomaly corrector enforces this.
type PriceBounds struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Current *float64 `json:"current,omitempty"`
}

// Empty reports whether no field is known.
func (b PriceBounds) Empty() bool {
	return b.Min == nil && b.Max == nil && b.Current == nil
}

// Midpoint returns (min+max)/2 when both bounds are known.
func (b PriceBounds) Midpoint() (float64, bool) {
	if b.Min == nil || b.Max == nil {
		return 0, false
	}
	return (*b.Min + *b.Max) / 2, true
}

// Merge fills each unknown field of b from other, returning the result.
// Known fields of b always win.
func (b PriceBounds) Merge(other PriceBounds) PriceBounds {
	out := b
	if out.Min == nil {
		out.Min = other.Min
	}
	if out.Max == nil {
		out.Max = other.Max
	}
	if out.Current == nil {
		out.Current = other.Current
	}
	return out
}

// Float returns a pointer to v. Convenience for building bounds literals.
func Float(v float64) *float64 { return &v }
