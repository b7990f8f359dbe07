package model

import "time"

// ConditionMode selects which offer conditions an item's tracked bounds reflect.
type ConditionMode string

const (
	// ModeNewOnly tracks new-condition offers only.
	ModeNewOnly ConditionMode = "new_only"
	// ModeAllConditions tracks new plus used/refurbished offers.
	ModeAllConditions ConditionMode = "all_conditions"
)

// Modes lists both condition modes in the order the refresh cycle fetches them.
func Modes() []ConditionMode {
	return []ConditionMode{ModeNewOnly, ModeAllConditions}
}

// Other returns the opposite condition mode.
func (m ConditionMode) Other() ConditionMode {
	if m == ModeNewOnly {
		return ModeAllConditions
	}
	return ModeNewOnly
}

// Valid reports whether m is a known condition mode.
func (m ConditionMode) Valid() bool {
	return m == ModeNewOnly || m == ModeAllConditions
}

// Availability is the last observed stock state of a tracked product.
type Availability string

const (
	AvailabilityUnknown     Availability = "unknown"
	AvailabilityInStock     Availability = "in_stock"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilityPreorder    Availability = "preorder"
)

// Product identifies one marketplace listing: an opaque external SKU plus the
// marketplace domain, which determines the expected currency.
type Product struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
}

// TrackedItem is one user's subscription to one product. The pair
// (UserID, Product.ID) is unique per domain.
type TrackedItem struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	Product Product `json:"product"`
	Title   string  `json:"title,omitempty"`

	// Mode is the user-selected condition mode. Bounds for both modes are
	// always cached so toggling needs no fetch.
	Mode   ConditionMode                 `json:"mode"`
	Bounds map[ConditionMode]PriceBounds `json:"bounds"`

	// Active* is the denormalized view of whichever mode is selected,
	// recomputed on every refresh and every toggle.
	ActivePrice *float64 `json:"active_price,omitempty"`
	ActiveMin   *float64 `json:"active_min,omitempty"`
	ActiveMax   *float64 `json:"active_max,omitempty"`

	Availability      Availability `json:"availability"`
	LastNotifiedPrice *float64     `json:"last_notified_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BoundsFor returns the cached bounds for a mode; absent modes yield empty bounds.
func (t *TrackedItem) BoundsFor(mode ConditionMode) PriceBounds {
	if t.Bounds == nil {
		return PriceBounds{}
	}
	return t.Bounds[mode]
}

// SetBounds replaces the cached bounds for one mode.
func (t *TrackedItem) SetBounds(mode ConditionMode, b PriceBounds) {
	if t.Bounds == nil {
		t.Bounds = make(map[ConditionMode]PriceBounds, 2)
	}
	t.Bounds[mode] = b
}
