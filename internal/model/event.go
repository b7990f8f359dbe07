package model

import "time"

// NotificationEvent is emitted at most once per item per refresh cycle when a
// reconciled price drop crosses the configured thresholds. Ownership passes to
// the delivery collaborator immediately; the engine keeps nothing beyond the
// updated LastNotifiedPrice.
type NotificationEvent struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	UserID   string `json:"user_id"`
	Product  Product `json:"product"`
	Title    string `json:"title,omitempty"`
	Currency string `json:"currency"`

	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`

	// Bounds is a snapshot of the item's active-mode bounds at emission time.
	Bounds PriceBounds `json:"bounds"`

	// HistoricalLow marks a drop that matches the recorded minimum.
	HistoricalLow bool `json:"historical_low"`

	Timestamp time.Time `json:"timestamp"`
}

// Savings returns the absolute drop that triggered the event.
func (e NotificationEvent) Savings() float64 {
	return e.OldPrice - e.NewPrice
}
