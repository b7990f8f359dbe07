package model

// OriginTag classifies where on a product page a price observation was found.
type OriginTag string

const (
	// OriginMainListing is the featured offer block.
	OriginMainListing OriginTag = "main_listing"
	// OriginOtherSellers is the third-party offers block. A legitimate price
	// may be lower here than in the featured offer.
	OriginOtherSellers OriginTag = "other_sellers"
	// OriginAccessory covers recommendation, accessory, and bundle areas.
	// Observations tagged with it never qualify as the product price.
	OriginAccessory OriginTag = "accessory"
)

// Observation is a single raw price candidate scraped from one product page.
type Observation struct {
	Value    float64   `json:"value"`
	Currency string    `json:"currency"`
	Origin   OriginTag `json:"origin"`
}

// PageSnapshot carries everything the signal source reports for one product
// page fetch: the unordered candidate observations plus the stock state.
type PageSnapshot struct {
	Observations []Observation `json:"observations"`
	Availability Availability  `json:"availability"`
	Title        string        `json:"title,omitempty"`
}

// PriceSignal is the single canonical live price chosen by the extractor.
// It is transient: validated against the domain currency, consumed by one
// reconciliation cycle, never persisted.
type PriceSignal struct {
	Value    float64   `json:"value"`
	Currency string    `json:"currency"`
	Origin   OriginTag `json:"origin"`
}
