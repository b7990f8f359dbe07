// Package signal turns the raw price observations scraped from one product
// page into a single canonical live price, filtering shipping-tier noise,
// accessories, bundles, and multi-seller duplicates.
package signal

import (
	"context"

	"github.com/dropwatch/dropwatch/internal/model"
)

// Source is the inbound page-fetch collaborator. Implementations own the
// transport; the engine only sees the resulting observations. No ordering is
// guaranteed within a snapshot.
type Source interface {
	Fetch(ctx context.Context, product model.Product) (model.PageSnapshot, error)
}
