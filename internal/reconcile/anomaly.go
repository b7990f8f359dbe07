// Package reconcile combines the live page signal and the historical bounds
// into one trustworthy current price per item, correcting impossible
// cross-mode data along the way.
package reconcile

import (
	"go.uber.org/zap"

	"github.com/dropwatch/dropwatch/internal/model"
)

// AnomalyReport records what CorrectBounds found. Corrections are data-quality
// warnings, never failures.
type AnomalyReport struct {
	MinCorrected bool     `json:"min_corrected"`
	OldMin       *float64 `json:"old_min,omitempty"`
	MaxViolation bool     `json:"max_violation"`
}

// Anomalous reports whether anything was detected.
func (r AnomalyReport) Anomalous() bool {
	return r.MinCorrected || r.MaxViolation
}

// CorrectBounds enforces the cross-mode economic invariant: including used
// and refurbished offers can only pull the floor down, so the all-conditions
// minimum can never exceed the new-only minimum. When the historical source
// reports otherwise it is internally inconsistent, and the new-only minimum
// is clamped to the all-conditions floor. The all-conditions bounds are
// treated as ground truth and never altered.
//
// Ceilings have no equivalent constraint; a new-only maximum above the
// all-conditions maximum is only reported.
//
// Both bound sets must come from the same refresh pass; comparing a fresh
// floor against a stale one would manufacture anomalies.
func CorrectBounds(newOnly, allConditions model.PriceBounds) (model.PriceBounds, AnomalyReport) {
	var report AnomalyReport

	if newOnly.Min != nil && allConditions.Min != nil && *newOnly.Min < *allConditions.Min {
		report.MinCorrected = true
		report.OldMin = newOnly.Min
		newOnly.Min = allConditions.Min
	}

	if newOnly.Max != nil && allConditions.Max != nil && *newOnly.Max > *allConditions.Max {
		report.MaxViolation = true
	}

	return newOnly, report
}

// LogAnomalies emits the data-quality warning for a detected anomaly.
func LogAnomalies(productID string, report AnomalyReport) {
	if !report.Anomalous() {
		return
	}
	fields := []zap.Field{
		zap.String("product", productID),
		zap.Bool("min_corrected", report.MinCorrected),
		zap.Bool("max_violation", report.MaxViolation),
	}
	if report.OldMin != nil {
		fields = append(fields, zap.Float64("old_new_only_min", *report.OldMin))
	}
	zap.L().Warn("reconcile: cross-mode bounds anomaly", fields...)
}
