// Package monitoring counts what the refresh engine does and raises alerts
// when a pass looks unhealthy.
package monitoring

import (
	"sync"
	"time"
)

// MetricsSnapshot holds a point-in-time view of refresh health.
type MetricsSnapshot struct {
	// Per-pass refresh metrics.
	ItemsRefreshed   int `json:"items_refreshed"`
	ItemsFailed      int `json:"items_failed"`
	LookupsAttempted int `json:"lookups_attempted"`
	LookupsFailed    int `json:"lookups_failed"`

	// Signal quality.
	SignalsAccepted    int            `json:"signals_accepted"`
	SignalsRejected    int            `json:"signals_rejected"`
	RejectionsByReason map[string]int `json:"rejections_by_reason,omitempty"`

	// Data quality and outcomes.
	AnomaliesCorrected    int `json:"anomalies_corrected"`
	NotificationsEmitted  int `json:"notifications_emitted"`
	BaselinesSeeded       int `json:"baselines_seeded"`
	StalePriceResolutions int `json:"stale_price_resolutions"`

	// Derived rates.
	LookupFailRate    float64 `json:"lookup_fail_rate"`
	SignalRejectRate  float64 `json:"signal_reject_rate"`

	// Metadata.
	PassStartedAt time.Time     `json:"pass_started_at"`
	PassDuration  time.Duration `json:"pass_duration"`
	CollectedAt   time.Time     `json:"collected_at"`
}

// Collector accumulates counters while a refresh pass runs. All methods are
// safe for the engine's concurrent domain workers.
type Collector struct {
	mu sync.Mutex

	passStarted time.Time
	passEnded   time.Time

	itemsRefreshed   int
	itemsFailed      int
	lookupsAttempted int
	lookupsFailed    int

	signalsAccepted int
	rejections      map[string]int

	anomaliesCorrected   int
	notificationsEmitted int
	baselinesSeeded      int
	staleResolutions     int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{rejections: make(map[string]int)}
}

// StartPass resets all counters for a new refresh pass.
func (c *Collector) StartPass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passStarted = time.Now().UTC()
	c.passEnded = time.Time{}
	c.itemsRefreshed = 0
	c.itemsFailed = 0
	c.lookupsAttempted = 0
	c.lookupsFailed = 0
	c.signalsAccepted = 0
	c.rejections = make(map[string]int)
	c.anomaliesCorrected = 0
	c.notificationsEmitted = 0
	c.baselinesSeeded = 0
	c.staleResolutions = 0
}

// EndPass stamps the pass duration.
func (c *Collector) EndPass() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.passEnded = time.Now().UTC()
}

func (c *Collector) ItemRefreshed() { c.add(&c.itemsRefreshed) }
func (c *Collector) ItemFailed()    { c.add(&c.itemsFailed) }

func (c *Collector) LookupAttempted() { c.add(&c.lookupsAttempted) }
func (c *Collector) LookupFailed()    { c.add(&c.lookupsFailed) }

func (c *Collector) SignalAccepted() { c.add(&c.signalsAccepted) }

// SignalRejected records a rejected page signal under its reason.
func (c *Collector) SignalRejected(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejections[reason]++
}

func (c *Collector) AnomalyCorrected()     { c.add(&c.anomaliesCorrected) }
func (c *Collector) NotificationEmitted()  { c.add(&c.notificationsEmitted) }
func (c *Collector) BaselineSeeded()       { c.add(&c.baselinesSeeded) }
func (c *Collector) StalePriceResolution() { c.add(&c.staleResolutions) }

func (c *Collector) add(counter *int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*counter++
}

// Snapshot returns the current counters with derived rates.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &MetricsSnapshot{
		ItemsRefreshed:        c.itemsRefreshed,
		ItemsFailed:           c.itemsFailed,
		LookupsAttempted:      c.lookupsAttempted,
		LookupsFailed:         c.lookupsFailed,
		SignalsAccepted:       c.signalsAccepted,
		AnomaliesCorrected:    c.anomaliesCorrected,
		NotificationsEmitted:  c.notificationsEmitted,
		BaselinesSeeded:       c.baselinesSeeded,
		StalePriceResolutions: c.staleResolutions,
		RejectionsByReason:    make(map[string]int, len(c.rejections)),
		PassStartedAt:         c.passStarted,
		CollectedAt:           time.Now().UTC(),
	}
	for reason, n := range c.rejections {
		snap.RejectionsByReason[reason] = n
		snap.SignalsRejected += n
	}

	if c.lookupsAttempted > 0 {
		snap.LookupFailRate = float64(c.lookupsFailed) / float64(c.lookupsAttempted)
	}
	if total := snap.SignalsAccepted + snap.SignalsRejected; total > 0 {
		snap.SignalRejectRate = float64(snap.SignalsRejected) / float64(total)
	}

	end := c.passEnded
	if end.IsZero() {
		end = snap.CollectedAt
	}
	if !c.passStarted.IsZero() {
		snap.PassDuration = end.Sub(c.passStarted)
	}
	return snap
}
