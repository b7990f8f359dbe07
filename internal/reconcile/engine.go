package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropwatch/dropwatch/internal/cache"
	"github.com/dropwatch/dropwatch/internal/currency"
	"github.com/dropwatch/dropwatch/internal/history"
	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/monitoring"
	"github.com/dropwatch/dropwatch/internal/notify"
	"github.com/dropwatch/dropwatch/internal/signal"
	"github.com/dropwatch/dropwatch/internal/store"
)

const defaultMaxConcurrentDomains = 4

// Deps wires the engine's collaborators. Store, Cache, Signals, and History
// are required; the rest default to sane implementations.
type Deps struct {
	Store    store.Store
	Cache    *cache.Cache
	Signals  signal.Source
	Extract  *signal.Extractor
	History  *history.Adapter
	Currency *currency.Table
	Trigger  *notify.Trigger
	Notifier notify.Notifier
	Metrics  *monitoring.Collector

	// MaxConcurrentDomains bounds how many marketplace domains refresh in
	// parallel. Items within one domain run sequentially so the per-domain
	// history lookups stay batched.
	MaxConcurrentDomains int
}

// Engine drives one refresh pass over every tracked item: fetch historical
// bounds per domain, pull the live page signal per item, reconcile the two
// into a current price, fold the result into the dual-mode cache, and
// evaluate the drop-notification rule.
type Engine struct {
	deps Deps
	log  *zap.Logger
}

func NewEngine(deps Deps) *Engine {
	if deps.Extract == nil {
		deps.Extract = signal.NewExtractor()
	}
	if deps.Currency == nil {
		deps.Currency = currency.NewTable()
	}
	if deps.Trigger == nil {
		deps.Trigger = notify.NewTrigger(notify.DefaultConfig())
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewCollector()
	}
	if deps.MaxConcurrentDomains <= 0 {
		deps.MaxConcurrentDomains = defaultMaxConcurrentDomains
	}
	return &Engine{
		deps: deps,
		log:  zap.L().With(zap.String("component", "reconcile")),
	}
}

// Metrics exposes the pass collector for the monitoring checker and the
// metrics endpoint.
func (e *Engine) Metrics() *monitoring.Collector {
	return e.deps.Metrics
}

// RunPass refreshes every tracked item once. Items are grouped by domain and
// domains run concurrently; a failing item or a failing domain lookup never
// aborts the pass. The returned snapshot summarizes what happened.
func (e *Engine) RunPass(ctx context.Context) (*monitoring.MetricsSnapshot, error) {
	e.deps.Metrics.StartPass()

	items, err := e.deps.Store.ListItems(ctx, store.ItemFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: list items")
	}

	byDomain := make(map[string][]model.TrackedItem)
	for _, item := range items {
		byDomain[item.Product.Domain] = append(byDomain[item.Product.Domain], item)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.deps.MaxConcurrentDomains)
	for domain, group := range byDomain {
		domain, group := domain, group
		g.Go(func() error {
			e.refreshDomain(gctx, domain, group)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "reconcile: pass aborted")
	}

	e.deps.Metrics.EndPass()
	snap := e.deps.Metrics.Snapshot()
	e.log.Info("refresh pass complete",
		zap.Int("items", len(items)),
		zap.Int("domains", len(byDomain)),
		zap.Int("refreshed", snap.ItemsRefreshed),
		zap.Int("failed", snap.ItemsFailed),
		zap.Int("notifications", snap.NotificationsEmitted),
		zap.Duration("duration", snap.PassDuration),
	)
	return snap, nil
}

// RefreshOne runs the reconciliation cycle for a single item, seeding both
// mode bound sets. Used when an item is first tracked and for targeted
// re-checks.
func (e *Engine) RefreshOne(ctx context.Context, itemID string) (*model.TrackedItem, error) {
	item, err := e.deps.Store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	ids := []string{item.Product.ID}
	newBounds := e.lookupBounds(ctx, ids, item.Product.Domain, model.ModeNewOnly)
	allBounds := e.lookupBounds(ctx, ids, item.Product.Domain, model.ModeAllConditions)

	obs, err := e.refreshItem(ctx, item, newBounds[item.Product.ID], allBounds[item.Product.ID])
	if err != nil {
		return nil, err
	}
	if obs != nil {
		if _, err := e.deps.Store.AppendHistory(ctx, []store.PriceObservation{*obs}); err != nil {
			e.log.Warn("history append failed", zap.String("item", item.ID), zap.Error(err))
		}
	}
	return item, nil
}

// refreshDomain fetches both bound sets for every product in the domain with
// two batched lookups, then refreshes each item. Lookup failures degrade to
// empty bounds so the live signal and the cached state can still carry the
// item.
func (e *Engine) refreshDomain(ctx context.Context, domain string, items []model.TrackedItem) {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Product.ID]; ok {
			continue
		}
		seen[item.Product.ID] = struct{}{}
		ids = append(ids, item.Product.ID)
	}

	newBounds := e.lookupBounds(ctx, ids, domain, model.ModeNewOnly)
	allBounds := e.lookupBounds(ctx, ids, domain, model.ModeAllConditions)

	var observations []store.PriceObservation
	for i := range items {
		item := &items[i]
		obs, err := e.refreshItem(ctx, item, newBounds[item.Product.ID], allBounds[item.Product.ID])
		if err != nil {
			e.deps.Metrics.ItemFailed()
			e.log.Warn("item refresh failed",
				zap.String("item", item.ID),
				zap.String("product", item.Product.ID),
				zap.Error(err),
			)
			continue
		}
		if obs != nil {
			observations = append(observations, *obs)
		}
	}

	if len(observations) > 0 {
		if _, err := e.deps.Store.AppendHistory(ctx, observations); err != nil {
			e.log.Warn("history append failed", zap.String("domain", domain), zap.Error(err))
		}
	}
}

func (e *Engine) lookupBounds(ctx context.Context, ids []string, domain string, mode model.ConditionMode) map[string]model.PriceBounds {
	if len(ids) == 0 {
		return nil
	}
	e.deps.Metrics.LookupAttempted()
	bounds, err := e.deps.History.Bounds(ctx, ids, domain, mode)
	if err != nil {
		e.deps.Metrics.LookupFailed()
		e.log.Warn("historical lookup failed",
			zap.String("domain", domain),
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		return nil
	}
	return bounds
}

// refreshItem runs the full reconciliation cycle for one item. The returned
// observation is non-nil only for fresh prices; stale fallbacks update the
// display without entering the history.
func (e *Engine) refreshItem(ctx context.Context, item *model.TrackedItem, newBounds, allBounds model.PriceBounds) (*store.PriceObservation, error) {
	live, liveReason, snap := e.liveSignal(ctx, item.Product)

	activeBounds := allBounds
	if item.Mode == model.ModeNewOnly {
		corrected, report := CorrectBounds(newBounds, allBounds)
		if report.Anomalous() {
			e.deps.Metrics.AnomalyCorrected()
			LogAnomalies(item.Product.ID, report)
		}
		newBounds = corrected
		activeBounds = newBounds
	}

	res := Resolve(live, liveReason, activeBounds, item.ActivePrice)
	if !res.Fresh && res.Price != nil {
		e.deps.Metrics.StalePriceResolution()
	}

	if err := e.deps.Cache.Update(ctx, item, newBounds, allBounds, res.Price, res.Fresh, snap.Availability); err != nil {
		return nil, err
	}
	e.deps.Metrics.ItemRefreshed()

	var observation *store.PriceObservation
	if res.Fresh && res.Price != nil {
		observation = &store.PriceObservation{
			ItemID:     item.ID,
			Price:      *res.Price,
			Source:     string(res.Source),
			ObservedAt: time.Now().UTC(),
		}
	}

	if res.Price != nil {
		code, ok := e.deps.Currency.Expected(item.Product.Domain)
		if !ok {
			e.log.Warn("no expected currency for domain",
				zap.String("domain", item.Product.Domain),
				zap.String("item", item.ID))
		}
		e.handleOutcome(ctx, item, e.deps.Trigger.Evaluate(item, code, *res.Price, res.Fresh))
	}
	return observation, nil
}

// liveSignal fetches, extracts, and currency-validates one page signal. On
// any failure it returns nil with the rejection reason; the snapshot is still
// returned so availability survives a rejected price.
func (e *Engine) liveSignal(ctx context.Context, product model.Product) (*model.PriceSignal, string, model.PageSnapshot) {
	snap, err := e.deps.Signals.Fetch(ctx, product)
	if err != nil {
		e.deps.Metrics.SignalRejected("fetch failed")
		e.log.Debug("page fetch failed", zap.String("product", product.ID), zap.Error(err))
		return nil, "fetch failed", model.PageSnapshot{}
	}

	sig, err := e.deps.Extract.Extract(product, snap)
	if err != nil {
		reason := "no signal"
		if !eris.Is(err, signal.ErrNoSignal) {
			reason = "extraction failed"
		}
		e.deps.Metrics.SignalRejected(reason)
		return nil, reason, snap
	}

	sig, err = e.deps.Currency.Validate(product.Domain, sig)
	if err != nil {
		e.deps.Metrics.SignalRejected("currency mismatch")
		e.log.Warn("signal rejected on currency",
			zap.String("product", product.ID),
			zap.String("got", sig.Currency),
		)
		return nil, "currency mismatch", snap
	}

	e.deps.Metrics.SignalAccepted()
	return &sig, "", snap
}

// handleOutcome persists the notification baseline before attempting
// delivery, so a crash or a failing webhook can never replay the same drop.
func (e *Engine) handleOutcome(ctx context.Context, item *model.TrackedItem, outcome notify.Outcome) {
	if outcome.Baseline == nil {
		return
	}

	if err := e.deps.Store.SaveLastNotified(ctx, item.ID, *outcome.Baseline); err != nil {
		e.log.Error("baseline save failed, suppressing notification",
			zap.String("item", item.ID),
			zap.Error(err),
		)
		return
	}
	item.LastNotifiedPrice = outcome.Baseline

	if outcome.Seeded {
		e.deps.Metrics.BaselineSeeded()
		return
	}
	if outcome.Event == nil {
		return
	}

	if err := e.deps.Store.RecordNotification(ctx, *outcome.Event); err != nil {
		e.log.Warn("notification audit record failed", zap.String("item", item.ID), zap.Error(err))
	}
	if err := e.deps.Notifier.Deliver(ctx, *outcome.Event); err != nil {
		e.log.Error("notification delivery failed",
			zap.String("item", item.ID),
			zap.String("event", outcome.Event.ID),
			zap.Error(err),
		)
	}
	e.deps.Metrics.NotificationEmitted()
}
