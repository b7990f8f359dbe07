package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dropwatch/dropwatch/internal/cache"
	"github.com/dropwatch/dropwatch/internal/currency"
	"github.com/dropwatch/dropwatch/internal/history"
	"github.com/dropwatch/dropwatch/internal/notify"
	"github.com/dropwatch/dropwatch/internal/reconcile"
	"github.com/dropwatch/dropwatch/internal/resilience"
	"github.com/dropwatch/dropwatch/internal/signal"
	"github.com/dropwatch/dropwatch/internal/store"
)

// env bundles everything a command needs once configuration is loaded.
type env struct {
	store  store.Store
	cache  *cache.Cache
	engine *reconcile.Engine
}

func (e *env) Close() {
	_ = e.store.Close()
}

// openStore connects to the configured backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		st, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	}
}

// initItems opens just the store, for item management commands.
func initItems(ctx context.Context) (*env, error) {
	if err := cfg.Validate("items"); err != nil {
		return nil, err
	}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	return &env{store: st, cache: cache.New(st)}, nil
}

// initEngine wires the full reconciliation stack.
func initEngine(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	table := currency.NewTable()
	if cfg.Currency.TablePath != "" {
		table, err = currency.LoadTable(cfg.Currency.TablePath)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "load currency table")
		}
	}

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	c := cache.New(st)
	engine := reconcile.NewEngine(reconcile.Deps{
		Store:   st,
		Cache:   c,
		Signals: signal.NewHTTPSource(cfg.Signal.BaseURL, time.Duration(cfg.Signal.TimeoutSecs)*time.Second),
		Extract: signal.NewExtractor().WithSanityFloor(cfg.Signal.SanityFloor),
		History: history.NewAdapter(
			history.NewClient(cfg.History.BaseURL, cfg.History.Key, time.Duration(cfg.History.TimeoutSecs)*time.Second),
			history.Options{
				BatchSize:  cfg.History.BatchSize,
				RatePerSec: cfg.History.RatePerSec,
				CacheTTL:   time.Duration(cfg.History.CacheTTLMins) * time.Minute,
				Retry:      resilience.DefaultRetryConfig(),
			},
		),
		Currency: table,
		Trigger: notify.NewTrigger(notify.Config{
			AbsoluteDrop: cfg.Notify.AbsoluteDrop,
			RelativeDrop: cfg.Notify.RelativeDrop,
		}),
		Notifier:             notifier,
		MaxConcurrentDomains: cfg.Refresh.MaxConcurrentDomains,
	})

	return &env{store: st, cache: c, engine: engine}, nil
}
