package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/monitoring"
	"github.com/dropwatch/dropwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tracking API and background refresh loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(env.engine.Metrics(), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		if cfg.Refresh.IntervalMins > 0 {
			go refreshForever(ctx, env, time.Duration(cfg.Refresh.IntervalMins)*time.Minute)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func refreshForever(ctx context.Context, env *env, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := env.engine.RunPass(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("background refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.engine.Metrics().Snapshot())
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if _, err := env.engine.RunPass(context.WithoutCancel(r.Context())); err != nil {
				zap.L().Error("triggered refresh failed", zap.Error(err))
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	})

	r.Route("/items", func(r chi.Router) {
		r.Get("/", handleListItems(env))
		r.Post("/", handleCreateItem(env))
		r.Route("/{itemID}", func(r chi.Router) {
			r.Get("/", handleGetItem(env))
			r.Delete("/", handleDeleteItem(env))
			r.Post("/toggle", handleToggleItem(env))
			r.Get("/history", handleItemHistory(env))
		})
	})

	return r
}

func handleListItems(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		items, err := env.store.ListItems(r.Context(), store.ItemFilter{
			UserID: r.URL.Query().Get("user"),
			Domain: r.URL.Query().Get("domain"),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
	}
}

func handleCreateItem(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    string `json:"user_id"`
			ProductID string `json:"product_id"`
			Domain    string `json:"domain"`
			Title     string `json:"title"`
			Mode      string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
			return
		}
		if req.UserID == "" || req.ProductID == "" || req.Domain == "" {
			writeError(w, http.StatusBadRequest, eris.New("user_id, product_id, and domain are required"))
			return
		}
		mode := model.ConditionMode(req.Mode)
		if req.Mode == "" {
			mode = model.ModeNewOnly
		}
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, eris.Errorf("invalid mode %q", req.Mode))
			return
		}

		item := &model.TrackedItem{
			UserID:  req.UserID,
			Product: model.Product{ID: req.ProductID, Domain: req.Domain},
			Title:   req.Title,
			Mode:    mode,
		}
		if err := env.store.CreateItem(r.Context(), item); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleGetItem(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := env.store.GetItem(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDeleteItem(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := env.store.DeleteItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleToggleItem(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := env.cache.Toggle(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func errStatus(err error) int {
	if eris.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func handleItemHistory(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		rows, err := env.store.ListHistory(r.Context(), chi.URLParam(r, "itemID"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"observations": rows, "count": len(rows)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
