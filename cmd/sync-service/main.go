// cmd/sync-service/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dirsync/internal/idp"
	"dirsync/internal/idp/okta"
	"dirsync/internal/scheduler"
	"dirsync/internal/syncer"
	"dirsync/pkg/config"
	"dirsync/pkg/db"
	"dirsync/pkg/directories"
	"dirsync/pkg/graph"
	"dirsync/pkg/logger"
	"dirsync/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var dirs directories.Provider
	var store graph.Store
	if pool != nil {
		if err := directories.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := graph.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := directories.SeedFromEnv(context.Background(), pool, os.Getenv("DIRECTORY_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
		dirs = directories.NewPostgresProvider(pool, log)
		store = graph.NewPostgresStore(pool, log)
	} else {
		dirs = directories.NewMemoryProviderFromEnv(log)
		store = graph.NewMemoryStore()
	}

	reg := idp.NewRegistry()
	reg.Register("okta", okta.New)

	orch, err := syncer.New(dirs, store, reg, cfg.Sync, log)
	if err != nil {
		log.Fatalw("orchestrator", "err", err)
	}
	sched := scheduler.New(dirs, orch, rdb, cfg.Sync.Interval, cfg.Sync.LockTTL, log)

	runCtx, cancelRuns := context.WithCancel(context.Background())
	go sched.Start(runCtx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.Tracing(cfg))
	r.Use(middleware.OpsAuth(cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Manual trigger: runs the pass synchronously so the caller sees the
	// outcome. 409 when a pass is already in flight for the directory.
	r.Post("/v1/directories/{id}/sync", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		err := sched.Trigger(req.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"status": "synced"})
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			writeJSON(w, http.StatusConflict, map[string]any{"status": "running"})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{"status": "error", "error": err.Error()})
		}
	})

	r.Get("/v1/directories/{id}", func(w http.ResponseWriter, req *http.Request) {
		d, err := dirs.Get(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, "directory not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":                d.ID,
			"account_id":        d.AccountID,
			"provider_type":     d.ProviderType,
			"name":              d.Name,
			"synced_at":         d.SyncedAt,
			"errored_at":        d.ErroredAt,
			"error_message":     d.ErrorMessage,
			"error_email_count": d.ErrorEmailCount,
			"is_disabled":       d.IsDisabled,
			"disabled_reason":   d.DisabledReason,
		})
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("sync-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancelRuns()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("sync-service stopped")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
