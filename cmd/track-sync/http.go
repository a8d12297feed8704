package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/TrackSync/config"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/scheduler"
	"github.com/BearBump/TrackSync/internal/services/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type syncStats interface {
	Stats() syncer.Stats
	LastReport() *models.RunReport
}

type runTrigger interface {
	Trigger()
	Stats() scheduler.Stats
}

type reportReader interface {
	LastReport(ctx context.Context) (*models.RunReport, bool, error)
}

type syncHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	syncer    syncStats
	scheduler runTrigger
	reports   reportReader
	metrics   http.Handler
	ready     func(ctx context.Context) error
	cfg       *config.Config
}

func runSyncHTTPServer(ctx context.Context, opts syncHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newSyncRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("ops HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newSyncRouter(opts syncHTTPOpts) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ready != nil {
			if err := opts.ready(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.syncer == nil || opts.scheduler == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "syncer not wired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"sync":      opts.syncer.Stats(),
			"scheduler": opts.scheduler.Stats(),
		})
	})

	// Отчёт берём из Redis, если он есть: там последний прогон любой реплики.
	r.Get("/runs/last", func(w http.ResponseWriter, r *http.Request) {
		if opts.reports != nil {
			rep, ok, err := opts.reports.LastReport(r.Context())
			if err != nil {
				slog.Warn("read last report", "error", err.Error())
			} else if ok {
				writeJSON(w, http.StatusOK, rep)
				return
			}
		}
		if opts.syncer != nil {
			if rep := opts.syncer.LastReport(); rep != nil {
				writeJSON(w, http.StatusOK, rep)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no finished run yet"})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "config not wired"})
			return
		}
		writeJSON(w, http.StatusOK, publicSettings(opts.cfg))
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.scheduler == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "scheduler not wired"})
			return
		}
		opts.scheduler.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	if opts.metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.metrics)
	}

	if opts.swaggerPath != "" {
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Cache-Control", "no-store")
				http.ServeFile(w, r, opts.swaggerPath)
			})
			swaggerURL := fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
			r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
		} else {
			slog.Warn("swagger file not found, /docs disabled", "path", opts.swaggerPath)
		}
	}

	return r
}

// publicSettings отдаёт только рабочие настройки, без ключей и адресов.
func publicSettings(cfg *config.Config) map[string]any {
	return map[string]any{
		"carrierMode":           cfg.Carrier.Mode,
		"carrierTimeoutSeconds": cfg.Carrier.TimeoutSeconds,
		"breakerEnabled":        cfg.Carrier.Breaker.Enabled,
		"apiTimeoutSeconds":     cfg.API.TimeoutSeconds,
		"pendingLimit":          cfg.API.PendingLimit,
		"workers":               cfg.Sync.Workers,
		"runBudgetSeconds":      cfg.Sync.RunBudgetSeconds,
		"schedule":              cfg.Sync.Schedule,
		"runOnStart":            cfg.Sync.RunOnStart,
		"rateLimitPerMinute":    cfg.Redis.RateLimitPerMinute,
		"redisEnabled":          cfg.Redis.Enabled(),
		"kafkaEnabled":          cfg.Kafka.Enabled(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
