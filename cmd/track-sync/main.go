package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/BearBump/TrackSync/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	slog.SetDefault(newLogger(cfg.Log))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if once, _ := strconv.ParseBool(os.Getenv("RUN_ONCE")); once {
		report, err := RunOnce(ctx, cfg, defaultSyncFactories())
		if err != nil {
			slog.Error("sync run failed", "error", err.Error())
			os.Exit(1)
		}
		slog.Info("sync run done", "failure_rate", report.FailureRate())
		return
	}

	err = RunTrackSync(ctx, cfg, defaultSyncFactories(), syncHTTPOpts{
		httpAddr:    cfg.HTTP.Addr,
		swaggerPath: orDefault(cfg.HTTP.SwaggerPath, os.Getenv("swaggerPath")),
	})
	if err != nil && err != context.Canceled {
		slog.Error("track-sync stopped", "error", err.Error())
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(lc.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
