// Command voxgate is the voice-bot gateway bridging an Asterisk PBX with a
// realtime speech-to-speech model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/voxgate/voxgate/internal/call"
	"github.com/voxgate/voxgate/internal/cdr"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/convlog"
	"github.com/voxgate/voxgate/internal/frontend"
	"github.com/voxgate/voxgate/internal/health"
	"github.com/voxgate/voxgate/internal/observe"
	"github.com/voxgate/voxgate/internal/tools"
	"github.com/voxgate/voxgate/internal/transcriber"
	"github.com/voxgate/voxgate/pkg/ari"
	oairt "github.com/voxgate/voxgate/pkg/realtime/openai"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"ari_app", cfg.ARI.App,
		"recognition_mode", cfg.Recognition.Mode,
		"tts_mode", cfg.TTS.Mode,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Stores (both optional) ────────────────────────────────────────────────
	var convStore *convlog.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		convStore = convlog.NewStore(logger, rdb, cfg.Redis.TTL)
		slog.Info("conversation log enabled", "addr", cfg.Redis.Addr)
	}

	var cdrStore *cdr.Store
	if cfg.Postgres.DSN != "" {
		cdrStore, err = cdr.NewStore(ctx, logger, cfg.Postgres.DSN)
		if err != nil {
			slog.Error("cdr store init failed", "err", err)
			return 1
		}
		defer cdrStore.Close()
		slog.Info("call detail records enabled")
	}

	var fallback *transcriber.Transcriber
	if cfg.OpenAI.TranscriptionModel != "" {
		fallback = transcriber.New(cfg.OpenAI.APIKey, cfg.OpenAI.TranscriptionModel)
		slog.Info("fallback transcription enabled", "model", cfg.OpenAI.TranscriptionModel)
	}

	// ── Gateway wiring ────────────────────────────────────────────────────────
	ariClient := ari.NewClient(cfg.ARI.URL, cfg.ARI.Username, cfg.ARI.Password, cfg.ARI.App)
	if err := ariClient.Ping(ctx); err != nil {
		slog.Error("PBX unreachable", "url", cfg.ARI.URL, "err", err)
		return 1
	}

	providerOpts := []oairt.Option{oairt.WithModel(cfg.OpenAI.Model)}
	if cfg.OpenAI.BaseURL != "" {
		providerOpts = append(providerOpts, oairt.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	provider := oairt.New(cfg.OpenAI.APIKey, providerOpts...)

	hub := frontend.NewHub(logger)
	registry := tools.NewRegistry(logger, cfg.Profile.Tools)

	gateway := call.NewGateway(cfg, call.Deps{
		Log:         logger,
		PBX:         ariClient,
		Provider:    provider,
		Publisher:   hub,
		ConvLog:     convStore,
		CDR:         cdrStore,
		Tools:       registry,
		Transcriber: fallback,
		Metrics:     metrics,
		RTPHost:     cfg.Server.RTPHost,
		TTSMode:     cfg.TTS.Mode,
		SoundsRoot:  cfg.TTS.SoundsRoot,
	})

	// ── HTTP server: operator socket, metrics, health ─────────────────────────
	mux := http.NewServeMux()
	frontend.NewServer(logger, hub, gateway).Routes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health.NewChecker(5*time.Second,
		health.Check{Name: "ari", Fn: ariClient.Ping},
		health.Check{Name: "redis", Fn: convStore.Ping},
		health.Check{Name: "postgres", Fn: cdrStore.Ping},
	).Handler())

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		hub.Publish(call.EventARIConnectionStatus, "", "gateway",
			map[string]any{"connected": true}, "info")
		if err := ariClient.Listen(gctx, gateway); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("ari event socket: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		slog.Info("shutdown signal received, stopping…")
		gateway.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
