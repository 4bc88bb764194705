package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/resolveguard/api"
	"github.com/use-agent/resolveguard/api/handler"
	"github.com/use-agent/resolveguard/config"
	"github.com/use-agent/resolveguard/driver"
	"github.com/use-agent/resolveguard/eventbus"
	"github.com/use-agent/resolveguard/resilience/abort"
	"github.com/use-agent/resolveguard/resilience/browserrecovery"
	"github.com/use-agent/resolveguard/resilience/checkpoint"
	"github.com/use-agent/resolveguard/resilience/degradation"
	"github.com/use-agent/resolveguard/resilience/failure"
	"github.com/use-agent/resolveguard/resilience/tabhandler"
	"github.com/use-agent/resolveguard/selector"
	"github.com/use-agent/resolveguard/snapshot"
	"github.com/use-agent/resolveguard/stealth"
	"github.com/use-agent/resolveguard/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	logger := slog.Default()
	slog.Info("resolveguard starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 3. Event bus ─────────────────────────────────────────────────
	bus := eventbus.New(256, logger)

	// ── 4. Browser driver (component A) ─────────────────────────────
	browser, err := driver.New(cfg.Browser)
	if err != nil {
		slog.Error("failed to initialise browser", "error", err)
		os.Exit(1)
	}
	defer browser.Close()

	// ── 5. Selector registry, scorer, resolver (components J-N) ─────
	registry := selector.NewRegistry()

	gates := make(map[selector.Environment]float64, len(cfg.Selector.QualityGates))
	for env, gate := range cfg.Selector.QualityGates {
		gates[selector.Environment(env)] = gate
	}
	scorer := selector.NewScorer(selector.DefaultWeights(), gates)

	snapshots := snapshot.New(snapshot.Config{
		Dir:              cfg.Snapshot.Dir,
		Gzip:             cfg.Snapshot.Gzip,
		MaxBytes:         cfg.Snapshot.MaxBytes,
		KeepFailureCount: cfg.Snapshot.KeepFailureCount,
		MaxAge:           time.Duration(cfg.Snapshot.RetentionDays) * 24 * time.Hour,
	})

	resolver := selector.NewResolver(registry, scorer, bus, snapshots, cfg.Selector.PerStrategyTimeout, cfg.Selector.BatchWorkerCap)

	// ── 6. Stealth orchestrator (components D-I) ────────────────────
	fingerprint := stealth.NewFingerprintNormalizer(time.Now().UnixNano(), cfg.Stealth.FingerprintCacheEnabled, stealth.ConsistencyLevel(cfg.Stealth.FingerprintConsistency))

	var proxyMgr *stealth.ProxyManager
	if cfg.Stealth.ProxyEnabled {
		proxyMgr = stealth.NewProxyManager(
			stealth.NewMockProvider(),
			stealth.RotationStrategy(cfg.Stealth.ProxyRotation),
			time.Duration(cfg.Stealth.ProxyCooldownSeconds)*time.Second,
			"",
		)
	}

	orchestrator := stealth.New(stealth.Config{
		Enabled:              cfg.Stealth.Enabled,
		ProxyEnabled:         cfg.Stealth.ProxyEnabled,
		AntiDetectionEnabled: cfg.Stealth.AntiDetectionEnabled,
		ConsentEnabled:       cfg.Stealth.ConsentHandlingEnabled,
		BehaviorEnabled:      cfg.Stealth.BehaviorEmulationEnabled,
		GracefulDegradation:  cfg.Stealth.GracefulDegradation,
		MaskOptions: stealth.MaskOptions{
			MaskWebdriver:            cfg.Stealth.MaskWebdriver,
			MaskPlaywrightIndicators: cfg.Stealth.MaskPlaywrightIndicators,
			MaskProcess:              cfg.Stealth.MaskProcess,
		},
		FingerprintLevel:     stealth.ConsistencyLevel(cfg.Stealth.FingerprintConsistency),
		FingerprintCache:     cfg.Stealth.FingerprintCacheEnabled,
		ProxyStrategy:        stealth.RotationStrategy(cfg.Stealth.ProxyRotation),
		ProxyCooldown:        time.Duration(cfg.Stealth.ProxyCooldownSeconds) * time.Second,
		BehaviorIntensity:    stealth.Intensity(cfg.Stealth.BehaviorIntensity),
		ConsentVerifyDismiss: true,
	}, bus, fingerprint, proxyMgr, logger)

	// ── 7. Resilience coordinator (components P-U) ──────────────────
	failures := failure.NewHandler(bus)
	degradationCoord := degradation.New(bus)
	checkpoints := checkpoint.New(500, 24*time.Hour)
	abortExec := abort.New(bus)

	restart := func(ctx context.Context, browserID, sessionID string) error {
		slog.Warn("browser recovery: restarting browser process", "browser_id", browserID, "session_id", sessionID)
		return browser.Restart()
	}
	recovery := browserrecovery.New(
		time.Duration(cfg.Resilience.HealthCheckIntervalSeconds)*time.Second,
		cfg.Resilience.MaxRecoveryAttempts,
		cfg.Resilience.BaseRetryDelay,
		restart,
		bus,
		logger,
	)
	recovery.RegisterProbe(func(browserID string) (browserrecovery.HealthMetrics, error) {
		active, max := browser.ActivePages(), browser.MaxPages()
		pressure := 0.0
		if max > 0 {
			pressure = float64(active) / float64(max)
		}
		return browserrecovery.HealthMetrics{CPUPercent: pressure * 100, MemoryPercent: pressure * 100}, nil
	})
	recovery.RegisterBrowser("browser-0", "session-0")

	recoveryCtx, cancelRecovery := context.WithCancel(context.Background())
	recovery.Start(recoveryCtx)
	defer cancelRecovery()
	defer recovery.Stop()

	tabs := tabhandler.New(cfg.Resilience.TabConcurrency, cfg.Resilience.MaxRecoveryAttempts, cfg.Resilience.BaseRetryDelay, failures, snapshots)

	// ── 7b. Webhook alert sink ───────────────────────────────────────
	if cfg.Webhook.URL != "" {
		sink := webhook.NewSink(cfg.Webhook.URL, cfg.Webhook.Secret)
		for _, kind := range []eventbus.Kind{
			eventbus.KindAbortEvent,
			eventbus.KindRecoveryEvent,
			eventbus.KindFailureEvent,
			eventbus.KindDriftDetected,
		} {
			bus.Subscribe(kind, sink)
		}
		slog.Info("webhook alert sink wired", "url", cfg.Webhook.URL)
	}

	// ── 8. Assemble Deps and router ──────────────────────────────────
	deps := handler.NewDeps()
	deps.Config = cfg
	deps.Registry = registry
	deps.Scorer = scorer
	deps.Resolver = resolver
	deps.Browser = browser
	deps.Orchestrator = orchestrator
	deps.Snapshots = snapshots
	deps.Checkpoints = checkpoints
	deps.Abort = abortExec
	deps.Recovery = recovery
	deps.Degradation = degradationCoord
	deps.Failures = failures
	deps.Tabs = tabs
	deps.Bus = bus

	router := api.NewRouter(cfg, deps)

	// ── 9. Start HTTP server ──────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ──────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// browser.Close() and recovery.Stop() run via defer.
	slog.Info("resolveguard stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
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

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(h))
}
