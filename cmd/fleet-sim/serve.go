package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-fleetsim/internal/api"
	"github.com/miradorstack/mirador-fleetsim/internal/cache"
	"github.com/miradorstack/mirador-fleetsim/internal/config"
	"github.com/miradorstack/mirador-fleetsim/internal/discovery"
	"github.com/miradorstack/mirador-fleetsim/internal/engine"
	"github.com/miradorstack/mirador-fleetsim/internal/history"
	"github.com/miradorstack/mirador-fleetsim/internal/metrics"
	"github.com/miradorstack/mirador-fleetsim/internal/services"
	"github.com/miradorstack/mirador-fleetsim/internal/simulation"
	"github.com/miradorstack/mirador-fleetsim/internal/telemetry"
	"github.com/miradorstack/mirador-fleetsim/internal/utils"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator and expose it over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting fleet-sim", slog.String("version", version), slog.String("address", cfg.Server.Address))

	shutdownTracing, err := telemetry.SetupTracing(cfg.Tracing, version, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	sim, analyzer, err := buildEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer sim.Close()

	provider := openCache(cfg.Cache, logger)
	defer provider.Close()

	svc := services.NewFleetService(sim, analyzer, provider, services.Options{
		InjectRate:   cfg.Incidents.InjectRate,
		InjectBurst:  cfg.Incidents.InjectBurst,
		FrameTTL:     cfg.Cache.FrameTTL,
		ReportTTL:    cfg.Cache.ReportTTL,
		StreamBuffer: cfg.Server.StreamBuffer,
		Logger:       logger,
	})
	defer svc.Close()
	sim.OnTick(svc.HandleFrame)

	server, err := api.NewServer(cfg.Server, svc)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sim.Run(gctx) })

	g.Go(func() error {
		logger.Info("gRPC server listening", slog.String("address", server.Address()))
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.GracefulTimeout())
		defer cancel()
		server.Shutdown(shutdownCtx)
		return nil
	})

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.World.WatchRules && cfg.World.RulesPath != "" {
		watcher := discovery.NewWatcher(cfg.World.RulesPath, sim.Registry(), logger)
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case err := <-watcher.Reloaded():
					if err == nil {
						sim.RefreshResolutions()
					}
				}
			}
		})
	}

	err = g.Wait()
	logger.Info("fleet-sim stopped", slog.Uint64("ticks", sim.Ticks()))
	return err
}

// buildEngine loads the world and wires the simulator and analyzer. A nil
// clock means wall time.
func buildEngine(cfg *config.Config, logger *slog.Logger, clock func() time.Time) (*simulation.Simulator, *engine.Analyzer, error) {
	w, err := loadWorld(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	sim := simulation.New(w, simulation.Config{
		TickInterval:    cfg.Simulation.TickInterval,
		EscalationTicks: cfg.Simulation.EscalationTicks,
		Seed:            cfg.Simulation.Seed,
		DispatchBuffer:  cfg.Simulation.DispatchBuffer,
		History: history.Limits{
			Snapshots: cfg.History.Snapshots,
			Metrics:   cfg.History.Metrics,
			AppHealth: cfg.History.AppHealth,
		},
		HealthHistoryLimit: cfg.History.HealthHistoryLimit,
		ResolutionTTL:      cfg.Simulation.ResolutionTTL,
		IncidentRetention:  cfg.Incidents.Retention,
		AnomalyWindow:      cfg.Analysis.AnomalyWindow,
		AnomalyThreshold:   cfg.Analysis.AnomalyThreshold,
		Clock:              clock,
		Logger:             logger,
	})

	rules, err := engine.NewRuleEngine(cfg.Analysis.RulesPath, logger)
	if err != nil {
		sim.Close()
		return nil, nil, err
	}
	analyzer := engine.NewAnalyzer(sim.History(), sim, rules, engine.NewCausalityEngine(logger), engine.AnalyzerConfig{
		Window:           cfg.Analysis.Window,
		MaxHypotheses:    cfg.Analysis.MaxHypotheses,
		AnomalyThreshold: cfg.Analysis.AnomalyThreshold,
		Clock:            clock,
		Logger:           logger,
	})
	return sim, analyzer, nil
}

// openCache connects to Redis when enabled, degrading to the noop cache.
func openCache(cfg config.CacheConfig, logger *slog.Logger) cache.Provider {
	if !cfg.Enabled {
		return cache.NoopProvider{}
	}
	provider, err := cache.NewRedisProvider(cache.RedisConfig{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
		TLS:          cfg.TLS,
		KeyPrefix:    cfg.KeyPrefix,
	})
	if err != nil {
		logger.Warn("cache unavailable, continuing without it", slog.Any("error", err))
		return cache.NoopProvider{}
	}
	logger.Info("cache connected", slog.String("addr", cfg.Addr))
	return provider
}
