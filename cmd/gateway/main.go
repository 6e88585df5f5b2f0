package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wava-studio/wava-gateway/internal/auth"
	"github.com/wava-studio/wava-gateway/internal/config"
	"github.com/wava-studio/wava-gateway/internal/filter"
	"github.com/wava-studio/wava-gateway/internal/filter/injection"
	"github.com/wava-studio/wava-gateway/internal/filter/policy"
	"github.com/wava-studio/wava-gateway/internal/filter/secrets"
	"github.com/wava-studio/wava-gateway/internal/gateway"
	"github.com/wava-studio/wava-gateway/internal/prediction"
	"github.com/wava-studio/wava-gateway/internal/proxy"
	"github.com/wava-studio/wava-gateway/internal/ratelimit"
	"github.com/wava-studio/wava-gateway/internal/router"
	"github.com/wava-studio/wava-gateway/internal/router/adapters"
	"github.com/wava-studio/wava-gateway/internal/store"
	"github.com/wava-studio/wava-gateway/internal/telemetry"
	"github.com/wava-studio/wava-gateway/internal/types"
	"github.com/wava-studio/wava-gateway/internal/workflow"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config (missing is fine)")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	loader := config.NewLoader(*configDir, bootLogger)
	if err := loader.Load(); err != nil {
		bootLogger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	metrics := telemetry.NewMetrics()

	// Generation history (PostgreSQL)
	var history *store.History
	if cfg.Database.Enabled {
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN())
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(1)
		}
		if cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		}
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (history writes will fail)", "error", err)
		} else {
			logger.Info("database connected")
		}
		history = store.NewHistory(pool)
	}

	// Rate limits and render quota (Redis)
	var rdb redis.UniversalClient
	if cfg.Redis.Enabled && len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addresses,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (rate limits fail open)", "error", err)
		} else {
			logger.Info("redis connected")
		}
	}

	// Upstream clients, rebuilt when providers.yaml changes.
	gemini := &geminiBackend{}
	replicate := &atomic.Pointer[prediction.ReplicateBackend]{}
	buildProviders := func(p *config.ProvidersConfig) {
		gemini.p.Store(adapters.NewGeminiAdapter(p.Get(config.ProviderGemini), nil))
		replicate.Store(prediction.NewReplicateBackend(p.Get(config.ProviderReplicate), nil))
	}
	buildProviders(loader.Providers())
	loader.OnReload(func(s config.Snapshot) {
		buildProviders(s.Providers)
		logger.Info("provider clients reloaded")
	})

	textModels := func() config.TextModelsConfig { return loader.Models().Text }
	imageModels := func() config.ImageModelsConfig { return loader.Models().Image }

	orchOpts := []router.Option{router.WithMetrics(metrics), router.WithLogger(logger)}
	if cb := textModels().CircuitBreaker; cb.Enabled {
		orchOpts = append(orchOpts, router.WithHealthTracker(router.NewHealthTracker(cb.FailureThreshold, cb.RecoveryProbeInterval)))
	}
	orchestrator := router.New(gemini, textModels, orchOpts...)

	renderers := func(token string) workflow.Renderer {
		return prediction.NewClient(replicate.Load().WithToken(token), imageModels,
			prediction.WithMetrics(metrics),
			prediction.WithLogger(logger),
		)
	}

	// Prompt guard
	policyEval := policy.NewEvaluator(func() config.PolicyFilterConfig { return loader.Config().Filter.Policy }, logger)
	if loader.Config().Filter.Policy.Enabled {
		if err := policyEval.Load(ctx); err != nil {
			logger.Error("failed to load policies", "error", err)
			os.Exit(1)
		}
	}
	guard := filter.NewChain(
		secrets.NewScanner(func() config.SecretsFilterConfig { return loader.Config().Filter.Secrets }),
		injection.NewScanner(func() config.InjectionFilterConfig { return loader.Config().Filter.Injection }),
		policyEval,
	)
	loader.OnReload(func(s config.Snapshot) {
		if !s.Gateway.Filter.Policy.Enabled {
			return
		}
		if err := policyEval.Load(ctx); err != nil {
			logger.Error("failed to reload policies, keeping previous", "error", err)
		}
	})

	wfOpts := []workflow.Option{
		workflow.WithGuard(guard),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logger),
	}
	var historyReader gateway.HistoryReader
	if history != nil {
		wfOpts = append(wfOpts, workflow.WithHistory(history))
		historyReader = history
	}
	workflows := workflow.New(orchestrator, renderers, wfOpts...)

	rateLimits := func() config.RateLimitConfig { return loader.Config().RateLimit }
	handler := gateway.NewHandler(gateway.Deps{
		Workflows: workflows,
		Models:    gemini,
		History:   historyReader,
		Quota:     ratelimit.NewRenderQuota(rdb, logger),
		Limits:    rateLimits,
		Metrics:   metrics,
		Logger:    logger,
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(gateway.RequestMetrics(metrics, logger))

	r.Get("/healthz", healthHandler(orchestrator.Health()))
	r.Handle(cfg.Telemetry.MetricsPath, promhttp.Handler())

	if cfg.Proxy.Enabled {
		proxyHandler := proxy.NewHandler(func() proxy.Upstream { return replicate.Load() }, logger)
		r.Handle(cfg.Proxy.Path, proxyHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(func() auth.ServerKeys {
			p := loader.Providers()
			return auth.ServerKeys{
				Gemini:    p.Get(config.ProviderGemini).APIKey,
				Replicate: p.Get(config.ProviderReplicate).APIKey,
			}
		}))
		r.Use(ratelimit.Middleware(ratelimit.NewLimiter(rdb, logger), rateLimits, metrics, logger))
		gateway.Mount(r, handler)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// geminiBackend forwards to the current Gemini adapter so a providers.yaml
// reload takes effect without rebuilding the orchestrator.
type geminiBackend struct {
	p atomic.Pointer[adapters.GeminiAdapter]
}

func (g *geminiBackend) Generate(ctx context.Context, credential, model string, call *types.ModelCall) (string, error) {
	return g.p.Load().Generate(ctx, credential, model, call)
}

func (g *geminiBackend) ListModels(ctx context.Context, credential string) ([]adapters.ModelInfo, error) {
	return g.p.Load().ListModels(ctx, credential)
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func healthHandler(health *router.HealthTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":  "healthy",
			"version": version,
		}
		if health != nil {
			body["models"] = health.Snapshot()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "req_" + uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}
