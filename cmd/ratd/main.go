// ratd is the RAT platform server. It serves the REST API, runs the
// scheduler, and executes pipeline ingestion runs in-process.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rat-data/rat/platform/internal/adapter"
	"github.com/rat-data/rat/platform/internal/api"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/executor"
	"github.com/rat-data/rat/platform/internal/ingest"
	"github.com/rat-data/rat/platform/internal/logbus"
	"github.com/rat-data/rat/platform/internal/postgres"
	"github.com/rat-data/rat/platform/internal/scheduler"
	"github.com/rat-data/rat/platform/internal/seed"
	"github.com/rat-data/rat/platform/internal/service"
	"github.com/rat-data/rat/platform/internal/storage"
	"github.com/rat-data/rat/platform/internal/store"
)

// validateEnv checks that critical environment variables have valid values.
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("RAT_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("RAT_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}
	if v := os.Getenv("SCHEDULER_CHECK_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Sprintf("SCHEDULER_CHECK_INTERVAL=%q: must be a valid Go duration (%v)", v, err))
		}
	}
	if v := os.Getenv("SCHEDULER_MISFIRE_GRACE_SEC"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("SCHEDULER_MISFIRE_GRACE_SEC=%q: must be an integer (%v)", v, err))
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("SCHEDULER_MAX_CONCURRENT_RUNS=%q: must be a positive integer", v))
		}
	}
	if v := os.Getenv("DEFAULT_API_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Sprintf("DEFAULT_API_TIMEOUT=%q: must be a valid Go duration (%v)", v, err))
		}
	}
	return errs
}

// warnDefaultCredentials logs security warnings when S3 or Postgres
// credentials appear to be well-known defaults.
func warnDefaultCredentials() {
	if s3Access, s3Secret := os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"); s3Access == "minioadmin" || s3Secret == "minioadmin" {
		slog.Warn("S3 credentials are set to default values (minioadmin) — change these for production deployments")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if u, err := url.Parse(dbURL); err == nil && u.User != nil {
			user := u.User.Username()
			pass, _ := u.User.Password()
			if (user == "rat" && pass == "rat") || (user == "postgres" && pass == "postgres") {
				slog.Warn("database credentials appear to be defaults — change these for production deployments", "user", user)
			}
		}
	}
}

func envDuration(name string, def time.Duration) time.Duration {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	logBus := logbus.New(envQueueSize())
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "INFO"))); err != nil {
		logLevel = slog.LevelInfo
	}
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(api.NewContextHandler(logbus.NewHandler(baseHandler, logBus)))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	ctx := context.Background()
	srv := &api.Server{LogBus: logBus}

	var pipelineStore store.PipelineStore
	var closePool func()
	switch storeType := envOr("STORE_TYPE", "memory"); storeType {
	case "postgres":
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			slog.Error("STORE_TYPE=postgres requires DATABASE_URL")
			os.Exit(1)
		}
		pool, err := postgres.NewPool(ctx, dbURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		closePool = func() { pool.Close() }

		if err := postgres.Migrate(ctx, pool); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		pipelineStore = postgres.NewPipelineStore(pool)
		srv.DBHealth = postgres.NewHealthChecker(pool)
		slog.Info("postgres pipeline store initialized")
	case "memory":
		pipelineStore = store.NewMemoryStore()
		slog.Info("STORE_TYPE=memory: pipelines are not persisted across restarts")
	default:
		slog.Error("invalid STORE_TYPE: must be memory or postgres", "value", storeType)
		os.Exit(1)
	}
	wireUploadStore(ctx, srv)

	deps := adapter.Dependencies{
		DefaultAPITimeout:  envDuration("DEFAULT_API_TIMEOUT", adapter.DefaultAPITimeout),
		DefaultLLMProvider: os.Getenv("DEFAULT_SCRAPER_LLM_PROVIDER"),
		DefaultCacheMode:   envOr("DEFAULT_SCRAPER_CACHE_MODE", "none"),
		DefaultPrompt:      os.Getenv("DEFAULT_SCRAPER_PROMPT"),
		HTTPClient:         &http.Client{Timeout: 60 * time.Second},
		Extractor:          adapter.NewDefaultExtractor(nil),
	}
	orchestrator := ingest.New(deps)
	exec := executor.NewWithLimit(pipelineStore, orchestrator, envInt("SCHEDULER_MAX_CONCURRENT_RUNS", executor.DefaultMaxConcurrentRuns))

	svc := service.New(pipelineStore, exec)
	srv.Pipelines = svc

	checkInterval := envDuration("SCHEDULER_CHECK_INTERVAL", 30*time.Second)
	misfireGrace := time.Duration(envInt("SCHEDULER_MISFIRE_GRACE_SEC", 300)) * time.Second
	sched := scheduler.New(pipelineStore, exec, checkInterval, misfireGrace)
	sched.Start(ctx)
	slog.Info("scheduler started", "check_interval", checkInterval, "misfire_grace", misfireGrace)

	if seedPath := os.Getenv("PIPELINES_SEED_FILE"); seedPath != "" {
		seedPipelines(ctx, svc, seedPath)
	}

	warnDefaultCredentials()

	if corsEnv := os.Getenv("CORS_ORIGINS"); corsEnv != "" {
		srv.CORSOrigins = strings.Split(corsEnv, ",")
	}

	if rl := os.Getenv("RATE_LIMIT"); rl != "0" {
		cfg := api.DefaultRateLimitConfig()
		srv.RateLimit = &cfg
		slog.Info("rate limiting enabled", "rps", cfg.RequestsPerSecond, "burst", cfg.Burst)
	}

	srv.SSELimiter = api.NewSSELimiter()

	router := api.NewRouter(srv)

	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("RAT_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS13,
		},
	}

	errCh := make(chan error, 1)
	tlsCertFile, tlsKeyFile := os.Getenv("TLS_CERT_FILE"), os.Getenv("TLS_KEY_FILE")
	if tlsCertFile != "" && tlsKeyFile != "" {
		go func() { errCh <- httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile) }()
		slog.Info("starting ratd (HTTPS)", "addr", addr)
	} else {
		go func() { errCh <- httpServer.ListenAndServe() }()
		slog.Info("starting ratd", "addr", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: scheduler (stop firing new runs) → rate limiter →
	// database pool. In-flight executor runs are not waited on: they are
	// idempotent to interrupt (the pipeline is left ACTIVE and the next
	// scheduler tick will not re-fire it, but it will also never complete —
	// an operator restarting ratd mid-run should expect to re-trigger it).
	sched.Stop()
	slog.Info("scheduler stopped")
	if srv.RateLimiterStop != nil {
		srv.RateLimiterStop()
		slog.Info("rate limiter stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("ratd shutdown complete")
}

func wireUploadStore(ctx context.Context, srv *api.Server) {
	s3Endpoint := os.Getenv("S3_ENDPOINT")
	if s3Endpoint == "" {
		return
	}
	bucket := envOr("S3_BUCKET", "rat-uploads")
	uploadStore, err := storage.NewUploadStore(ctx, s3Endpoint, os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), bucket, os.Getenv("S3_USE_SSL") == "true")
	if err != nil {
		slog.Error("failed to connect to S3 for upload staging", "error", err)
		os.Exit(1)
	}
	srv.S3Health = storage.NewHealthChecker(uploadStore)
	slog.Info("upload store initialized", "endpoint", s3Endpoint, "bucket", bucket)
}

func seedPipelines(ctx context.Context, svc *service.PipelineService, path string) {
	pipelines, err := seed.LoadFile(path)
	if err != nil {
		slog.Error("failed to load pipeline seed file", "path", path, "error", err)
		os.Exit(1)
	}

	existing, err := svc.List(ctx)
	if err != nil {
		slog.Error("failed to list existing pipelines before seeding", "error", err)
		os.Exit(1)
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	for _, sp := range pipelines {
		if byName[sp.Name] {
			slog.Info("seed: pipeline already exists, skipping", "name", sp.Name)
			continue
		}
		p := &domain.Pipeline{
			Name:        sp.Name,
			Description: sp.Description,
			Config: domain.PipelineConfig{
				Ingestor:     sp.Ingestor,
				RunFrequency: sp.RunFrequency,
			},
		}
		if _, err := svc.Create(ctx, p); err != nil {
			slog.Error("seed: failed to create pipeline", "name", sp.Name, "error", err)
			continue
		}
		slog.Info("seed: pipeline created", "name", sp.Name)
	}
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envQueueSize() int {
	return envInt("SSE_LOG_QUEUE_MAX_SIZE", logbus.DefaultQueueSize)
}
