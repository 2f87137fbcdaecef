package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Daryl2002/timetable-cache/internal/cache"
	"github.com/Daryl2002/timetable-cache/internal/platform/config"
	"github.com/Daryl2002/timetable-cache/internal/platform/observability"
	"github.com/Daryl2002/timetable-cache/internal/platform/resilience"
	"github.com/Daryl2002/timetable-cache/internal/platform/store"
	"github.com/Daryl2002/timetable-cache/internal/platform/worker"
	"github.com/Daryl2002/timetable-cache/internal/source"
)

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Load configuration
	log.Println("Loading configuration...")
	cfg := config.MustLoad(*configPath)

	// Setup observability (foundational - must be first)
	log.Println("Setting up observability...")
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	metrics, err := observability.NewMetrics("timetable-cache", cfg.Observability.Metrics.Enabled)
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	logger.Info("observability setup complete")

	// Durable tier
	logger.Info("opening durable store", "backend", cfg.Store.Backend)
	durable, err := openStore(ctx, cfg)
	if err != nil {
		logger.LogError(ctx, "failed to open durable store", err)
		log.Fatalf("Failed to open durable store: %v", err)
	}
	if durable != nil {
		defer durable.Close()
	}

	// Source API client with retry and a circuit breaker; breaker state
	// transitions are exported as a gauge
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "source",
		FailureThreshold: cfg.Source.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Source.Breaker.SuccessThreshold,
		Timeout:          cfg.Source.Breaker.Timeout,
		OnStateChange: func(from, to resilience.State) {
			logger.Info("source circuit breaker state changed", "from", from.String(), "to", to.String())
			metrics.SetCircuitBreakerState(ctx, "source", int64(to))
		},
	})

	fetcher := source.NewClient(source.ClientConfig{
		Timeout: cfg.Source.Timeout,
		Logger:  logger,
		RetryConfig: resilience.RetryConfig{
			MaxAttempts: cfg.Source.Retry.MaxAttempts,
			BaseDelay:   cfg.Source.Retry.BaseDelay,
			MaxDelay:    cfg.Source.Retry.MaxDelay,
			Jitter:      cfg.Source.Retry.Jitter,
		},
		CircuitBreaker: breaker,
	})

	// Cache service
	logger.Info("creating cache service...")
	svc, err := cache.NewService(cache.ServiceConfig{
		Fetcher:   fetcher,
		Durable:   durable,
		Retention: cfg.Cache.Retention,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create cache service", err)
		log.Fatalf("Failed to create cache service: %v", err)
	}

	// Warm the cache before serving
	if cfg.Warmup.Enabled && len(cfg.Warmup.URLs) > 0 {
		warmer := cache.NewWarmer(logger, cache.WarmupConfig{
			Timeout:  cfg.Warmup.Timeout,
			Parallel: cfg.Warmup.Parallel,
		})
		warmer.RegisterProvider(cache.NewResourceProvider("timetable", svc, cfg.Warmup.URLs))

		results := warmer.Warmup(ctx)
		if results.HasErrors() {
			logger.LogWarn(ctx, "cache warmup finished with errors", "errors", results.Errors)
		}
	}

	// Start HTTP server for health checks, metrics and cache admin
	logger.Info("starting HTTP server...")
	go startHTTPServer(cfg.HTTP.Port, svc, metrics, logger)

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("timetable cache running")

	// Wait for shutdown signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully stopping...")
	logger.Info("application stopped")
}

// openStore opens the configured durable-tier backend. A nil store
// means the cache runs memory-only.
func openStore(ctx context.Context, cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisKV(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	case "dynamodb":
		return store.NewDynamoKV(ctx, cfg.DynamoDB.Region, cfg.DynamoDB.Endpoint, cfg.DynamoDB.Table)
	case "memory":
		return store.NewMemoryKV(0), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// startHTTPServer starts the HTTP server for health checks, metrics and
// cache administration
func startHTTPServer(port int, svc *cache.Service, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Cache administration
	mux.HandleFunc("/cache/stats", handleStats(svc))
	mux.HandleFunc("/cache/entries", handleEntries(svc, logger))
	mux.HandleFunc("/cache/clear", handleClear(svc, logger))
	mux.HandleFunc("/cache/clear-stale", handleClearStale(svc, logger))
	mux.HandleFunc("/cache/refresh", handleRefresh(svc, logger))

	addr := fmt.Sprintf(":%d", port)
	logger.Info("HTTP server listening", "address", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.LogError(context.Background(), "HTTP server error", err)
	}
}

func handleStats(svc *cache.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"stats":      svc.Stats(),
			"memoryOnly": svc.MemoryOnly(),
		})
	}
}

func handleEntries(svc *cache.Service, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.List(r.Context())
		if err != nil {
			logger.LogError(r.Context(), "failed to list entries", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
	}
}

func handleClear(svc *cache.Service, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		entity := r.URL.Query().Get("entity")
		removed, err := svc.Clear(r.Context(), entity)
		if err != nil {
			logger.LogError(r.Context(), "failed to clear cache", err, "entity", entity)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		logger.Info("cache cleared", "entity", entity, "removed", removed)
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func handleClearStale(svc *cache.Service, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		removed, err := svc.ClearStale(r.Context())
		if err != nil {
			logger.LogError(r.Context(), "failed to clear stale entries", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// handleRefresh force-refreshes a batch of URLs through a bounded
// worker pool and reports per-URL outcomes
func handleRefresh(svc *cache.Service, logger *observability.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			URLs    []string `json:"urls"`
			Workers int      `json:"workers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if len(req.URLs) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "urls is required"})
			return
		}
		if req.Workers <= 0 {
			req.Workers = 4
		}

		pool := worker.NewPool(r.Context(), req.Workers, len(req.URLs))
		defer pool.Close()

		jobs := make([]worker.Job, 0, len(req.URLs))
		for _, u := range req.URLs {
			u := u
			jobs = append(jobs, worker.Job{
				ID: u,
				Execute: func(ctx context.Context) (json.RawMessage, error) {
					return svc.Fetch(ctx, u, cache.Options{ForceRefresh: true})
				},
			})
		}

		results := pool.SubmitAndWait(jobs)

		failures := make(map[string]string)
		for _, res := range results {
			if res.Err != nil {
				failures[res.JobID] = res.Err.Error()
			}
		}

		logger.Info("bulk refresh completed",
			"requested", len(req.URLs),
			"failed", len(failures),
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"refreshed": len(results) - len(failures),
			"failed":    failures,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already out; nothing useful left to do
		return
	}
}
