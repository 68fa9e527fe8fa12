package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tabsplit/internal/allocation"
	"github.com/mmynk/tabsplit/internal/auth"
	"github.com/mmynk/tabsplit/internal/config"
	"github.com/mmynk/tabsplit/internal/ingest"
	"github.com/mmynk/tabsplit/internal/metrics"
	"github.com/mmynk/tabsplit/internal/middleware"
	"github.com/mmynk/tabsplit/internal/service"
	"github.com/mmynk/tabsplit/internal/storage"
	"github.com/mmynk/tabsplit/internal/storage/bolt"
	"github.com/mmynk/tabsplit/internal/storage/sqlite"
	"github.com/mmynk/tabsplit/pkg/logging"
)

// maxRequestBytes bounds request bodies, receipt images included.
const maxRequestBytes = 10 << 20

func main() {
	logging.Setup()

	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "backend", cfg.StoreBackend, "database", cfg.DBPath)

	recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
	engine := allocation.NewEngine(store,
		allocation.WithMetrics(recorder),
		allocation.WithMaxRetries(cfg.AllocationMaxRetries),
	)
	tokens := auth.NewShareTokenManager(cfg.ShareTokenSecret, cfg.ShareTokenTTL)

	var extractor ingest.Extractor
	if cfg.GeminiAPIKey != "" {
		gemini, err := ingest.NewGeminiExtractor(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("failed to initialize receipt extractor: %w", err)
		}
		defer gemini.Close()
		extractor = gemini
		slog.Info("Receipt extraction enabled", "model", cfg.GeminiModel)
	} else {
		slog.Warn("GEMINI_API_KEY not set, receipt upload disabled")
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger)
	r.Use(cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	service.Mount(r,
		service.NewBillService(store, engine, tokens, extractor),
		service.NewAllocationService(engine),
		connect.WithInterceptors(
			middleware.RequireShareToken(tokens, service.PublicProcedures...),
			middleware.LoggingInterceptor(),
		),
		connect.WithReadMaxBytes(maxRequestBytes),
	)

	// h2c for HTTP/2 without TLS
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h2c.NewHandler(r, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Connect server starting", "address", srv.Addr, "url", fmt.Sprintf("http://localhost%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server exited")
	return nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StoreBackend == config.BackendSQLite && sqlite.IsRemote(cfg.DBPath) {
		return sqlite.NewLibSQL(cfg.DBPath, cfg.DBAuthToken)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, err
	}
	if cfg.StoreBackend == config.BackendBolt {
		return bolt.Open(cfg.DBPath)
	}
	return sqlite.New(cfg.DBPath)
}

// requestLogger logs all incoming requests. Calls rejected before the
// Connect interceptors run only show up here.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", chimw.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// cors adds CORS headers for browser access.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
