package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/duoledger/internal/auth"
	"github.com/mmynk/duoledger/internal/config"
	"github.com/mmynk/duoledger/internal/metrics"
	"github.com/mmynk/duoledger/internal/middleware"
	"github.com/mmynk/duoledger/internal/service"
	"github.com/mmynk/duoledger/internal/storage"
	"github.com/mmynk/duoledger/internal/storage/postgres"
	"github.com/mmynk/duoledger/internal/storage/sqlite"
	"github.com/mmynk/duoledger/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

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
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	broker := storage.NewBroker()
	broker.Observe(func(c storage.Change) { m.ObserveNotification(string(c.Event)) })
	m.TrackSubscriptions(broker.Len)

	store, err := openStore(ctx, cfg, broker)
	if err != nil {
		return err
	}
	defer store.Close()

	issuer := auth.NewIssuer(auth.IssuerConfig{
		AllowList:  cfg.AllowList(),
		Tokens:     auth.NewTokenManager(cfg.Secret),
		Mailer:     auth.LogMailer{},
		LinkTTL:    cfg.LinkTTL,
		SessionTTL: cfg.SessionTTL,
	})

	mux := http.NewServeMux()

	// Register Connect services
	ledgerPath, ledgerHandler := service.NewLedgerServiceHandler(
		service.NewLedgerService(store, nil),
		connect.WithInterceptors(middleware.Authenticated(m, issuer)...),
	)
	mux.Handle(ledgerPath, ledgerHandler)

	authPath, authHandler := service.NewAuthServiceHandler(
		service.NewAuthService(issuer, nil),
		connect.WithInterceptors(middleware.Public(m)...),
	)
	mux.Handle(authPath, authHandler)

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	g, ctx := errgroup.WithContext(ctx)

	// Wrap with h2c for HTTP/2 without TLS (required for Connect streaming).
	// Request contexts derive from ctx so open Watch streams end on shutdown.
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(loggingMiddleware(corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		slog.Info("Connect server starting", "address", cfg.ListenAddr, "driver", cfg.Driver)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore opens the store selected by DB_DRIVER, publishing to broker.
func openStore(ctx context.Context, cfg *config.Config, broker *storage.Broker) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.DatabaseURL, postgres.WithBroker(broker))
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", cfg.Driver)
		return store, nil
	default:
		store, err := sqlite.New(cfg.DBPath, sqlite.WithBroker(broker))
		if err != nil {
			return nil, err
		}
		slog.Info("Storage initialized", "driver", cfg.Driver, "database", cfg.DBPath)
		return store, nil
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		slog.Debug("Request received",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		next.ServeHTTP(w, r)

		slog.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
