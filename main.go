package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/leaselink/messaging/internal/autoreply"
	"github.com/leaselink/messaging/internal/config"
	"github.com/leaselink/messaging/internal/crypto"
	"github.com/leaselink/messaging/internal/handlers"
	"github.com/leaselink/messaging/internal/identity"
	"github.com/leaselink/messaging/internal/store/sqlstore"
	"github.com/leaselink/messaging/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("invalid configuration")
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// The at-rest key is derived once from the secret; the secret itself
	// is not kept.
	codec, err := crypto.NewCodec(crypto.NewDerivedKeyProvider(cfg.MessageSecret))
	if err != nil {
		logger.Fatal().Err(err).Msg("message codec init failed")
	}

	store, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL, codec)
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer store.Close()
	logger.Info().Str("driver", cfg.DatabaseDriver).Msg("connected to database")

	resolver := identity.NewResolver(store)
	engine := autoreply.NewEngine(store, resolver, logger)

	hub := ws.NewHub(logger)
	go hub.Run()

	gateway := ws.NewGateway(hub, store, resolver, engine, logger)
	healthHandler := &handlers.HealthHandler{Store: store}

	r := mux.NewRouter()
	r.Use(loggingMiddleware(logger))

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(gateway, w, r)
	})
	r.HandleFunc("/healthz", healthHandler.Health).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("env", cfg.Env).Msg("starting messaging server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
