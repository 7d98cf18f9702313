package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity_service/internal/auth"
	"identity_service/internal/config"
	"identity_service/internal/http_server/handlers/login"
	"identity_service/internal/http_server/handlers/logout"
	"identity_service/internal/http_server/handlers/me"
	oauthHandler "identity_service/internal/http_server/handlers/oauth"
	"identity_service/internal/http_server/handlers/refresh"
	"identity_service/internal/http_server/handlers/register"
	"identity_service/internal/ledger"
	jwtlib "identity_service/internal/lib/jwt"
	"identity_service/internal/metrics"
	rateLimit "identity_service/internal/middleware/ratelimit"
	"identity_service/internal/oauth"
	"identity_service/internal/storage/postgres"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const purgeInterval = time.Hour

func main() {
	cfg := config.MustLoad("./config/config.yaml")

	log := setupLogger(cfg.Env)

	log.Info("starting identity service", slog.String("env", cfg.Env))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	storage, err := postgres.New(ctx, cfg)
	if err != nil {
		log.Error("failed to connect postgres", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	codec, err := jwtlib.New(cfg.Tokens.SigningSecret, cfg.Tokens.Algorithm, cfg.Tokens.AccessTokenTTL)
	if err != nil {
		log.Error("failed to build token codec", slog.String("err", err.Error()))
		os.Exit(1)
	}

	tokenLedger := ledger.New(log, storage, cfg.Tokens.RefreshTokenTTL)

	authService := auth.New(log, storage, storage, tokenLedger, codec)

	providers := oauth.NewClient(cfg)

	go runPurgeLoop(ctx, log, tokenLedger)

	router := setupRouter(log, authService, providers, cfg)

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server is running", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", slog.String("err", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("Shutting down HTTP server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", slog.String("err", err.Error()))
	} else {
		log.Info("Server stopped gracefully")
	}

	log.Info("Main service stopped")
}

func setupRouter(
	log *slog.Logger,
	authService *auth.Auth,
	providers *oauth.Client,
	cfg *config.Config,
) *chi.Mux {
	refreshTTL := cfg.Tokens.RefreshTokenTTL
	secure := cfg.IsProd()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.With(rateLimit.Register()).Post("/register",
		register.New(log, authService),
	)
	r.With(rateLimit.Login()).Post("/login",
		login.New(log, authService, refreshTTL, secure),
	)
	r.With(rateLimit.Refresh()).Post("/refresh",
		refresh.New(log, authService, refreshTTL, secure),
	)
	r.With(rateLimit.Logout()).Post("/logout",
		logout.New(log, authService, secure),
	)
	r.With(rateLimit.Me()).Get("/me",
		me.New(log, authService),
	)
	r.With(rateLimit.OAuth()).Post("/oauth/{provider}",
		oauthHandler.New(log, authService, providers, refreshTTL, secure),
	)
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	return r
}

// runPurgeLoop periodically drops revoked and expired refresh token rows.
func runPurgeLoop(ctx context.Context, log *slog.Logger, tokenLedger *ledger.Ledger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	purge := func() {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		if _, err := tokenLedger.PurgeExpired(purgeCtx); err != nil {
			log.Error("failed to purge refresh tokens", slog.String("err", err.Error()))
		}
	}

	purge()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purge()
		}
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
