// Package main is the entry point for the saasbase API server.
//
// It loads configuration, connects the database pool, wires the vendor
// clients and domain services, builds the HTTP server with the core chassis
// (middleware, routing, health checks), and listens until SIGINT/SIGTERM
// triggers a graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/api/handlers"
	"saasbase/internal/auth"
	"saasbase/internal/billing"
	"saasbase/internal/config"
	"saasbase/internal/core"
	"saasbase/internal/db"
	"saasbase/internal/external"
	"saasbase/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("saasbase API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	clock := types.RealClock{}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	// Repositories on the pool; the webhook dispatcher gets transaction-bound
	// copies through its store.
	userRepo := db.NewUserRepo(pool, logger)
	sessionRepo := db.NewSessionRepo(pool, logger)
	tokenRepo := db.NewVerificationTokenRepo(pool, logger)

	// Vendor clients.
	httpClient := &http.Client{Timeout: 20 * time.Second}
	stripeClient := external.NewStripeClient(httpClient, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		Logger:    logger,
	})
	emailClient := external.NewResendClient(httpClient, external.ResendClientConfig{
		APIKey:      cfg.Email.ResendAPIKey,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Logger:      logger,
	})
	oauthProviders := buildOAuthProviders(cfg, httpClient, logger)

	// Auth services.
	sessionManager := auth.NewSessionManager(sessionRepo, userRepo, cfg.Auth.SessionDuration, clock, logger)
	authService := auth.NewService(userRepo, tokenRepo, sessionManager, emailClient, auth.ServiceConfig{
		AppURL:            cfg.Server.AppURL,
		MagicLinkDuration: cfg.Auth.MagicLinkDuration,
	}, clock, logger)

	// Webhook pipeline.
	verifier, err := billing.NewVerifier(cfg.Billing.StripeWebhookSecret, cfg.Billing.SignatureTolerance)
	if err != nil {
		return fmt.Errorf("creating webhook verifier: %w", err)
	}
	dispatcher := billing.NewDispatcher(billing.NewPgStore(pool, logger), clock, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Sessions = sessionManager
	srv.OnShutdown(pool.Close)

	validator := core.NewValidator(logger)

	webhookHandler := handlers.NewStripeWebhookHandler(verifier, dispatcher, logger)
	authHandler := handlers.NewAuthHandler(authService, oauthProviders, validator, handlers.AuthHandlerConfig{
		AppURL:       cfg.Server.AppURL,
		CookieSecure: cfg.Auth.CookieSecure,
	}, logger)
	billingHandler := handlers.NewBillingHandler(stripeClient, validator, cfg.Server.AppURL, logger)

	srv.PublicRegistrars = append(srv.PublicRegistrars, webhookHandler.RegisterRoutes)
	srv.RouteRegistrars = append(srv.RouteRegistrars,
		authHandler.RegisterRoutes,
		func(r chi.Router) {
			r.Group(func(pr chi.Router) {
				pr.Use(srv.RequireAuth)
				authHandler.RegisterProtectedRoutes(pr)
				billingHandler.RegisterRoutes(pr)
			})
		},
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// buildOAuthProviders wires each OAuth provider that has credentials
// configured; the rest stay unmounted.
func buildOAuthProviders(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) map[string]external.OAuthProvider {
	providers := map[string]external.OAuthProvider{}
	callback := func(name string) string {
		return cfg.Server.AppURL + "/v1/auth/oauth/" + name + "/callback"
	}

	if cfg.OAuth.GitHubClientID != "" {
		providers["github"] = external.NewGitHubProvider(httpClient, external.GitHubProviderConfig{
			ClientID:     cfg.OAuth.GitHubClientID,
			ClientSecret: cfg.OAuth.GitHubClientSecret,
			RedirectURL:  callback("github"),
			Logger:       logger,
		})
	}
	if cfg.OAuth.GoogleClientID != "" {
		providers["google"] = external.NewGoogleProvider(httpClient, external.GoogleProviderConfig{
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  callback("google"),
			Logger:       logger,
		})
	}
	return providers
}

// newLogger builds the process-wide JSON logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// runHTTPServer starts the HTTP listener and blocks until a shutdown signal
// or a server error.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return srv.Shutdown(shutdownCtx)
}
