// Command authserver runs the OAuth2 authorization server.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	oauth "github.com/giantswarm/authz-server"
	"github.com/giantswarm/authz-server/instrumentation"
	"github.com/giantswarm/authz-server/internal/config"
	"github.com/giantswarm/authz-server/providers/static"
	"github.com/giantswarm/authz-server/security"
	"github.com/giantswarm/authz-server/server"
	"github.com/giantswarm/authz-server/storage"
	"github.com/giantswarm/authz-server/storage/memory"
	"github.com/giantswarm/authz-server/storage/postgres"
	"github.com/giantswarm/authz-server/storage/valkey"
	"github.com/giantswarm/authz-server/sweeper"
	"github.com/giantswarm/authz-server/tokens"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "authz-server",
		ServiceVersion: version,
		Enabled:        cfg.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to set up instrumentation: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger, inst)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := server.New(store, &server.Config{
		Issuer:                    cfg.Issuer,
		AccessTokenTTL:            cfg.AccessTokenTTL,
		RefreshTokenTTL:           cfg.RefreshTokenTTL,
		RefreshTokenPolicy:        server.RefreshTokenPolicy(cfg.RefreshTokenPolicy),
		CheckTokenAccess:          cfg.CheckTokenAccess,
		TokenKeyAccess:            cfg.TokenKeyAccess,
		AutoApproveScopes:         cfg.AutoApproveScopes,
		DisableFormAuthentication: cfg.DisableFormAuth,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	srv.SetAuditor(security.NewAuditor(logger, true))
	srv.SetInstrumentation(inst)

	if cfg.TokenFormat == config.FormatJWT {
		format, err := newJWTFormat(cfg)
		if err != nil {
			return err
		}
		srv.SetTokenFormat(format)
	}

	session := &static.HeaderSession{SharedSecret: cfg.SessionSecret}
	if cfg.UsersFile != "" {
		directory := static.NewDirectory()
		if err := loadUsers(cfg.UsersFile, directory); err != nil {
			return err
		}
		srv.SetPasswordAuthenticator(directory)
		session.Directory = directory
	}
	if cfg.ClientsFile != "" {
		if err := loadClients(ctx, cfg.ClientsFile, srv, logger); err != nil {
			return err
		}
	}

	handler, err := oauth.NewHandler(srv, session, &oauth.Config{
		CORS:       oauth.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		TrustProxy: cfg.TrustProxy,
		RateLimit:  oauth.RateLimitConfig{Rate: cfg.RateLimit, Burst: cfg.RateLimitBurst},
		LoginURL:   cfg.LoginURL,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create handler: %w", err)
	}
	defer handler.Close()

	var sweep *sweeper.Sweeper
	if cfg.Store != config.StoreMemory {
		sweep, err = sweeper.New(store, sweeper.Config{Interval: cfg.SweepInterval}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sweeper: %w", err)
		}
		sweep.SetInstrumentation(inst)
		sweep.Start()
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"healthy"}`)
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Authorization server starting",
			"addr", cfg.Addr,
			"issuer", cfg.Issuer,
			"store", cfg.Store,
			"token_format", cfg.TokenFormat)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-stop:
		logger.Info("Shutting down gracefully...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if sweep != nil {
		if err := sweep.Stop(); err != nil {
			logger.Error("Sweeper shutdown error", "error", err)
		}
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("Instrumentation shutdown error", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.Store, func(), error) {
	switch cfg.Store {
	case config.StoreValkey:
		store, err := valkey.New(valkey.Config{
			Address:  cfg.ValkeyAddr,
			Password: cfg.ValkeyPass,
			DB:       cfg.ValkeyDB,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		store.SetInstrumentation(inst)
		return store, store.Close, nil

	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.New(pool)
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
		return store, pool.Close, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		return store, store.Stop, nil
	}
}

func newJWTFormat(cfg *config.Config) (*tokens.JWT, error) {
	var (
		key *tokens.SigningKey
		err error
	)
	if cfg.SigningKeyFile != "" {
		data, readErr := os.ReadFile(cfg.SigningKeyFile)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read signing key: %w", readErr)
		}
		key, err = tokens.LoadKeyPEM(data)
	} else {
		key, err = tokens.GenerateKey(2048)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	keys, err := tokens.NewKeySet(key)
	if err != nil {
		return nil, err
	}
	return tokens.NewJWT(cfg.Issuer, keys, 0)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
