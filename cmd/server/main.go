package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/org/ephemera/internal/api"
	"github.com/org/ephemera/internal/audit"
	"github.com/org/ephemera/internal/auth"
	"github.com/org/ephemera/internal/config"
	"github.com/org/ephemera/internal/core"
	"github.com/org/ephemera/internal/crypto"
	"github.com/org/ephemera/internal/relay"
	"github.com/org/ephemera/internal/storage"
	"github.com/org/ephemera/migrations"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	key, err := core.LoadMessageKey(core.KeySource{Hex: cfg.EncryptionKey, File: cfg.KeyFile})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load encryption key")
	}
	if key.Ephemeral() {
		log.Warn().Msg("no encryption key configured; using a random key, stored messages will be unreadable after restart")
	}
	cipher, err := crypto.NewCipher(key.Bytes())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cipher")
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Backend).Msg("failed to open backend")
	}
	store := storage.NewStore(backend, storage.WithMaxViews(cfg.MaxViews))
	defer store.Close()
	log.Info().Str("backend", cfg.Backend).Msg("backend ready")

	svc := relay.New(store, cipher, relay.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		DefaultViews:    cfg.DefaultViews,
	})

	admin := auth.NewAdminGuard(cfg.AdminToken)
	if !admin.Enabled() {
		log.Info().Msg("admin token not set, DELETE /v1/messages/{id} is disabled")
	}

	srv := api.NewServer(svc, admin, audit.NewLogger(), api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		BaseURL:     cfg.BaseURL(),
	})

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Str("public_url", cfg.BaseURL()).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}

func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		if err := storage.RunMigrations(cfg.DBUrl, migrationFiles(cfg.MigrationsDir)); err != nil {
			return nil, err
		}
		log.Info().Msg("migrations applied")
		return storage.NewPostgresBackend(ctx, cfg.DBUrl)
	case config.BackendRedis:
		return storage.NewRedisBackend(ctx, cfg.RedisURL)
	case config.BackendSQLite:
		return storage.NewSQLiteBackend(ctx, cfg.SQLitePath)
	case config.BackendMemory:
		log.Warn().Msg("memory backend selected, messages do not survive a restart")
		return storage.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// migrationFiles prefers an on-disk migrations directory so operators can
// ship extra migrations, and falls back to the embedded set.
func migrationFiles(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	return migrations.FS
}
