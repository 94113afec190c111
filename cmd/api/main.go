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

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"persona/api/internal/app"
	"persona/api/internal/config"
	"persona/api/internal/document"
	"persona/api/internal/export"
	"persona/api/internal/gitrepo"
	"persona/api/internal/persona"
	"persona/api/internal/search"
	"persona/api/internal/table"
)

func main() {
	if err := run(); err != nil {
		slog.Error("persona api failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, fallback, cleanup, err := openTable(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	personas := persona.NewStore(client, cfg.PersonaTable)
	if fallback == nil {
		fallback = search.NewScan(personas)
	}

	objects, err := document.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.DocumentBucket, cfg.MinioUseSSL)
	if err != nil {
		return err
	}
	documents := document.NewService(objects)

	if cfg.InitStorage {
		if err := personas.Initialise(ctx); err != nil {
			return err
		}
		if err := documents.Initialise(ctx); err != nil {
			return fmt.Errorf("initialise document bucket: %w", err)
		}
		slog.Info("Storage initialised", "table", cfg.PersonaTable, "bucket", cfg.DocumentBucket)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	defer searchService.Close()
	go searchService.Reindex(ctx)

	deps := app.Dependencies{
		Personas:  personas,
		Documents: documents,
		Search:    searchService,
		Exporter:  export.NewService(personas),
	}
	if cfg.HistoryDir != "" {
		deps.History = gitrepo.New(cfg.HistoryDir)
		slog.Info("Persona history enabled", "dir", cfg.HistoryDir)
	}

	httpServer := app.NewHTTPServer(app.New(deps), cfg.CORSOrigin, cfg.DocumentMaxBytes)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Persona API listening", "addr", cfg.Addr, "backend", cfg.TableBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Shutdown error", "err", err)
	}
	return nil
}

// openTable connects the configured table backend. The Postgres backend also
// provides full-text search; for Redis the caller falls back to a scan.
func openTable(ctx context.Context, cfg config.Config) (table.Client, search.Searcher, func(), error) {
	switch cfg.TableBackend {
	case config.BackendRedis:
		client, err := table.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return client, nil, func() { _ = client.Close() }, nil

	default:
		db, err := table.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		if err := table.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
		}
		return table.NewPostgres(db), search.NewPgFTS(db, cfg.PersonaTable), func() { _ = db.Close() }, nil
	}
}
