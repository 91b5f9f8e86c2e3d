package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wopihost/internal/cache"
	"wopihost/internal/clock"
	"wopihost/internal/config"
	"wopihost/internal/database"
	"wopihost/internal/database/migration"
	handlers "wopihost/internal/http/handler"
	"wopihost/internal/http/middleware"
	"wopihost/internal/logging"
	"wopihost/internal/otel"
	"wopihost/internal/repository"
	"wopihost/internal/repository/memory"
	"wopihost/internal/repository/postgres"
	"wopihost/internal/service"
	"wopihost/internal/storage"
	"wopihost/internal/wopi/discovery"
	"wopihost/internal/wopi/proof"
	"wopihost/internal/wopi/token"
)

// @title WOPI Host API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	clk := clock.Real{}

	// Metadata lives in PostgreSQL; without DB_HOST the process keeps it in memory.
	var (
		db   *sql.DB
		repo repository.DocumentRepository
	)
	if cfg.Database.Host != "" {
		db, err = database.NewPostgres(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migration.EnsureMigrated(ctx, db, log, cfg.Database.Host); err != nil {
			return err
		}
		repo = postgres.NewDocumentPostgres(db)
	} else {
		log.Warn("DB_HOST not set, using in-memory metadata repository")
		repo = memory.NewDocumentMemory()
	}

	objStore, err := storage.New(cfg.Storage)
	if err != nil {
		return err
	}

	// Discovery entries are shared across instances through Redis when configured.
	var discoveryStore cache.Cache
	if cfg.Redis.Addr != "" {
		rc, cli, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer cli.Close()
		discoveryStore = rc
	} else {
		discoveryStore = cache.NewMemoryCache(clk)
	}

	tokens, err := token.New(cfg.Wopi.TokenSecret, cfg.Wopi.TokenIssuer, clk)
	if err != nil {
		return err
	}

	fetcher := discovery.NewHTTPFetcher(cfg.Wopi.DiscoveryURL, time.Duration(cfg.Wopi.DiscoveryTimeoutSec)*time.Second)
	feed := discovery.NewCache(discoveryStore, fetcher, log)

	deps := service.WopiDeps{
		Repo:    repo,
		Store:   objStore,
		Tokens:  tokens,
		Actions: feed,
		Clock:   clk,
		Logger:  log,
	}
	if cfg.Wopi.ProofEnabled {
		deps.Proof = proof.NewVerifier(feed)
	} else {
		log.Warn("WOPI proof verification disabled")
	}
	wopiSvc := service.NewWopiService(deps)
	docSvc := service.NewDocumentService(objStore, repo, tokens, feed, clk)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMiddleware, err := middleware.NewPrometheusMiddleware(reg)
	if err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(otelfiber.Middleware())
	app.Use(middleware.Logger(log))
	app.Use(promMiddleware.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected services
	handlers.RegisterRoutes(app, db, docSvc, wopiSvc, log)

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(sctx)
	}()

	addr := ":" + cfg.Port
	log.Info("listening", slog.String("addr", addr), slog.String("storage", cfg.Storage.Backend))
	return app.Listen(addr)
}
