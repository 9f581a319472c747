package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"html2image/internal/config"
	"html2image/internal/delivery"
	"html2image/internal/http/handlers"
	"html2image/internal/http/server"
	"html2image/internal/infra/cache"
	"html2image/internal/infra/chrome"
	"html2image/internal/infra/logging"
	"html2image/internal/infra/postgres"
	"html2image/internal/infra/ratelimit"
	"html2image/internal/infra/storage"
	"html2image/internal/pipeline"
	"html2image/internal/render"
	"html2image/internal/tokens"
)

// Version is set at build time via ldflags.
var Version = "dev"

type cliFlags struct {
	config   string
	logLevel string
	version  bool
}

func parseFlags(args []string) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("html2image", flag.ContinueOnError)
	fs.StringVarP(&f.config, "config", "c", "", "path to the YAML config (default $CONFIG_PATH or config.yaml)")
	fs.StringVar(&f.logLevel, "log-level", "", "override logger.level")
	fs.BoolVarP(&f.version, "version", "v", false, "print the version and exit")
	if err := fs.Parse(args[1:]); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

func main() {
	flags, err := parseFlags(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if flags.version {
		fmt.Println(Version)
		return
	}
	// Error ignored: runtime defaults apply when GOMAXPROCS is invalid.
	_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))

	if flags.config != "" {
		_ = os.Setenv("CONFIG_PATH", flags.config)
	}
	cfg := config.Load()
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	app, cleanup, err := buildApp(cfg)
	if err != nil {
		logging.Error("Failed to start", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, stop, idleConnsClosed)
	<-idleConnsClosed
}

// buildApp wires every component from cfg. The returned cleanup releases
// Chrome, Redis and Postgres resources; on error everything is already released.
func buildApp(cfg config.Config) (*fiber.App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	pool, err := chrome.NewPool(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("chrome pool: %w", err)
	}
	closers = append(closers, pool.Close)
	engine := render.NewEngine(pool, render.OptionsFromConfig(cfg))

	var (
		uploader pipeline.Uploader
		deleter  handlers.ImageDeleter
	)
	if cfg.Storage.Enabled() {
		store, err := storage.NewS3Store(cfg.Storage)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("object storage: %w", err)
		}
		up := storage.NewUploader(store, cfg.Storage)
		uploader, deleter = up, up
		logging.Info("Object storage configured", "bucket", store.Bucket())
	} else {
		logging.Warn("Object storage not configured, url delivery disabled")
	}

	opts := []pipeline.Option{pipeline.WithLimits(cfg.DomainLimits())}
	if cfg.Cache.ImageCacheEnabled && cfg.Cache.RedisHost != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.ImageCacheDB,
		})
		closers = append(closers, func() { _ = rdb.Close() })
		opts = append(opts, pipeline.WithImageCache(cache.NewImageCache(rdb, cfg.Cache.ImageCacheTTL)))
	}

	svc := pipeline.NewService(engine, uploader, delivery.NewAssembler(), opts...)

	var tokenCache *tokens.Cache
	if cfg.Auth.Enabled() {
		tokenCache, err = startTokenReloader(cfg, &closers)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	ready := func() bool {
		if tokenCache != nil && !tokenCache.Ready() {
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return engine.Healthy(ctx)
	}

	app := server.New(server.Deps{
		Config:  cfg,
		Service: svc,
		Deleter: deleter,
		Stats:   pool,
		Tokens:  tokenCache,
		Store: ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		}),
		Ready:   ready,
		Version: Version,
	})
	return app, cleanup, nil
}

func startTokenReloader(cfg config.Config, closers *[]func()) (*tokens.Cache, error) {
	dsn, err := postgres.DSN(cfg.Auth.Postgres)
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	db := postgres.NewDB()
	*closers = append(*closers, func() { _ = db.Close() })

	cache := tokens.NewCache()
	reloader := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), cache, cfg.Auth.ReloadInterval)

	ctx, cancel := context.WithCancel(context.Background())
	*closers = append(*closers, cancel)

	loadCtx, cancelLoad := context.WithTimeout(ctx, 10*time.Second)
	if err := reloader.LoadOnce(loadCtx); err != nil {
		// Requests get 503 until a later reload succeeds.
		logging.Error("Failed to load API tokens", "error", err)
	} else {
		logging.Info("API tokens loaded", "count", cache.Len())
	}
	cancelLoad()
	reloader.Start(ctx)
	return cache, nil
}

// startServer starts the Fiber app and shuts it down once stop fires.
func startServer(app *fiber.App, cfg config.Config, stop <-chan os.Signal, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	<-stop

	logging.Warn("Shutdown signal received, closing server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
