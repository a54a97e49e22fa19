package server

import (
	"context"
	"fmt"

	"Fanvault/cache"
	"Fanvault/config"
	"Fanvault/core/access"
	"Fanvault/core/auth"
	"Fanvault/core/delivery"
	"Fanvault/core/resolver"
	"Fanvault/core/transcode"
	"Fanvault/core/urlcache"
	"Fanvault/db"
	"Fanvault/logger"
	"Fanvault/repository"
	"Fanvault/storage"
)

// App holds the process-wide components. Build it once with NewApp and
// release it with Close.
type App struct {
	Config   *config.Config
	Store    *storage.MinioStore
	Assets   repository.MediaAssetRepository
	Access   repository.AccessRepository
	Guard    *access.Guard
	Cache    *urlcache.Cache
	Resolver *resolver.Resolver
	Delivery *delivery.Service
	Hub      *JobHub
	Runner   *transcode.Runner
	Issuer   *auth.Issuer
}

// NewApp connects storage, the database and the URL cache and wires the
// delivery and transcode services.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	issuer, err := auth.NewIssuer(cfg.JWTSecret, 0)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewMinioStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init MinIO: %w", err)
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	if err := db.AutoMigrateModels(); err != nil {
		db.CloseGormDB()
		return nil, err
	}

	urlCache, err := OpenURLCache(ctx, cfg)
	if err != nil {
		db.CloseGormDB()
		return nil, err
	}

	assets := repository.NewGormMediaAssetRepository(db.GormDB)
	accessRepo := repository.NewGormAccessRepository(db.GormDB)
	guard := access.NewGuard(accessRepo, accessRepo)
	res := resolver.New(store, resolver.Options{
		DefaultExpiry: cfg.URLDefaultExpiry,
		Timeout:       cfg.URLResolveTimeout,
		MaxAttempts:   cfg.URLResolveMaxAttempts,
	})

	hub := NewJobHub()
	go hub.Run()

	return &App{
		Config:   cfg,
		Store:    store,
		Assets:   assets,
		Access:   accessRepo,
		Guard:    guard,
		Cache:    urlCache,
		Resolver: res,
		Delivery: delivery.NewService(assets, guard, res, urlCache, delivery.Options{DefaultExpiry: cfg.URLDefaultExpiry}),
		Hub:      hub,
		Runner:   NewRunner(cfg, store, assets, hub),
		Issuer:   issuer,
	}, nil
}

// Close flushes the URL cache and closes connections.
func (a *App) Close(ctx context.Context) {
	a.Hub.Stop()
	if err := a.Cache.Close(ctx); err != nil {
		logger.Warn("failed to flush url cache on shutdown", logger.ErrorField(err))
	}
	if err := db.CloseRedis(); err != nil {
		logger.Warn("failed to close redis", logger.ErrorField(err))
	}
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("failed to close database", logger.ErrorField(err))
	}
}

// NewRunner builds a transcode runner reading sources from any bucket on
// store's client and writing renditions to store's bucket.
func NewRunner(cfg *config.Config, store *storage.MinioStore, assets transcode.AssetStore, sink transcode.EventSink) *transcode.Runner {
	return transcode.NewRunner(
		func(bucket string) storage.BlobStore { return store.Bucket(bucket) },
		store,
		transcode.NewFFmpegEncoder(cfg.FFmpegPath),
		assets,
		sink,
		transcode.Options{
			MaxInputBytes:    cfg.TranscodeMaxInputBytes,
			TempDir:          cfg.TranscodeTempDir,
			RenditionTimeout: cfg.TranscodeRenditionTimeout,
		},
	)
}

// OpenURLCache builds the URL cache on the configured backend and loads the
// persisted snapshot. Only an unreachable Redis is an error.
func OpenURLCache(ctx context.Context, cfg *config.Config) (*urlcache.Cache, error) {
	var persister urlcache.Persister
	switch cfg.URLCacheBackend {
	case "redis":
		if err := db.ConnectRedis(cfg); err != nil {
			return nil, err
		}
		persister = cache.NewRedisURLStore(db.RedisClient, "")
	case "file":
		persister = urlcache.NewFilePersister(cfg.URLCacheFile, cfg.URLCacheBudgetBytes)
	}

	c := urlcache.New(urlcache.Options{
		SafetyMargin: cfg.URLCacheSafetyMargin,
		Debounce:     cfg.URLCacheDebounce,
		BudgetBytes:  cfg.URLCacheBudgetBytes,
		MaxEntries:   cfg.URLCacheMaxEntries,
	}, persister)
	// A failed load leaves an empty, usable cache.
	_ = c.Start(ctx)
	logger.Info("url cache ready",
		logger.String("backend", cfg.URLCacheBackend),
		logger.Int("entries", c.Stats().Entries))
	return c, nil
}
