package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Fanvault/config"
	"Fanvault/core/auth"
	"Fanvault/core/delivery"
	"Fanvault/core/resolver"
	"Fanvault/core/transcode"
	"Fanvault/core/urlcache"
	"Fanvault/logger"
	"Fanvault/model"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
)

// Delivery answers URL, manifest and secure-fetch requests.
type Delivery interface {
	URL(ctx context.Context, principalID, assetID, label string, expiresIn time.Duration) (*delivery.URLResponse, error)
	Manifest(ctx context.Context, principalID, assetID string, expiresIn time.Duration) (*delivery.ManifestResponse, error)
	SecureURL(ctx context.Context, principalID, assetID, p string, tf resolver.Transform, expiresIn time.Duration) (*resolver.Result, error)
}

// JobRunner runs one transcode job to completion.
type JobRunner interface {
	Run(ctx context.Context, req transcode.Request) (*model.TranscodeManifest, error)
}

// AccessChecker answers coarse access questions outside delivery.
type AccessChecker interface {
	IsPrivileged(ctx context.Context, principalID string) bool
	CanAccess(ctx context.Context, principalID, mediaID string) bool
}

// TokenParser validates bearer tokens.
type TokenParser interface {
	ParseToken(tokenString string) (*auth.Claims, error)
}

// Handler serves the HTTP API.
type Handler struct {
	cfg      *config.Config
	tokens   TokenParser
	access   AccessChecker
	delivery Delivery
	runner   JobRunner
	hub      *JobHub
	cache    *urlcache.Cache
	jobs     *semaphore.Weighted
}

// NewHandler wires the API. cache may be nil.
func NewHandler(cfg *config.Config, tokens TokenParser, access AccessChecker, d Delivery, runner JobRunner, hub *JobHub, cache *urlcache.Cache) *Handler {
	maxJobs := int64(cfg.TranscodeMaxJobs)
	if maxJobs <= 0 {
		maxJobs = 1
	}
	return &Handler{
		cfg:      cfg,
		tokens:   tokens,
		access:   access,
		delivery: d,
		runner:   runner,
		hub:      hub,
		cache:    cache,
		jobs:     semaphore.NewWeighted(maxJobs),
	}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/api/transcode", h.AuthMiddleware(h.TranscodeHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/media/{assetId}", h.AuthMiddleware(h.MediaHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/secure-url", h.AuthMiddleware(h.SecureURLHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/cache/stats", h.AuthMiddleware(h.CacheStatsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/ws/jobs", h.AuthMiddleware(h.JobEventsHandler)).Methods(http.MethodGet)

	return router
}

// Start runs the API until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.Close(closeCtx)
	}()

	h := NewHandler(cfg, app.Issuer, app.Guard, app.Delivery, app.Runner, app.Hub, app.Cache)

	// 设置服务器超时. Transcode responses are synchronous, so there is no
	// write timeout.
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logger.String("addr", cfg.ServerAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
