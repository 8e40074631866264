package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/xiaoyuanzhu-com/opencode-bot/db"
	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/notifications"
	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
	"github.com/xiaoyuanzhu-com/opencode-bot/sessiondir"
)

// Server owns and coordinates all application components
type Server struct {
	cfg *Config

	// Components (owned by server)
	database     *db.DB
	client       *opencode.Client
	cache        *sessiondir.Cache
	notifService *notifications.Service
	syncWorker   *sessiondir.SyncWorker

	// Started once warmup has resolved storage roots
	mu      sync.Mutex
	watcher *sessiondir.StorageWatcher

	backgroundOnce sync.Once
	warmupDone     chan struct{}

	// Shutdown context - cancelled when server is shutting down.
	// Long-running handlers (WebSocket) should listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a new server with all components initialized
func New(cfg *Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		warmupDone:     make(chan struct{}),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	// 1. Open database
	log.Info().Str("path", cfg.DatabasePath).Msg("initializing database")
	database, err := db.Open(cfg.ToDBConfig())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.database = database

	// 2. Apply persisted log level
	if level, err := database.GetSetting(ctx, db.SettingLogLevel); err == nil && level != "" {
		log.SetLevel(level)
		log.Info().Str("level", level).Msg("log level set from settings")
	}

	// 3. Create opencode client
	client, err := opencode.NewClient(cfg.ToOpencodeConfig())
	if err != nil {
		cancel()
		database.Close()
		return nil, fmt.Errorf("failed to create opencode client: %w", err)
	}
	s.client = client

	// 4. Create notifications service
	log.Info().Msg("initializing notifications service")
	s.notifService = notifications.NewService()

	// 5. Create session directory cache and its sync worker
	log.Info().Str("opencode", client.BaseURL()).Msg("initializing session directory cache")
	opts := cfg.ToCacheOptions()
	opts.Store = database
	opts.Client = client
	opts.Notify = s.notifService.NotifyDirectoriesChanged
	opts.SyncFailed = s.notifService.NotifySyncFailed
	s.cache = sessiondir.New(opts)
	s.syncWorker = sessiondir.NewSyncWorker(s.cache, cfg.SyncInterval)

	// 6. Setup HTTP router
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// Gzip compression (skip the WebSocket endpoint)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/api/notifications/ws",
	})))

	s.router.SetTrustedProxies(nil)

	// Note: API routes are set up by calling code (main.go)
	// to avoid import cycles
}

// StartBackground warms the cache without blocking, then starts the storage
// watcher and the periodic sync worker. Safe to call more than once.
func (s *Server) StartBackground() {
	s.backgroundOnce.Do(func() {
		go s.runWarmup()
	})
}

func (s *Server) runWarmup() {
	defer close(s.warmupDone)

	if err := s.cache.Warmup(s.shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("initial session sync failed, will retry in background")
	}
	if s.shutdownCtx.Err() != nil {
		return
	}

	if s.cfg.WatchStorage {
		roots := s.cache.StorageRoots(s.shutdownCtx)
		// A local session change means opencode has newer activity to sync
		watcher := sessiondir.NewStorageWatcher(s.cache, roots, s.syncWorker.Nudge)
		if err := watcher.Start(); err != nil {
			log.Info().Err(err).Msg("session storage watcher not started")
		} else {
			s.mu.Lock()
			s.watcher = watcher
			s.mu.Unlock()
		}
	}

	s.syncWorker.Start()
}

// WaitForWarmup blocks until background warmup has finished
func (s *Server) WaitForWarmup(ctx context.Context) error {
	select {
	case <-s.warmupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start starts all background services and the HTTP server
func (s *Server) Start() error {
	log.Info().Msg("starting server components")
	s.StartBackground()

	s.http = &http.Server{
		Addr:     fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	log.Info().
		Str("addr", s.http.Addr).
		Str("env", s.cfg.Env).
		Msg("HTTP server starting")

	// Start HTTP server (blocks)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// 1. Signal long-running handlers and warmup to stop
	s.shutdownCancel()

	// Give handlers a moment to process the cancellation and close connections.
	time.Sleep(100 * time.Millisecond)

	// 2. Disconnect notification subscribers
	s.notifService.Shutdown()

	// 3. Shutdown HTTP server (stop accepting new requests and wait for existing ones)
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// 4. Stop background services (in reverse order of startup)
	s.backgroundOnce.Do(func() { close(s.warmupDone) })
	if err := s.WaitForWarmup(ctx); err != nil {
		log.Warn().Err(err).Msg("warmup still running at shutdown")
	} else {
		s.syncWorker.Stop()
	}

	s.mu.Lock()
	watcher := s.watcher
	s.mu.Unlock()
	if watcher != nil {
		watcher.Stop()
	}

	// 5. Persist pending cache writes before the database goes away
	if err := s.cache.Close(ctx); err != nil {
		log.Error().Err(err).Msg("session directory cache flush error")
	}

	// Close database last
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// Component accessors for API handlers
func (s *Server) DB() *db.DB                            { return s.database }
func (s *Server) Client() *opencode.Client              { return s.client }
func (s *Server) Cache() *sessiondir.Cache              { return s.cache }
func (s *Server) SyncWorker() *sessiondir.SyncWorker    { return s.syncWorker }
func (s *Server) Notifications() *notifications.Service { return s.notifService }
func (s *Server) Router() *gin.Engine                   { return s.router }
func (s *Server) ShutdownContext() context.Context      { return s.shutdownCtx }
