package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/hearthapp/hearth/internal/api/http"
	"github.com/hearthapp/hearth/internal/api/middleware"
	"github.com/hearthapp/hearth/internal/infrastructure/config"
	"github.com/hearthapp/hearth/internal/infrastructure/logging"
	"github.com/hearthapp/hearth/internal/infrastructure/monitoring"
	"github.com/hearthapp/hearth/internal/prefs"
	"github.com/hearthapp/hearth/internal/reader"
	"github.com/hearthapp/hearth/internal/ws"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router  *gin.Engine
	reader  *reader.Service
	watcher *reader.Watcher
	prefs   *prefs.Store
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// New creates a server instance from configuration.
func New(cfg *config.Config) (*Server, error) {
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	logger, err := logging.New(logging.Config{
		Level:       level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}

	logger.Info("Initializing hearth reader",
		zap.String("port", cfg.Server.Port),
		zap.String("root", cfg.Reader.Root),
	)

	metrics := monitoring.New()

	sandbox, err := reader.NewSandbox(cfg.Reader.Root,
		reader.FollowSymlinks(cfg.Reader.FollowSymlinks),
		reader.ShowHidden(cfg.Reader.ShowHidden),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open reader root %s: %w", cfg.Reader.Root, err)
	}

	svc := reader.NewService(sandbox, reader.Options{
		MaxFileSize: cfg.Reader.MaxFileSize,
		CacheTTL:    cfg.Reader.CacheTTL,
	}, logger, metrics)

	var watcher *reader.Watcher
	if cfg.Reader.WatchEnabled {
		watcher, err = reader.NewWatcher(sandbox, logger, metrics)
		if err != nil {
			logger.Warn("Change notification disabled", zap.Error(err))
		} else {
			watcher.OnChange(svc.InvalidateCache)
			logger.Info("Watching reader root for changes")
		}
	}

	store, err := prefs.NewStore(cfg.Prefs.Path)
	if err != nil {
		if watcher != nil {
			watcher.Close()
		}
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(svc, store, logger, metrics)
	wsHandler := ws.NewHandler(watcher, logger, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Reader endpoints
	router.GET("/reader/tree", handlers.Tree)
	router.GET("/reader/file", handlers.File)
	router.GET("/reader/raw", handlers.RawFile)
	router.GET("/reader/search", handlers.Search)
	router.GET("/reader/archive", handlers.Archive)

	// Preference endpoints
	router.GET("/prefs/:profile", handlers.GetPrefs)
	router.PUT("/prefs/:profile", handlers.PutPrefs)
	router.PATCH("/prefs/:profile", handlers.PatchPrefs)
	router.DELETE("/prefs/:profile", handlers.DeletePrefs)
	router.POST("/prefs/:profile/recent", handlers.TouchRecent)

	// WebSocket change stream
	router.GET("/stream", wsHandler.HandleConnection)

	logger.Info("Server initialized")

	return &Server{
		router:  router,
		reader:  svc,
		watcher: watcher,
		prefs:   store,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Router exposes the underlying engine, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close shuts the server down.
func (s *Server) Close() error {
	s.logger.Info("Shutting down...")
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			s.logger.Error("Failed to close watcher", zap.Error(err))
		}
	}
	s.logger.Sync()
	return nil
}
