// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"defiers-auth/internal/config"
	"defiers-auth/internal/db"
	authHandler "defiers-auth/internal/handlers/auth"
	wsHandler "defiers-auth/internal/handlers/websocket"
	"defiers-auth/internal/metrics"
	"defiers-auth/internal/middleware"
	"defiers-auth/internal/pkg/jwt"
	"defiers-auth/internal/pkg/session"
	"defiers-auth/internal/repository/postgres"
	authUsecase "defiers-auth/internal/service/auth"
	"defiers-auth/internal/websocket"
	wsHandlers "defiers-auth/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg    *config.AppConfig
	engine *gin.Engine
	http   *http.Server
	logger *zap.Logger

	redis   *redis.Client
	pg      *postgres.DB
	hub     *websocket.Hub
	metrics *metrics.Metrics

	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewServer(cfg *config.AppConfig) (*Server, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	return &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
		http: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", cfg.AppName), zap.String("env", cfg.Env)), nil
}

// Start wires every component and serves HTTP until Shutdown is called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	logger := s.logger

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		URL:      s.cfg.RedisURL,
		DB:       s.cfg.RedisDB,
		PoolSize: s.cfg.RedisPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = redisClient
	logger.Info("redis connected")

	// ----- PostgreSQL (optional) -----
	var audit authUsecase.AuditLog
	if s.cfg.DatabaseURL != "" {
		pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		s.pg = postgres.NewDB(pool)

		auditRepo := postgres.NewSessionAuditRepository(s.pg)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			return err
		}
		audit = auditRepo
		logger.Info("postgres connected, session audit enabled")
	} else {
		logger.Info("DATABASE_URL not set, session audit disabled")
	}

	// ----- Metrics -----
	s.metrics = metrics.New()

	// ----- JWT Manager -----
	jwtManager, err := jwt.Build(s.cfg.JWT(), logger)
	if err != nil {
		return fmt.Errorf("failed to build JWT manager: %w", err)
	}

	// ----- Session Store -----
	store := session.NewStore(redisClient, logger)

	// ----- Resolver -----
	resolver := authUsecase.NewResolver(jwtManager, store, s.metrics, logger)
	if s.cfg.StrictSessions() {
		resolver.EnableStrictSessions(s.cfg.SessionTimeout())
		logger.Info("strict session mode enabled", zap.Duration("timeout", s.cfg.SessionTimeout()))
	}

	// ----- WebSocket Hub -----
	s.hub = websocket.NewHub(resolver, store, s.metrics, logger)
	s.hub.RegisterHandler(wsHandlers.NewSessionHandler(resolver))
	go s.hub.Run(ctx)

	// ----- Services -----
	authService := authUsecase.NewAuthService(
		jwtManager,
		store,
		s.hub,
		audit,
		s.metrics,
		s.cfg.SessionTTL(),
		logger,
	)

	resolver.OnExpired(authService.SessionExpired)

	// ----- Sweeper -----
	sweeper := session.NewSweeper(store, s.cfg.SweepEvery(), s.cfg.SessionTimeout(), logger)
	sweeper.OnExpired(authService.SessionExpired)
	go sweeper.Run(ctx)

	// ----- Handlers -----
	handlers := &Handlers{
		AuthHandler:    authHandler.NewAuthHandler(authService, resolver, logger),
		WSHandler:      wsHandler.NewWebSocketHandler(s.hub, s.cfg.AllowedOrigins(), logger),
		AuthMiddleware: middleware.NewAuthMiddleware(resolver),
		Metrics:        s.metrics,
		Health:         s.health(store),
	}

	s.engine.Use(globalMiddleware(logger, s.cfg.AllowedOrigins())...)
	SetupRouter(s.engine, s.cfg, handlers)

	// ----- Start HTTP -----
	logger.Info("server listening", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// health reports whether the session backend answers a ping.
func (s *Server) health(store *session.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return store.Ping(ctx)
	}
}

// Shutdown drains HTTP, stops the hub and sweeper, then releases the pools.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.hub != nil {
		select {
		case <-s.hub.Done():
		case <-ctx.Done():
			s.logger.Warn("websocket hub did not stop in time")
		}
	}

	s.closeOnce.Do(func() {
		s.pg.Close()
		if s.redis != nil {
			if cerr := s.redis.Close(); cerr != nil {
				s.logger.Warn("redis close failed", zap.Error(cerr))
			}
		}
	})

	s.logger.Info("server stopped")
	_ = s.logger.Sync()
	return err
}
