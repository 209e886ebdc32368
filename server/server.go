package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/6587027/VipStore-sub001/chat"
	"github.com/6587027/VipStore-sub001/config"
	"github.com/6587027/VipStore-sub001/handlers"
	"github.com/6587027/VipStore-sub001/kafka"
	"github.com/6587027/VipStore-sub001/limiter"
	custommiddleware "github.com/6587027/VipStore-sub001/middleware"
	"github.com/6587027/VipStore-sub001/migrations"
	"github.com/6587027/VipStore-sub001/models"
	"github.com/6587027/VipStore-sub001/redis"
	"github.com/6587027/VipStore-sub001/services"
)

type Server struct {
	Echo                 *echo.Echo
	DB                   *gorm.DB
	Config               *config.Config
	Redis                *redis.RedisClient
	Gateway              *chat.Gateway
	Sweeper              *services.Sweeper
	Consumer             *kafka.Consumer
	Publisher            *kafka.EventPublisher
	RoomHandler          *handlers.RoomHandler
	HealthHandler        *handlers.HealthHandler
	ChatWebSocketHandler *handlers.ChatWebSocketHandler

	logger zerolog.Logger
}

// NewServer wires the chat service from cfg. Redis and Kafka are optional and
// skipped when not configured.
func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	db, err := models.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.Database.AutoMigrate || cfg.Database.Driver == models.DriverSQLite {
		if err := migrations.Apply(context.Background(), db, cfg.Database.Driver); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	s := &Server{
		DB:     db,
		Config: cfg,
		logger: logger,
	}

	gatewayOpts := chat.Options{
		HistoryLimit:  cfg.Chat.HistoryLimit,
		RoomListLimit: cfg.Chat.RoomListLimit,
		Logger:        logger,
	}

	var (
		presence    *redis.PresenceStore
		rateLimiter *limiter.Manager
	)
	if cfg.Redis.Addr != "" {
		s.Redis, err = redis.NewRedisClient(&redis.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		presence = redis.NewPresenceStore(s.Redis.Client, cfg.Chat.PresenceTTL.Duration)
		rateLimiter = limiter.NewManager(s.Redis.Client, limiter.NewStrategy(cfg.Chat.RateLimitStrategy))
		gatewayOpts.Presence = presence
		gatewayOpts.Limiter = limiter.NewKeyedLimit(rateLimiter, "limiter:chat:send:",
			cfg.Chat.SendRateLimit, cfg.Chat.SendRateWindow.Duration)
	}

	var saramaConfig *sarama.Config
	if cfg.Kafka.Enabled {
		saramaConfig, err = kafka.NewSaramaConfig(&cfg.Kafka, "vipstore-chat")
		if err != nil {
			return nil, err
		}
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, saramaConfig)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		s.Publisher = kafka.NewEventPublisher(producer, cfg.Kafka.EventsTopic, 2, 1000, logger)
		gatewayOpts.Publisher = s.Publisher
	}

	messageService := services.NewMessageService(db, cfg.Chat.MessageTTL.Duration)
	roomService := services.NewRoomService(db, cfg.Chat.RoomTTL.Duration)
	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.TokenExpiry())

	s.Gateway = chat.NewGateway(messageService, roomService, gatewayOpts)
	s.Sweeper = services.NewSweeper(messageService, roomService, cfg.Chat.SweepInterval.Duration, logger)

	if saramaConfig != nil {
		s.Consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
			[]string{cfg.Kafka.NoticesTopic}, saramaConfig, kafka.NewNoticeHandler(s.Gateway, logger), logger)
		if err != nil {
			return nil, fmt.Errorf("kafka consumer: %w", err)
		}
	}

	var presenceReader handlers.PresenceReader
	deps := map[string]handlers.Pinger{}
	if presence != nil {
		presenceReader = presence
		deps["redis"] = s.Redis
	}

	s.ChatWebSocketHandler = handlers.NewChatWebSocketHandler(s.Gateway, handlers.WebSocketConfig{
		HandshakeTimeout: cfg.Chat.HandshakeTimeout.Duration,
		EventTimeout:     cfg.Chat.EventTimeout.Duration,
		SendQueueSize:    cfg.Chat.SendQueueSize,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
	}, logger)
	s.RoomHandler = handlers.NewRoomHandler(roomService, messageService, s.Gateway, presenceReader, logger)
	s.HealthHandler = handlers.NewHealthHandler(db, deps, s.ChatWebSocketHandler.Connections)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	// Request logs go through zerolog; echo's own logger only reports failures.
	e.Logger.SetLevel(log.ERROR)
	e.Use(middleware.RequestID())
	e.Use(custommiddleware.RequestLogger(logger))
	e.Use(custommiddleware.Metrics())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.PATCH},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
		ExposeHeaders:    []string{echo.HeaderContentLength},
		MaxAge:           86400,
	}))
	s.Echo = e

	var rateLimit echo.MiddlewareFunc
	if rateLimiter != nil {
		rateLimit = custommiddleware.NewRateLimitMiddleware(rateLimiter, custommiddleware.RateLimitConfig{
			Limit:   cfg.Server.RateLimit,
			Window:  cfg.Server.RateWindow.Duration,
			KeyFunc: custommiddleware.IdentityKey,
		}, logger)
	}
	s.SetupRoutes(
		custommiddleware.AuthMiddleware(tokenService),
		custommiddleware.AdminAuthMiddleware(),
		rateLimit,
	)
	return s, nil
}

// Start runs the HTTP server and the background workers until ctx is
// cancelled, then shuts everything down.
func (s *Server) Start(ctx context.Context) error {
	workers, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	go s.Sweeper.Run(workers)
	if s.Consumer != nil {
		go func() {
			if err := s.Consumer.Start(workers); err != nil {
				s.logger.Error().Err(err).Msg("order notice consumer stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Config.Server.Addr).Msg("chat server listening")
		if err := s.Echo.Start(s.Config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown drains websocket connections before stopping HTTP, then releases
// Kafka, Redis and the database.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.ChatWebSocketHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain websockets: %w", err))
	}
	if err := s.Echo.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.Consumer != nil {
		if err := s.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka consumer: %w", err))
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka publisher: %w", err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if sqlDB, err := s.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Server) shutdownTimeout() time.Duration {
	if d := s.Config.Server.ShutdownTimeout.Duration; d > 0 {
		return d
	}
	return 15 * time.Second
}
