package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/cache"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/hub"
	"canvas-backend/internal/persist"
	"canvas-backend/internal/presence"
	"canvas-backend/internal/session"
)

// Server wires the fiber app to the canvas synchronization engine.
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	db         *gorm.DB
	hub        *hub.RoomHub
	registry   *persist.Registry
	redis      *cache.Client
	jwtManager *auth.JWTManager

	canvasWSHandler *handler.CanvasWSHandler
	boardHandler    *handler.BoardHandler
	healthHandler   *handler.HealthHandler
}

// New builds the server and its dependency graph.
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Canvas Sync Engine",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with websocket sessions
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret)

	// Redis is optional: without it bootstrap loads go straight to Postgres
	// and presence updates stay instance-local.
	var redisClient *cache.Client
	var publisher *presence.Publisher
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = cache.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis unavailable: %v (snapshot cache disabled)", err)
			redisClient = nil
		} else {
			publisher = presence.NewPublisher(redisClient.Raw())
		}
	}

	boardStore := persist.NewCachedStore(persist.NewGormStore(db), redisClient)
	registry := persist.NewRegistry(boardStore, cfg.Persist.FlushInterval, cfg.Persist.DebounceWindow)

	roomHub := hub.NewRoomHub(
		registry,
		func(r *hub.Room) { registry.MarkDirty(r.BoardID()) },
		func(r *hub.Room) { registry.Release(r.BoardID(), r.Store()) },
	)

	sessions := session.NewManager(session.Config{
		JoinTimeout:       cfg.Session.JoinTimeout,
		ReconnectAttempts: cfg.Session.ReconnectAttempts,
		BackoffBase:       cfg.Session.BackoffBase,
		BackoffCap:        cfg.Session.BackoffCap,
	})
	switcher := session.NewSwitcher(sessions, registry)

	return &Server{
		app:             app,
		cfg:             cfg,
		db:              db,
		hub:             roomHub,
		registry:        registry,
		redis:           redisClient,
		jwtManager:      jwtManager,
		canvasWSHandler: handler.NewCanvasWSHandler(roomHub, sessions, switcher, publisher),
		boardHandler:    handler.NewBoardHandler(roomHub, boardStore),
		healthHandler:   handler.NewHealthHandler(db, redisClient),
	}
}

// SetupMiddleware installs the global middleware stack.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs HTTP and websocket routes.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	apiLimiter := limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	s.app.Get("/api/boards/:boardId", apiLimiter, s.authMiddleware(), s.boardHandler.GetBoard)

	// websocket upgrade gate
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/canvas/:eventId/:boardId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := s.jwtManager.Validate(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		eventID := c.Params("eventId")
		boardID := c.Params("boardId")
		if eventID == "" || boardID == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("userId", claims.UserID)
		c.Locals("name", claims.Name)
		c.Locals("eventId", eventID)
		c.Locals("boardId", boardID)
		c.Locals("avatarRef", c.Query("avatar"))

		return c.Next()
	}, websocket.New(s.canvasWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// authMiddleware validates bearer/cookie tokens on the HTTP API.
func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies("access_token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
				token = authHeader[7:]
			}
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing authorization token",
			})
		}

		claims, err := s.jwtManager.Validate(token)
		if err != nil {
			if err == auth.ErrExpiredToken {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals("userId", claims.UserID)
		c.Locals("name", claims.Name)
		return c.Next()
	}
}

// Start runs the server with graceful shutdown: every room is closed and
// every dirty board flushed before exit.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")

		s.hub.Shutdown()
		s.registry.Shutdown()
		if s.redis != nil {
			s.redis.Close()
		}

		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("Canvas sync engine listening on %s", s.cfg.Server.Port)
	return s.app.Listen(s.cfg.Server.Port)
}
