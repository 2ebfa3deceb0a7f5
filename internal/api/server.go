// Package api is the operator surface: a REST API for accounts,
// settings, positions and bot control, plus a WebSocket feed that
// mirrors the internal event bus.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/auth"
	"bybit-trading-bot/internal/bot"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/trading"
)

// BotController is the slice of the bot manager the API needs.
type BotController interface {
	Start(mode trading.Mode, userID string) error
	Stop(mode trading.Mode)
	Statuses() map[string]string
	ClosePosition(ctx context.Context, id, userID string) (*database.Position, error)
}

// Config holds the server options.
type Config struct {
	Port            int
	Production      bool
	JWTSecret       string
	StaticFilesPath string
}

// Server is the HTTP and WebSocket front end.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       *database.Repository
	bots       BotController
	bus        *events.Bus
	jwt        *auth.JWTManager
	passwords  *auth.PasswordManager
	hub        *Hub
	logger     zerolog.Logger
	cfg        Config
}

// NewServer wires the router. Call Run to serve.
func NewServer(cfg Config, repo *database.Repository, bots BotController, bus *events.Bus, logger zerolog.Logger) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		repo:      repo,
		bots:      bots,
		bus:       bus,
		jwt:       auth.NewJWTManager(cfg.JWTSecret, 15*time.Minute, 7*24*time.Hour),
		passwords: auth.NewPasswordManager(auth.DefaultBcryptCost, auth.MinPasswordLength),
		hub:       NewHub(bus, logger),
		logger:    logger.With().Str("component", "api").Logger(),
		cfg:       cfg,
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	router.Use(cors.New(corsConfig))

	s.router = router
	s.registerRoutes()

	if cfg.StaticFilesPath != "" {
		router.Static("/app", cfg.StaticFilesPath)
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	authGroup := s.router.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefresh)
		authGroup.POST("/logout", s.handleLogout)
	}

	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.jwt))
	{
		api.GET("/dashboard", s.handleDashboard)
		api.GET("/summary", s.handleSummary)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)

		api.GET("/positions", s.handleGetPositions)
		api.POST("/positions/:id/close", s.handleClosePosition)
		api.GET("/trades", s.handleGetTrades)
		api.GET("/portfolio", s.handleGetPortfolio)
		api.GET("/stats/strategies", s.handleStrategyPerformance)

		api.GET("/bot/status", s.handleBotStatus)
		api.POST("/bot/:mode/start", s.handleBotStart)
		api.POST("/bot/:mode/stop", s.handleBotStop)
		// legacy endpoints drive both engines at once
		api.POST("/bot/start", s.handleBotStartAll)
		api.POST("/bot/stop", s.handleBotStopAll)

		api.GET("/logs", s.handleGetLogs)
		api.DELETE("/logs", s.handleClearLogs)

		api.GET("/errors", s.handleGetSystemErrors)
		api.POST("/errors/:id/resolve", s.handleResolveSystemError)
	}
}

// Run serves until the context is cancelled, then drains.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: listen on %s: %w", s.httpServer.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// fail maps domain errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, database.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, database.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
	case errors.Is(err, database.ErrAlreadyClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "position already closed"})
	case errors.Is(err, bot.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "bot already running"})
	case errors.Is(err, bot.ErrCredentialsMissing):
		c.JSON(http.StatusBadRequest, gin.H{"error": "exchange credentials required for live trading"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseMode(raw string) (trading.Mode, bool) {
	mode := trading.Mode(raw)
	return mode, mode.Valid()
}
