package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/ai"
	"bybit-trading-bot/internal/ai/llm"
	"bybit-trading-bot/internal/api"
	"bybit-trading-bot/internal/bot"
	"bybit-trading-bot/internal/bybit"
	"bybit-trading-bot/internal/cache"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/market"
	"bybit-trading-bot/internal/monitor"
	"bybit-trading-bot/internal/trading"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	logger.Info().Int("port", cfg.Server.Port).Bool("production", cfg.Server.Production).
		Msg("starting bybit-trading-bot")

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	bus := events.NewBus()

	// Category-bound REST clients. Credentials are installed per user
	// at bot start from the settings row, never from the environment.
	spotClient := bybit.NewClient(bybit.MainnetBaseURL, bybit.CategorySpot, nil, logger)
	linearClient := bybit.NewClient(bybit.MainnetBaseURL, bybit.CategoryLinear, nil, logger)

	tickerCache := cache.New(cache.Config{
		Enabled: cfg.Redis.Enabled,
		Addr:    cfg.Redis.Addr,
		DB:      cfg.Redis.DB,
		TTL:     cfg.Redis.TTL,
	}, logger)

	marketSvc := market.NewService(spotClient, linearClient, repo, tickerCache, logger)

	var advisor bot.Advisor
	if cfg.AI.Enabled {
		llmCfg := llm.DefaultClientConfig()
		llmCfg.Provider = llm.Provider(cfg.AI.Provider)
		llmCfg.APIKey = cfg.AI.APIKey
		if cfg.AI.Model != "" {
			llmCfg.Model = cfg.AI.Model
		}
		advisor = ai.NewAdvisor(llm.NewClient(llmCfg), cfg.AI.Timeout, cfg.AI.LegacyResponse, logger)
		logger.Info().Str("provider", cfg.AI.Provider).Msg("ai advisor enabled")
	}

	engineCfg := bot.Config{
		UniverseSize:    cfg.Engine.UniverseSize,
		ScanInterval:    cfg.Engine.ScanInterval,
		MonitorInterval: cfg.Engine.MonitorInterval,
	}

	spotCfg := engineCfg
	spotCfg.Mode = trading.ModeSpot
	spotEngine := bot.NewEngine(spotCfg, repo, marketSvc, spotClient,
		bybit.NewTickerStream(bybit.MainnetWSSpot, logger), advisor, bus, logger)

	levCfg := engineCfg
	levCfg.Mode = trading.ModeLeverage
	leverageEngine := bot.NewEngine(levCfg, repo, marketSvc, linearClient,
		bybit.NewTickerStream(bybit.MainnetWSLinear, logger), advisor, bus, logger)

	bots := bot.NewManager(spotEngine, leverageEngine, repo, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	positionMonitor := monitor.New(repo, marketSvc, bus, 30*time.Second, logger)
	go positionMonitor.Run(ctx)

	server := api.NewServer(api.Config{
		Port:            cfg.Server.Port,
		Production:      cfg.Server.Production,
		JWTSecret:       cfg.Auth.JWTSecret,
		StaticFilesPath: cfg.Server.StaticFilesPath,
	}, repo, bots, bus, logger)

	err = server.Run(ctx)

	bots.StopAll()
	logger.Info().Msg("shutdown complete")
	return err
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Server.Production {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}
