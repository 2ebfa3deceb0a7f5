package bot

import (
	"context"

	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/trading"
)

// Manager owns the two engines and dispatches operator commands to
// the one matching the trading mode.
type Manager struct {
	spot     *Engine
	leverage *Engine
	repo     *database.Repository
	logger   zerolog.Logger
}

// NewManager wires both engines.
func NewManager(spot, leverage *Engine, repo *database.Repository, logger zerolog.Logger) *Manager {
	return &Manager{
		spot:     spot,
		leverage: leverage,
		repo:     repo,
		logger:   logger.With().Str("component", "bot-manager").Logger(),
	}
}

func (m *Manager) StartSpot(userID string) error     { return m.spot.Start(userID) }
func (m *Manager) StopSpot()                         { m.spot.Stop() }
func (m *Manager) StartLeverage(userID string) error { return m.leverage.Start(userID) }
func (m *Manager) StopLeverage()                     { m.leverage.Stop() }

// Start starts the engine for the given mode.
func (m *Manager) Start(mode trading.Mode, userID string) error {
	return m.engine(mode).Start(userID)
}

// Stop stops the engine for the given mode.
func (m *Manager) Stop(mode trading.Mode) {
	m.engine(mode).Stop()
}

// StopAll stops both engines and waits for each.
func (m *Manager) StopAll() {
	m.spot.Stop()
	m.leverage.Stop()
}

// Statuses reports both engine states keyed by mode.
func (m *Manager) Statuses() map[string]string {
	return map[string]string{
		string(trading.ModeSpot):     string(m.spot.Status()),
		string(trading.ModeLeverage): string(m.leverage.Status()),
	}
}

// ClosePosition looks the position up and routes the close through
// the engine that owns its trading mode.
func (m *Manager) ClosePosition(ctx context.Context, id, userID string) (*database.Position, error) {
	pos, err := m.repo.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}
	if pos.UserID != userID {
		return nil, database.ErrNotFound
	}
	return m.engine(pos.TradingMode).ClosePosition(ctx, id, userID)
}

func (m *Manager) engine(mode trading.Mode) *Engine {
	if mode == trading.ModeLeverage {
		return m.leverage
	}
	return m.spot
}
