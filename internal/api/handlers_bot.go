package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bybit-trading-bot/internal/auth"
	"bybit-trading-bot/internal/trading"
)

func (s *Server) handleBotStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"statuses": s.bots.Statuses()})
}

func (s *Server) handleBotStart(c *gin.Context) {
	mode, ok := parseMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be spot or leverage"})
		return
	}
	if err := s.bots.Start(mode, auth.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": s.bots.Statuses()})
}

func (s *Server) handleBotStop(c *gin.Context) {
	mode, ok := parseMode(c.Param("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be spot or leverage"})
		return
	}
	s.bots.Stop(mode)
	c.JSON(http.StatusOK, gin.H{"statuses": s.bots.Statuses()})
}

// handleBotStartAll starts both engines; an engine already running is
// not an error for the combined endpoint.
func (s *Server) handleBotStartAll(c *gin.Context) {
	userID := auth.UserID(c)
	started := map[string]string{}
	for _, mode := range []trading.Mode{trading.ModeSpot, trading.ModeLeverage} {
		if err := s.bots.Start(mode, userID); err != nil {
			started[string(mode)] = err.Error()
		} else {
			started[string(mode)] = "started"
		}
	}
	c.JSON(http.StatusOK, gin.H{"result": started, "statuses": s.bots.Statuses()})
}

func (s *Server) handleBotStopAll(c *gin.Context) {
	s.bots.Stop(trading.ModeSpot)
	s.bots.Stop(trading.ModeLeverage)
	c.JSON(http.StatusOK, gin.H{"statuses": s.bots.Statuses()})
}
