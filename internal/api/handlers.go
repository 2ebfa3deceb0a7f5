package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bybit-trading-bot/internal/auth"
	"bybit-trading-bot/internal/database"
)

func limitParam(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// paperParam reads the optional ?paper=true|false filter; nil means
// both populations.
func paperParam(c *gin.Context) *bool {
	switch c.Query("paper") {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

func (s *Server) handleDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)
	paper := paperParam(c)

	stats, err := s.repo.GetTradingStats(ctx, userID, paper)
	if err != nil {
		fail(c, err)
		return
	}
	positions, err := s.repo.GetOpenPositions(ctx, userID, nil, paper)
	if err != nil {
		fail(c, err)
		return
	}
	logs, err := s.repo.GetBotLogs(ctx, userID, 20)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":       stats,
		"positions":   positions,
		"recentLogs":  logs,
		"botStatuses": s.bots.Statuses(),
	})
}

func (s *Server) handleSummary(c *gin.Context) {
	summary, err := s.repo.GetTradingSummary(c.Request.Context(), auth.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.repo.GetTradingSettings(c.Request.Context(), auth.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// settingsUpdate accepts the write-only api_secret alongside the
// regular settings fields. The embedded struct keeps its json:"-" tag,
// so responses built from it never echo the secret back.
type settingsUpdate struct {
	database.TradingSettings
	APISecret *string `json:"api_secret"`
}

// handleUpdateSettings applies the request body over the stored row,
// so omitted fields keep their values.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	ctx := c.Request.Context()
	userID := auth.UserID(c)

	settings, err := s.repo.GetTradingSettings(ctx, userID)
	if err != nil {
		fail(c, err)
		return
	}
	upd := settingsUpdate{TradingSettings: *settings}
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed settings payload"})
		return
	}
	next := upd.TradingSettings
	if upd.APISecret != nil {
		next.APISecret = *upd.APISecret
	}
	next.UserID = userID

	if err := s.repo.UpdateTradingSettings(ctx, &next); err != nil {
		fail(c, err)
		return
	}
	s.bus.PublishBotLog(userID, database.LogConfig, "trading settings updated", "", nil)
	c.JSON(http.StatusOK, next)
}

func (s *Server) handleGetPositions(c *gin.Context) {
	positions, err := s.repo.GetOpenPositions(c.Request.Context(), auth.UserID(c), nil, paperParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleClosePosition(c *gin.Context) {
	pos, err := s.bots.ClosePosition(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleGetTrades(c *gin.Context) {
	trades, err := s.repo.GetTradeHistory(c.Request.Context(), auth.UserID(c), paperParam(c), limitParam(c, 50, 500))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleGetPortfolio(c *gin.Context) {
	points, err := s.repo.GetPortfolioData(c.Request.Context(), auth.UserID(c), paperParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"portfolio": points})
}

func (s *Server) handleStrategyPerformance(c *gin.Context) {
	perf, err := s.repo.GetStrategyPerformance(c.Request.Context(), auth.UserID(c), paperParam(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": perf})
}

func (s *Server) handleGetLogs(c *gin.Context) {
	logs, err := s.repo.GetBotLogs(c.Request.Context(), auth.UserID(c), limitParam(c, 100, 1000))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (s *Server) handleClearLogs(c *gin.Context) {
	if err := s.repo.ClearBotLogs(c.Request.Context(), auth.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleGetSystemErrors(c *gin.Context) {
	errs, err := s.repo.GetSystemErrors(c.Request.Context(), auth.UserID(c), limitParam(c, 100, 1000))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"errors": errs})
}

func (s *Server) handleResolveSystemError(c *gin.Context) {
	if err := s.repo.ResolveSystemError(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}
