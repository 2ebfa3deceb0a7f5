package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bybit-trading-bot/internal/auth"
	"bybit-trading-bot/internal/database"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	User         *database.User `json:"user"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must not be empty"})
		return
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	user, err := s.repo.CreateUser(c.Request.Context(), req.Username, hash)
	if err != nil {
		fail(c, err)
		return
	}

	tokens, err := s.issueTokens(c, user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tokens)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := s.repo.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		// indistinguishable from a wrong password on purpose
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := s.passwords.Verify(user.PasswordHash, req.Password); err != nil {
		fail(c, err)
		return
	}

	tokens, err := s.issueTokens(c, user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) issueTokens(c *gin.Context, user *database.User) (*tokenResponse, error) {
	access, err := s.jwt.GenerateAccessToken(auth.UserClaims{UserID: user.ID, Username: user.Username})
	if err != nil {
		return nil, err
	}
	refresh, err := s.jwt.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(s.jwt.RefreshDuration())
	if _, err := s.repo.CreateSession(c.Request.Context(), user.ID, auth.HashRefreshToken(refresh), expires); err != nil {
		return nil, err
	}
	return &tokenResponse{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	session, err := s.repo.GetSessionByTokenHash(c.Request.Context(), auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
		return
	}
	user, err := s.repo.GetUser(c.Request.Context(), session.UserID)
	if err != nil {
		fail(c, err)
		return
	}

	access, err := s.jwt.GenerateAccessToken(auth.UserClaims{UserID: user.ID, Username: user.Username})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": access})
}

func (s *Server) handleLogout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refreshToken is required"})
		return
	}

	session, err := s.repo.GetSessionByTokenHash(c.Request.Context(), auth.HashRefreshToken(req.RefreshToken))
	if err != nil {
		// already gone; logout stays idempotent
		c.JSON(http.StatusOK, gin.H{"status": "logged out"})
		return
	}
	if err := s.repo.DeleteSession(c.Request.Context(), session.ID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}
