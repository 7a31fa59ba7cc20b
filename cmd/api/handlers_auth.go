package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/auth"
	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

const userCacheTTL = 10 * time.Minute

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (api *API) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	token, user, err := api.auth.Login(c.Request.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrAccountLocked):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Account temporarily locked, try again later"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	case errors.Is(err, auth.ErrAccountInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is not active"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

func (api *API) getMe(c *gin.Context) {
	user, ok := api.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}

// getAppConfig serves the branding/contact settings, cache-first.
func (api *API) getAppConfig(c *gin.Context) {
	cfg, err := api.loadAppConfig(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (api *API) loadAppConfig(c *gin.Context) (*models.AppConfig, error) {
	ctx := c.Request.Context()

	if cached, err := api.cache.GetAppConfig(ctx); err == nil && cached != nil {
		return cached, nil
	}

	var cfg models.AppConfig
	err := api.store.Get(ctx, store.CollectionSettings, store.DocAppConfig, &cfg)
	if errors.Is(err, store.ErrNotFound) {
		cfg = models.AppConfig{AppName: models.DefaultAppName}
	} else if err != nil {
		return nil, err
	}

	if err := api.cache.SetAppConfig(ctx, &cfg, userCacheTTL); err != nil {
		log.Warn().Err(err).Msg("failed to cache app config")
	}
	return &cfg, nil
}

// currentUser resolves the authenticated user from cache or store. Writes the
// error response itself and returns ok=false on failure.
func (api *API) currentUser(c *gin.Context) (*models.User, bool) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}

	ctx := c.Request.Context()

	if cached, err := api.cache.GetUser(ctx, userID); err == nil && cached != nil {
		return cached, true
	}

	var user models.User
	if err := api.store.Get(ctx, store.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Account no longer exists"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return nil, false
	}

	if err := api.cache.SetUser(ctx, &user, userCacheTTL); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to cache user")
	}
	return &user, true
}
