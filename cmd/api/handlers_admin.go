package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/admission"
	"github.com/caneko-app/caneko-server/internal/auth"
	"github.com/caneko-app/caneko-server/internal/metrics"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

func (api *API) adminListUsers(c *gin.Context) {
	var users []models.User
	if err := api.store.All(c.Request.Context(), store.CollectionUsers, &users); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list users"})
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type createUserRequest struct {
	Name       string          `json:"name" binding:"required"`
	Email      string          `json:"email" binding:"required,email"`
	Password   string          `json:"password" binding:"required,min=8"`
	Role       models.UserRole `json:"role"`
	Active     bool            `json:"active"`
	StartDate  string          `json:"startDate"`
	ExpiryDate string          `json:"expiryDate"`
}

func (api *API) adminCreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Role == "" {
		req.Role = models.UserRoleClient
	}
	if req.Role != models.UserRoleAdmin && req.Role != models.UserRoleClient {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown role"})
		return
	}

	ctx := c.Request.Context()

	var existing models.User
	err := api.store.FindOne(ctx, store.CollectionUsers, "email", req.Email, &existing)
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check email"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	now := time.Now().UTC()
	user := models.User{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       req.Active,
		StartDate:    req.StartDate,
		ExpiryDate:   req.ExpiryDate,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := api.store.Set(ctx, store.CollectionUsers, user.ID, &user, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, user)
}

func (api *API) adminGetUser(c *gin.Context) {
	var user models.User
	err := api.store.Get(c.Request.Context(), store.CollectionUsers, c.Param("id"), &user)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}
	c.JSON(http.StatusOK, user)
}

type updateUserRequest struct {
	Name       *string `json:"name"`
	Password   *string `json:"password"`
	Active     *bool   `json:"active"`
	StartDate  *string `json:"startDate"`
	ExpiryDate *string `json:"expiryDate"`
}

func (api *API) adminUpdateUser(c *gin.Context) {
	userID := c.Param("id")

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	var user models.User
	if err := api.store.Get(ctx, store.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	fields := map[string]interface{}{"updatedAt": time.Now().UTC()}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}
	if req.StartDate != nil {
		fields["startDate"] = *req.StartDate
	}
	if req.ExpiryDate != nil {
		fields["expiryDate"] = *req.ExpiryDate
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
			return
		}
		fields["passwordHash"] = hash
	}

	if err := api.store.Set(ctx, store.CollectionUsers, userID, fields, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update user"})
		return
	}

	api.invalidateUser(c, userID)
	c.JSON(http.StatusOK, gin.H{"updated": userID})
}

// adminDeleteUser removes the account record and hands the owned data to the
// purge worker. The user disappears immediately; their gallery, documents,
// pet profile and avatars follow asynchronously.
func (api *API) adminDeleteUser(c *gin.Context) {
	userID := c.Param("id")
	ctx := c.Request.Context()

	var user models.User
	if err := api.store.Get(ctx, store.CollectionUsers, userID, &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load user"})
		return
	}

	var pet models.Pet
	avatarKey := ""
	if err := api.store.Get(ctx, store.CollectionPets, userID, &pet); err == nil {
		avatarKey = pet.AvatarKey
	}

	if err := api.store.Delete(ctx, store.CollectionUsers, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete user"})
		return
	}
	api.invalidateUser(c, userID)

	if err := api.queue.PublishPurge(ctx, &models.PurgeUserRequest{
		UserID:    userID,
		AvatarKey: avatarKey,
	}); err != nil {
		// The account is already gone; the purge can be re-issued manually.
		log.Error().Err(err).Str("user_id", userID).Msg("failed to enqueue purge")
		metrics.PurgeFailuresTotal.Inc()
	}

	c.JSON(http.StatusOK, gin.H{"deleted": userID})
}

func (api *API) adminGetUsage(c *gin.Context) {
	userID := c.Param("id")
	ctx := c.Request.Context()

	var user models.User
	if err := api.store.Get(ctx, store.CollectionUsers, userID, &user); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	resp := make(map[string]usageResponse, 2)
	for _, kind := range []models.ItemKind{models.ItemKindGallery, models.ItemKindDoc} {
		count, limit, err := api.controller.Usage(ctx, userID, kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read usage"})
			return
		}
		resp[string(kind)] = usageResponse{Count: count, Limit: limit}
	}

	c.JSON(http.StatusOK, resp)
}

type limitRequest struct {
	Kind  models.ItemKind `json:"kind" binding:"required"`
	Limit int             `json:"limit" binding:"required"`
}

func (api *API) adminSetUserLimit(c *gin.Context) {
	actor, ok := api.currentUser(c)
	if !ok {
		return
	}

	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targetID := c.Param("id")
	err := api.controller.UpdateUserLimit(c.Request.Context(), actor, targetID, req.Kind, req.Limit)
	if !api.respondLimitUpdate(c, err) {
		return
	}

	api.invalidateUser(c, targetID)
	c.JSON(http.StatusOK, gin.H{"user": targetID, "kind": req.Kind, "limit": req.Limit})
}

func (api *API) adminSetGlobalLimit(c *gin.Context) {
	actor, ok := api.currentUser(c)
	if !ok {
		return
	}

	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !api.respondLimitUpdate(c, api.controller.UpdateGlobalLimit(c.Request.Context(), actor, req.Kind, req.Limit)) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "limit": req.Limit})
}

func (api *API) adminCascadeLimit(c *gin.Context) {
	actor, ok := api.currentUser(c)
	if !ok {
		return
	}

	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !api.respondLimitUpdate(c, api.controller.CascadeLimit(c.Request.Context(), actor, req.Kind, req.Limit)) {
		return
	}

	// The cascade rewrote every user's override, so every cached user
	// document is stale.
	var users []models.User
	if err := api.store.All(c.Request.Context(), store.CollectionUsers, &users); err != nil {
		log.Warn().Err(err).Msg("failed to list users for cache invalidation after cascade")
	} else {
		for _, u := range users {
			api.invalidateUser(c, u.ID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "limit": req.Limit, "cascade": true})
}

// respondLimitUpdate maps admission errors to HTTP responses; returns false
// when it already wrote an error.
func (api *API) respondLimitUpdate(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, admission.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Limit must be a positive integer"})
	case errors.Is(err, admission.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item kind"})
	case errors.Is(err, admission.ErrNotAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update limit"})
	}
	return false
}

// adminDeleteItem removes an item from any user's collection.
func (api *API) adminDeleteItem(c *gin.Context) {
	actor, ok := api.currentUser(c)
	if !ok {
		return
	}

	kind := models.ItemKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item kind"})
		return
	}

	err := api.controller.RemoveItem(c.Request.Context(), actor, c.Param("id"), kind, c.Param("itemID"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	case errors.Is(err, admission.ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete item"})
	default:
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("itemID")})
	}
}

func (api *API) adminSetAppConfig(c *gin.Context) {
	var cfg models.AppConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config"})
		return
	}
	if cfg.AppName == "" {
		cfg.AppName = models.DefaultAppName
	}

	ctx := c.Request.Context()
	if err := api.store.Set(ctx, store.CollectionSettings, store.DocAppConfig, &cfg, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save config"})
		return
	}

	if err := api.cache.DeleteAppConfig(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate app config cache")
	}

	c.JSON(http.StatusOK, cfg)
}

func (api *API) invalidateUser(c *gin.Context, userID string) {
	if err := api.cache.DeleteUser(c.Request.Context(), userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate user cache")
	}
}
