package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/caneko-app/caneko-server/internal/middleware"
	"github.com/caneko-app/caneko-server/internal/store"
	"github.com/caneko-app/caneko-server/pkg/models"
)

func (api *API) getPet(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var pet models.Pet
	err := api.store.Get(c.Request.Context(), store.CollectionPets, userID, &pet)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusOK, models.Pet{})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pet profile"})
		return
	}

	c.JSON(http.StatusOK, api.withAvatarURL(c, pet))
}

func (api *API) updatePet(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var pet models.Pet
	if err := c.ShouldBindJSON(&pet); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid pet profile"})
		return
	}

	// The avatar key is managed by the avatar endpoint, not the profile form.
	var existing models.Pet
	if err := api.store.Get(c.Request.Context(), store.CollectionPets, userID, &existing); err == nil {
		pet.AvatarKey = existing.AvatarKey
	}

	if err := api.store.Set(c.Request.Context(), store.CollectionPets, userID, &pet, false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save pet profile"})
		return
	}

	c.JSON(http.StatusOK, api.withAvatarURL(c, pet))
}

// uploadAvatar replaces the pet's avatar image. Avatars live in object
// storage, not in the document store, and do not count against any limit.
func (api *API) uploadAvatar(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	header, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No avatar file provided"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Avatar must be an image"})
		return
	}

	data, err := readUpload(header, api.cfg.Admission.MaxSourceBytes)
	if err != nil || int64(len(data)) > api.cfg.Admission.MaxSourceBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Avatar too large"})
		return
	}

	ctx := c.Request.Context()

	var pet models.Pet
	if err := api.store.Get(ctx, store.CollectionPets, userID, &pet); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pet profile"})
		return
	}
	oldKey := pet.AvatarKey

	key, err := api.storage.UploadAvatar(ctx, userID, data, contentType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store avatar"})
		return
	}

	if err := api.store.Set(ctx, store.CollectionPets, userID,
		map[string]interface{}{"avatarKey": key}, true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save avatar reference"})
		return
	}

	if oldKey != "" {
		if err := api.storage.DeleteAvatar(ctx, oldKey); err != nil {
			log.Warn().Err(err).Str("key", oldKey).Msg("failed to delete old avatar")
		}
	}

	url, err := api.storage.AvatarURL(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("failed to presign avatar URL")
	}

	c.JSON(http.StatusCreated, gin.H{"avatarKey": key, "avatarUrl": url})
}

// getCard serves the public pet card for a collar tag scan: pet profile,
// owner contact and app branding. No session required, but the account must
// be active.
func (api *API) getCard(c *gin.Context) {
	userID := c.Param("userID")
	ctx := c.Request.Context()

	var user models.User
	if err := api.store.Get(ctx, store.CollectionUsers, userID, &user); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Card not found"})
		return
	}
	if !user.Active {
		c.JSON(http.StatusNotFound, gin.H{"error": "Card not found"})
		return
	}

	var pet models.Pet
	if err := api.store.Get(ctx, store.CollectionPets, userID, &pet); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pet profile"})
		return
	}

	appCfg, err := api.loadAppConfig(c)
	if err != nil {
		appCfg = &models.AppConfig{AppName: models.DefaultAppName}
	}

	c.JSON(http.StatusOK, gin.H{
		"pet":    api.withAvatarURL(c, pet),
		"config": appCfg,
	})
}

// petView is a pet profile plus a resolved avatar URL for rendering.
type petView struct {
	models.Pet
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func (api *API) withAvatarURL(c *gin.Context, pet models.Pet) petView {
	view := petView{Pet: pet}
	if pet.AvatarKey == "" {
		return view
	}
	url, err := api.storage.AvatarURL(c.Request.Context(), pet.AvatarKey)
	if err != nil {
		log.Warn().Err(err).Str("key", pet.AvatarKey).Msg("failed to presign avatar URL")
		return view
	}
	view.AvatarURL = url
	return view
}
