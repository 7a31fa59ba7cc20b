package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caneko-app/caneko-server/internal/middleware"
)

func setupRouter(api *API) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	limiter := middleware.NewRateLimiter(20, 40)
	router.Use(middleware.RateLimit(limiter))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/login", api.login)

		// The pet card is the one thing the app shows without a session:
		// it is what a stranger scanning the collar tag sees.
		v1.GET("/card/:userID", api.getCard)
		v1.GET("/config", api.getAppConfig)

		authed := v1.Group("")
		authed.Use(middleware.JWTAuth())
		{
			authed.GET("/me", api.getMe)
			authed.GET("/limits", api.getLimits)

			authed.GET("/gallery", api.listGallery)
			authed.POST("/gallery", api.uploadGallery)
			authed.DELETE("/gallery/:itemID", api.deleteGalleryItem)

			authed.GET("/documents", api.listDocuments)
			authed.POST("/documents", api.uploadDocuments)
			authed.DELETE("/documents/:itemID", api.deleteDocumentItem)

			authed.GET("/pet", api.getPet)
			authed.PUT("/pet", api.updatePet)
			authed.POST("/pet/avatar", api.uploadAvatar)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.JWTAuth(), middleware.RequireAdmin())
		{
			admin.GET("/users", api.adminListUsers)
			admin.POST("/users", api.adminCreateUser)
			admin.GET("/users/:id", api.adminGetUser)
			admin.PUT("/users/:id", api.adminUpdateUser)
			admin.DELETE("/users/:id", api.adminDeleteUser)

			admin.GET("/users/:id/usage", api.adminGetUsage)
			admin.PUT("/users/:id/limits", api.adminSetUserLimit)
			admin.DELETE("/users/:id/items/:kind/:itemID", api.adminDeleteItem)

			admin.PUT("/limits/global", api.adminSetGlobalLimit)
			admin.PUT("/limits/cascade", api.adminCascadeLimit)

			admin.PUT("/config", api.adminSetAppConfig)
		}
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	if err := api.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
