package api

import (
	"net/http"

	"mailsync-backend/internal/auth/delivery"
	authRepo "mailsync-backend/internal/auth/repository"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	emailUsecasePkg "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(
	r *gin.Engine,
	authUc authUsecase.AuthUsecase,
	emailUc emailUsecasePkg.EmailUsecase,
	fcmRepo authRepo.FCMTokenRepository,
	sseManager *sse.Manager,
	syncHandler *emailDelivery.SyncHandler,
) {
	authHandler := delivery.NewAuthHandler(authUc, fcmRepo)
	emailHandler := emailDelivery.NewEmailHandler(emailUc)

	api := r.Group("/api")
	{
		// Health check (no auth required)
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// SSE endpoint
		api.GET("/events", delivery.AuthMiddleware(authUc), func(c *gin.Context) {
			userID := c.GetString("userID")
			sseManager.ServeHTTP(c, userID)
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/google", authHandler.GoogleSignIn)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", delivery.AuthMiddleware(authUc), authHandler.Me)
		}

		// FCM routes (protected)
		fcm := api.Group("/fcm")
		fcm.Use(delivery.AuthMiddleware(authUc))
		{
			fcm.POST("/register", authHandler.RegisterFCMToken)
			fcm.DELETE("/:token", authHandler.UnregisterFCMToken)
		}

		// Email routes (protected)
		emails := api.Group("/emails")
		emails.Use(delivery.AuthMiddleware(authUc))
		{
			emails.GET("", emailHandler.ListEmails)
			emails.GET("/search", emailHandler.SearchEmails)
			emails.GET("/:id", emailHandler.GetEmail)
			emails.POST("/watch", syncHandler.WatchMailbox)
		}

		// Sync routes (protected)
		sync := api.Group("/sync")
		sync.Use(delivery.AuthMiddleware(authUc))
		{
			sync.POST("", syncHandler.TriggerSync)
			sync.POST("/reconcile", syncHandler.Reconcile)
		}
	}
}
