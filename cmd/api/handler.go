package api

import (
	authRepo "mailsync-backend/internal/auth/repository"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emailDelivery "mailsync-backend/internal/email/delivery"
	emailUsecasePkg "mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/sse"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	authUsecase  authUsecase.AuthUsecase
	emailUsecase emailUsecasePkg.EmailUsecase
	fcmRepo      authRepo.FCMTokenRepository
	sseManager   *sse.Manager
	syncHandler  *emailDelivery.SyncHandler
	config       *config.Config
}

func NewHandler(
	authUc authUsecase.AuthUsecase,
	emailUc emailUsecasePkg.EmailUsecase,
	fcmRepo authRepo.FCMTokenRepository,
	sseManager *sse.Manager,
	engine *emailUsecasePkg.SyncEngine,
	bus emailDelivery.SyncBus,
	cfg *config.Config,
) *Handler {
	syncHandler := emailDelivery.NewSyncHandler(engine, bus, cfg.GooglePubSubTopic)

	return &Handler{
		authUsecase:  authUc,
		emailUsecase: emailUc,
		fcmRepo:      fcmRepo,
		sseManager:   sseManager,
		syncHandler:  syncHandler,
		config:       cfg,
	}
}

func (h *Handler) Start(addr string) error {
	r := gin.Default()
	gin.SetMode(gin.ReleaseMode)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	SetupRoutes(r, h.authUsecase, h.emailUsecase, h.fcmRepo, h.sseManager, h.syncHandler)

	return r.Run(addr)
}
