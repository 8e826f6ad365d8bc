package main

import (
	"context"
	"log"
	"strings"

	api "mailsync-backend/cmd/api"
	authdomain "mailsync-backend/internal/auth/domain"
	authRepo "mailsync-backend/internal/auth/repository"
	authUsecase "mailsync-backend/internal/auth/usecase"
	emaildomain "mailsync-backend/internal/email/domain"
	emailRepo "mailsync-backend/internal/email/repository"
	emailUsecase "mailsync-backend/internal/email/usecase"
	"mailsync-backend/internal/embedding"
	"mailsync-backend/internal/event"
	"mailsync-backend/internal/notification"
	"mailsync-backend/pkg/chroma"
	"mailsync-backend/pkg/config"
	"mailsync-backend/pkg/database"
	"mailsync-backend/pkg/fcm"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/sse"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresConnection(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	// Auto-migrate database schemas
	if err := db.AutoMigrate(&authdomain.User{}, &authdomain.RefreshToken{}, &authdomain.FCMToken{}, &emaildomain.Email{}, &emaildomain.SyncCursor{}); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Initialize repositories (dependency injection)
	userRepo := authRepo.NewUserRepository(db)
	fcmTokenRepo := authRepo.NewFCMTokenRepository(db)
	emailRepository := emailRepo.NewEmailRepository(db)
	cursorRepo := emailRepo.NewSyncCursorRepository(db)

	// Initialize SSE Manager
	sseManager := sse.NewManager()
	go sseManager.Run()

	// Initialize Gmail service
	gmailService := gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Initialize Chroma client for semantic search (optional)
	var searcher emailUsecase.SemanticSearcher
	var vectorIndex embedding.VectorIndex
	if cfg.ChromaAPIKey != "" {
		chromaClient, err := chroma.NewChromaClient(cfg)
		if err != nil {
			log.Printf("[WARN] Failed to initialize Chroma client (semantic search disabled): %v", err)
		} else {
			searcher = chromaClient
			vectorIndex = chromaClient
			log.Println("Chroma client initialized successfully")
		}
	} else {
		log.Println("[WARN] CHROMA_API_KEY not set, semantic search disabled")
	}

	// Initialize event bus and sync engine
	bus := event.NewBus()
	engine := emailUsecase.NewSyncEngine(userRepo, emailRepository, cursorRepo, gmailService, bus, cfg)
	bus.SubscribeSyncRequested(engine.HandleSyncRequested)

	// Initialize embedding worker
	embedWorker := embedding.NewWorker(emailRepository, vectorIndex, 0)
	bus.SubscribeEmbeddingRequested(embedWorker.HandleEmbeddingRequested)
	embedWorker.Start()

	// Initialize Notification Service (Pub/Sub + FCM)
	// Only start if project ID is configured
	if cfg.GoogleProjectID != "" {
		// Extract short topic name from full resource name if necessary
		topicName := cfg.GooglePubSubTopic
		if parts := strings.Split(topicName, "/"); len(parts) > 1 {
			topicName = parts[len(parts)-1]
		}
		if topicName == "" {
			topicName = "gmail-updates"
		}

		// Initialize FCM Client (optional, notification service works without it)
		var fcmClient *fcm.Client
		if cfg.FirebaseCredentials != "" {
			fcmClient, err = fcm.NewClient(cfg.FirebaseCredentials)
			if err != nil {
				log.Printf("[WARN] Failed to initialize FCM client (push notifications disabled): %v", err)
				fcmClient = nil
			}
		}

		notifService, err := notification.NewService(cfg.GoogleProjectID, topicName, cfg.GoogleCredentials, sseManager, userRepo, fcmTokenRepo, fcmClient, bus)
		if err != nil {
			log.Printf("[ERROR] Failed to initialize notification service: %v", err)
		} else {
			bus.SubscribeMailboxChanged(notifService.HandleMailboxChanged)
			go notifService.Start(context.Background())
		}
	} else {
		log.Printf("[WARN] GoogleProjectID not configured, notification service disabled")
	}

	// Start event dispatch after all subscribers are registered
	bus.Run()

	// Initialize background poller
	poller := emailUsecase.NewPoller(userRepo, sseManager, gmailService, bus, sseManager, cfg)
	poller.Start()

	// Initialize use cases (dependency injection)
	authUsecaseInstance := authUsecase.NewAuthUsecase(userRepo, cfg)
	emailUsecaseInstance := emailUsecase.NewEmailUsecase(emailRepository, searcher)

	// Initialize HTTP handler
	handler := api.NewHandler(authUsecaseInstance, emailUsecaseInstance, fcmTokenRepo, sseManager, engine, bus, cfg)

	log.Printf("Server starting on port %s", cfg.Port)
	if err := handler.Start(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
