package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/dgraph-io/badger/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	"agrilink/internal/adapter/api"
	"agrilink/internal/adapter/api/handler"
	apimiddleware "agrilink/internal/adapter/api/middleware"
	"agrilink/internal/adapter/api/router"
	"agrilink/internal/adapter/repository"
	domainrepo "agrilink/internal/domain/repository"
	"agrilink/internal/infrastructure/websocket"
	"agrilink/internal/usecase"
	"agrilink/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var convRepo domainrepo.ConversationRepository
	var msgRepo domainrepo.MessageRepository
	var authClient *fbauth.Client

	switch cfg.StorageBackend {
	case "firestore":
		var opt option.ClientOption

		// Service account from environment variable (production) with a
		// file path fallback for local development.
		serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
		if serviceAccountJSON != "" {
			log.Printf("Using Firebase service account from environment variable")
			opt = option.WithCredentialsJSON([]byte(serviceAccountJSON))
		} else {
			serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
			if serviceAccountPath == "" {
				serviceAccountPath = "./serviceAccountKey.json"
			}

			if _, err := os.Stat(serviceAccountPath); os.IsNotExist(err) {
				log.Fatalf("Service account file does not exist: %s", serviceAccountPath)
			}

			log.Printf("Using Firebase service account from file: %s", serviceAccountPath)
			opt = option.WithCredentialsFile(serviceAccountPath)
		}

		firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opt)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase: %v", err)
		}

		authClient, err = firebaseApp.Auth(ctx)
		if err != nil {
			log.Fatalf("Failed to initialize Firebase Auth: %v", err)
		}

		firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opt)
		if err != nil {
			log.Fatalf("Failed to create Firestore client: %v", err)
		}
		defer firestoreClient.Close()

		convRepo = repository.NewFirestoreConversationRepository(firestoreClient)
		msgRepo = repository.NewFirestoreMessageRepository(firestoreClient)

	case "badger":
		db, err := badger.Open(badger.DefaultOptions(cfg.BadgerPath))
		if err != nil {
			log.Fatalf("Failed to open badger store at %s: %v", cfg.BadgerPath, err)
		}
		defer db.Close()

		convRepo = repository.NewBadgerConversationRepository(db)
		msgRepo = repository.NewBadgerMessageRepository(db)

	default:
		log.Fatalf("Unknown storage backend: %s", cfg.StorageBackend)
	}

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)
	notifier := websocket.NewNotifier(wsManager)

	messagingUseCase := usecase.NewMessagingUseCase(convRepo, msgRepo, notifier)
	inboxUseCase := usecase.NewInboxUseCase(convRepo, msgRepo)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(authClient, cfg.Environment)
	rateLimitMiddleware := apimiddleware.NewRateLimitMiddleware()
	rateLimitMiddleware.StartCleanup(ctx)

	conversationHandler := handler.NewConversationHandler(messagingUseCase, inboxUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager, authMiddleware)
	healthHandler := handler.NewHealthHandler(cfg.StorageBackend)

	router.Setup(e, conversationHandler, wsHandler, healthHandler, authMiddleware, rateLimitMiddleware)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	e.Logger.Fatal(e.Start(":" + cfg.ServerPort))
}
