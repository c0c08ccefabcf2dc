package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"google.golang.org/api/option"

	fbapp "firebase.google.com/go/v4"

	"dormarket/internal/adapter/api"
	"dormarket/internal/adapter/api/handler"
	apimiddleware "dormarket/internal/adapter/api/middleware"
	"dormarket/internal/adapter/api/router"
	"dormarket/internal/adapter/repository"
	"dormarket/internal/infrastructure/firebase"
	"dormarket/internal/infrastructure/realtime"
	"dormarket/internal/infrastructure/websocket"
	"dormarket/internal/usecase"
	"dormarket/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var opts []option.ClientOption

	// Service account from environment variable (production) or file path
	// (local development). Default credentials otherwise.
	if serviceAccountJSON := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON"); serviceAccountJSON != "" {
		log.Printf("Using Firebase service account from environment variable")
		opts = append(opts, option.WithCredentialsJSON([]byte(serviceAccountJSON)))
	} else if serviceAccountPath := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH"); serviceAccountPath != "" {
		if _, err := os.Stat(serviceAccountPath); os.IsNotExist(err) {
			log.Fatalf("Service account file does not exist: %s", serviceAccountPath)
		}
		log.Printf("Using Firebase service account from file: %s", serviceAccountPath)
		opts = append(opts, option.WithCredentialsFile(serviceAccountPath))
	}

	firebaseApp, err := fbapp.NewApp(ctx, &fbapp.Config{ProjectID: cfg.FirebaseProject}, opts...)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase: %v", err)
	}

	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize Firebase Auth: %v", err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirebaseProject, opts...)
	if err != nil {
		log.Fatalf("Failed to create Firestore client: %v", err)
	}
	defer firestoreClient.Close()

	conversationRepo := repository.NewFirestoreConversationRepository(firestoreClient)
	messageRepo := repository.NewFirestoreMessageRepository(firestoreClient)
	userRepo := repository.NewCachedUserRepository(repository.NewFirestoreUserRepository(firestoreClient))
	productRepo := repository.NewFirestoreProductRepository(firestoreClient)
	blockRepo := repository.NewFirestoreBlockRepository(firestoreClient)

	firebaseAuthClient := firebase.NewFirebaseAuthClient(authClient)

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	unreadUseCase := usecase.NewUnreadUseCase(conversationRepo, messageRepo, wsManager)
	conversationUseCase := usecase.NewConversationUseCase(conversationRepo, userRepo, productRepo, blockRepo)
	listUseCase := usecase.NewConversationListUseCase(
		conversationRepo,
		messageRepo,
		conversationUseCase,
		unreadUseCase,
		wsManager,
		cfg.DebounceWindow,
		cfg.MinRefreshInterval,
	)
	streamUseCase := usecase.NewMessageStreamUseCase(
		conversationUseCase,
		conversationRepo,
		messageRepo,
		userRepo,
		listUseCase,
		unreadUseCase,
		realtime.Options{
			MaxRetries:   uint64(cfg.SubscribeRetries),
			Backoff:      cfg.SubscribeBackoff,
			PollInterval: cfg.PollInterval,
		},
	)

	handler.SetupHealthHandler(firebaseAuthClient)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(authClient)

	chatHandler := handler.NewChatHandler(listUseCase, streamUseCase, conversationUseCase, unreadUseCase)
	wsHandler := handler.NewWebSocketHandler(wsManager, listUseCase, unreadUseCase)

	router.Setup(e, authMiddleware, authClient, chatHandler, wsHandler)

	log.Printf("Starting server on port %s...", cfg.ServerPort)
	if err := e.Start(":" + cfg.ServerPort); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
