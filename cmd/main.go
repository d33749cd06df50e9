package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/clients/gcp"
	"github.com/yungbote/affectlearn-backend/internal/clients/pinecone"
	"github.com/yungbote/affectlearn-backend/internal/db"
	"github.com/yungbote/affectlearn-backend/internal/handlers"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/observability"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/server"
	"github.com/yungbote/affectlearn-backend/internal/services"
	"github.com/yungbote/affectlearn-backend/internal/sse"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	shutdownOtel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "affectlearn-backend",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if shutdownOtel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOtel(ctx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	chatRepo := repos.NewChatRepo(thePG, log)
	sessionRepo := repos.NewSessionRepo(thePG, log)
	turnRepo := repos.NewTurnRepo(thePG, log)
	quizRepo := repos.NewQuizRepo(thePG, log)

	// SSE
	sseHub := sse.NewSSEHub(log)

	// GCP clients
	log.Info("Setting up media clients from main...")
	var bucketService gcp.BucketService
	staticArtifactDir := ""
	if cloudBucket, err := gcp.NewBucketService(log); err == nil {
		bucketService = cloudBucket
	} else {
		log.Warn("GCS bucket init failed, using local artifact storage", "error", err)
		localBucket, lbErr := gcp.NewLocalBucketService(log)
		if lbErr != nil {
			log.Error("Could not init local artifact storage", "error", lbErr)
			os.Exit(1)
		}
		bucketService = localBucket
		staticArtifactDir = localBucket.Dir()
	}
	speechClient, err := gcp.NewSpeech(log)
	if err != nil {
		log.Error("Could not init Speech client", "error", err)
		os.Exit(1)
	}
	defer speechClient.Close()
	visionClient, err := gcp.NewVision(log)
	if err != nil {
		log.Error("Could not init Vision client", "error", err)
		os.Exit(1)
	}
	defer visionClient.Close()
	ttsClient, err := gcp.NewTextToSpeech(log)
	if err != nil {
		log.Error("Could not init TextToSpeech client", "error", err)
		os.Exit(1)
	}
	defer ttsClient.Close()

	// Vector index
	pineconeClient, err := pinecone.New(log, pinecone.ConfigFromEnv(log))
	if err != nil {
		log.Error("Could not init Pinecone client", "error", err)
		os.Exit(1)
	}
	passageStore, err := pinecone.NewPassageStore(log, pineconeClient)
	if err != nil {
		log.Error("Could not init passage store", "error", err)
		os.Exit(1)
	}

	// Services
	log.Info("Setting up services from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	sentimentService, err := services.NewSentimentService(log)
	if err != nil {
		log.Error("Could not init SentimentService", "error", err)
		os.Exit(1)
	}
	retrieverService := services.NewRetrieverService(log, openaiClient, passageStore)
	composerService := services.NewComposerService(log, openaiClient)
	voiceService := services.NewVoiceService(log, ttsClient, bucketService)
	visualService, err := services.NewVisualService(log, bucketService)
	if err != nil {
		log.Error("Could not init VisualService", "error", err)
		os.Exit(1)
	}

	artifactCache := cache.NewArtifactCache(
		log,
		utils.GetEnvAsInt("ARTIFACT_CACHE_MAX_ENTRIES", 2048, log),
		time.Duration(utils.GetEnvAsInt("ARTIFACT_CACHE_TTL_MINUTES", 24*60, log))*time.Minute,
		cache.NewRedisStoreFromEnv(log),
	)

	authService, err := services.NewAuthService(thePG, log, userRepo, userTokenRepo)
	if err != nil {
		log.Error("Could not init AuthService", "error", err)
		os.Exit(1)
	}
	chatService := services.NewChatService(thePG, log, chatRepo, sessionRepo, turnRepo)
	quizService := services.NewQuizService(log, openaiClient, quizRepo, sessionRepo, artifactCache)
	orchestratorService := services.NewOrchestratorService(
		log,
		sentimentService,
		retrieverService,
		composerService,
		voiceService,
		visualService,
		artifactCache,
		sessionRepo,
		turnRepo,
		sseHub,
	)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	// Handlers
	log.Info("Setting up handlers from main...")
	authHandler := handlers.NewAuthHandler(log, authService)
	userHandler := handlers.NewUserHandler(log, userRepo)
	chatHandler := handlers.NewChatHandler(log, chatService)
	turnHandler := handlers.NewTurnHandler(log, orchestratorService, sentimentService, speechClient, visionClient, turnRepo)
	artifactHandler := handlers.NewArtifactHandler(log, orchestratorService, turnRepo)
	quizHandler := handlers.NewQuizHandler(log, quizService, sseHub)
	sseHandler := handlers.NewSSEHandler(log, sseHub)

	// Router
	router := server.NewRouter(server.RouterConfig{
		AuthHandler:       authHandler,
		AuthMiddleware:    authMiddleware,
		UserHandler:       userHandler,
		ChatHandler:       chatHandler,
		TurnHandler:       turnHandler,
		ArtifactHandler:   artifactHandler,
		QuizHandler:       quizHandler,
		SSEHandler:        sseHandler,
		StaticArtifactDir: staticArtifactDir,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
