package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/affectlearn-backend/internal/handlers"
	"github.com/yungbote/affectlearn-backend/internal/middleware"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

type RouterConfig struct {
	AuthHandler     *handlers.AuthHandler
	AuthMiddleware  *middleware.AuthMiddleware
	UserHandler     *handlers.UserHandler
	ChatHandler     *handlers.ChatHandler
	TurnHandler     *handlers.TurnHandler
	ArtifactHandler *handlers.ArtifactHandler
	QuizHandler     *handlers.QuizHandler
	SSEHandler      *handlers.SSEHandler

	// StaticArtifactDir serves locally stored artifacts when no cloud
	// bucket is configured. Empty disables the route.
	StaticArtifactDir string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("affectlearn-backend"))

	origins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5174", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)
	if cfg.StaticArtifactDir != "" {
		router.Static("/static/artifacts", cfg.StaticArtifactDir)
	}

	api := router.Group("/api")
	api.POST("/register", cfg.AuthHandler.Register)
	api.POST("/login", cfg.AuthHandler.Login)
	api.POST("/refresh", cfg.AuthHandler.Refresh)

	// Protected
	protected := api.Group("/")
	protected.Use(cfg.AuthMiddleware.RequireAuth())

	protected.POST("/logout", cfg.AuthHandler.Logout)
	protected.GET("/user", cfg.UserHandler.GetProfile)

	// Chats and sessions
	protected.POST("/chats", cfg.ChatHandler.CreateChat)
	protected.GET("/chats", cfg.ChatHandler.ListChats)
	protected.GET("/chats/:chat_id", cfg.ChatHandler.GetChat)
	protected.PATCH("/chats/:chat_id", cfg.ChatHandler.RenameChat)
	protected.DELETE("/chats/:chat_id", cfg.ChatHandler.DeleteChat)
	protected.GET("/chats/:chat_id/sessions", cfg.ChatHandler.ListSessions)
	protected.POST("/chats/:chat_id/sessions", cfg.ChatHandler.StartSession)
	protected.POST("/sessions/:session_id/end", cfg.ChatHandler.EndSession)

	// Turns
	protected.POST("/turns", cfg.TurnHandler.CreateTurn)
	protected.POST("/turns/voice-note", cfg.TurnHandler.CreateVoiceTurn)
	protected.GET("/turns/:turn_id", cfg.TurnHandler.GetTurn)
	protected.POST("/sentiment/text", cfg.TurnHandler.ProbeSentiment)
	protected.POST("/affect/facial", cfg.TurnHandler.ProbeFacialStress)

	// Artifacts
	protected.POST("/turns/:turn_id/voice", cfg.ArtifactHandler.RequestVoice)
	protected.GET("/turns/:turn_id/voice", cfg.ArtifactHandler.GetVoice)
	protected.POST("/visuals", cfg.ArtifactHandler.RequestVisual)

	// Quizzes
	protected.POST("/quizzes", cfg.QuizHandler.GenerateQuiz)
	protected.POST("/quizzes/:quiz_id/submit", cfg.QuizHandler.SubmitQuiz)

	// SSE
	protected.GET("/sse/stream", cfg.SSEHandler.Stream)
	protected.POST("/sse/subscribe", cfg.SSEHandler.Subscribe)
	protected.POST("/sse/unsubscribe", cfg.SSEHandler.Unsubscribe)

	return router
}
