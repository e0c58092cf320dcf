package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"tchat-server/internal/api"
	"tchat-server/internal/automation"
	"tchat-server/internal/config"
	"tchat-server/internal/database"
	"tchat-server/internal/logging"
	"tchat-server/internal/metrics"
	"tchat-server/internal/widget"
	"tchat-server/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}

	hub := ws.NewHub(logger.Named("ws"))
	go hub.Run()

	store := database.NewConversationStore(db, hub)
	engine := automation.NewEngine(store, logger.Named("automation"))
	engine.Recorder = store

	m := metrics.New()
	if cfg.MetricsEnabled {
		engine.Observer = m
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(logger.Named("http")))
	r.Use(api.CORS(cfg.CORSAllowedOrigins))
	if cfg.MetricsEnabled {
		r.Use(m.Middleware())
		r.GET("/metrics", m.Handler())
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", gin.WrapF(hub.ServeWs))

	// Widget Routes (public)
	widgetHandler := widget.NewHandler(cfg, store, engine, logger.Named("widget"))
	widgetGroup := r.Group("/api/widget")
	{
		widgetGroup.GET("/init", widgetHandler.Init)
		widgetGroup.POST("/conversation", widgetHandler.CreateConversation)
		widgetGroup.POST("/message", widgetHandler.PostMessage)
		widgetGroup.GET("/messages", widgetHandler.GetMessages)
	}

	// Dashboard API Routes
	apiLogger := logger.Named("api")
	api.RegisterRoutes(r.Group("/api"), api.Handlers{
		Chatbots:      api.NewChatbotHandler(db, apiLogger),
		Triggers:      api.NewTriggerHandler(db, apiLogger),
		Conversations: api.NewConversationHandler(db, hub, apiLogger),
		Team:          api.NewTeamHandler(db, apiLogger),
		Analytics:     api.NewAnalyticsHandler(db),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}
