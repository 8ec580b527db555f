package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/modelserve-go/internal/auth"
	"github.com/modelserve-go/internal/config"
	"github.com/modelserve-go/internal/handlers"
	"github.com/modelserve-go/internal/i18n"
	"github.com/modelserve-go/internal/middleware"
	"github.com/modelserve-go/internal/services/backend"
	"github.com/modelserve-go/internal/services/cache"
	"github.com/modelserve-go/internal/services/generation"
	"github.com/modelserve-go/internal/services/storage"
	"github.com/modelserve-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("model_id", cfg.Model.ID).Info("Starting model serving API...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Select the model backend and start warming it up
	modelBackend, err := backend.Select(&cfg.Model, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to select model backend")
	}
	loader := backend.NewLoader(modelBackend, &cfg.Model, log)
	loader.Start(ctx)

	// Initialize cache
	cacheService := cache.NewCache(cfg, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg, log)

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize metrics
	metrics := middleware.NewMetrics()

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Initialize token manager and generation pipeline
	tokenManager := auth.NewTokenManager(cfg, log)
	pipeline := generation.NewPipeline(loader, storageManager, cacheService, &cfg.Generation, log)

	// Initialize handlers
	tokenHandler := handlers.NewTokenHandler(tokenManager, log)
	chatHandler := handlers.NewChatHandler(storageManager, pipeline, rateLimiter, localizer, metrics, log)
	modelHandler := handlers.NewModelHandler(loader, localizer, metrics, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(middleware.RequestMetrics(metrics, log))
	router.HandleFunc("/health", modelHandler.Health).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/token", tokenHandler.IssueToken).Methods("POST")
	api.HandleFunc("/model/loading-status", modelHandler.LoadingStatus).Methods("GET")

	protected := api.NewRoute().Subrouter()
	protected.Use(auth.Middleware(tokenManager, log))
	protected.HandleFunc("/chats", chatHandler.CreateChat).Methods("POST")
	protected.HandleFunc("/chats", chatHandler.ListChats).Methods("GET")
	protected.HandleFunc("/chat/{chatID}", chatHandler.GetChat).Methods("GET")
	protected.HandleFunc("/chat/{chatID}", chatHandler.SendMessage).Methods("POST")
	protected.HandleFunc("/chat/{chatID}", chatHandler.DeleteChat).Methods("DELETE")
	protected.HandleFunc("/chat/{chatID}/export", chatHandler.ExportChat).Methods("GET")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
		// ReadHeaderTimeout prevents slow-loris; Read/WriteTimeout are
		// omitted because SSE responses can legitimately run for minutes
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":    addr,
			"backend": modelBackend.Name(),
		}).Info("HTTP server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}

	// Cancel context to stop the warmup loop and any background goroutines
	cancel()

	log.Info("Server stopped")
}
