package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/peritaje/internal/config"
	"github.com/stwalsh4118/peritaje/internal/database"
	"github.com/stwalsh4118/peritaje/internal/form"
	"github.com/stwalsh4118/peritaje/internal/handlers"
	"github.com/stwalsh4118/peritaje/internal/locations"
	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/middleware"
	"github.com/stwalsh4118/peritaje/internal/realtime"
	"github.com/stwalsh4118/peritaje/internal/repository"
	"github.com/stwalsh4118/peritaje/internal/services"
	"github.com/stwalsh4118/peritaje/internal/session"
	"github.com/stwalsh4118/peritaje/internal/workflow"
)

const (
	shutdownTimeout = 30 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	log.Info("Starting Peritaje API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"transport":   cfg.Workflow.Transport,
	})
	if cfg.Callback.Secret == "" {
		log.Warn("WEBHOOK_SECRET is not set, workflow callbacks will be rejected", nil)
	}

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	if err := db.Migrate(ctx, log); err != nil {
		log.Fatal("Failed to apply migrations", err, nil)
	}

	sessions, err := session.NewManager(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		log.Fatal("Failed to create session manager", err, nil)
	}

	catalog, err := locations.Load()
	if err != nil {
		log.Fatal("Failed to load locations", err, nil)
	}

	validator, err := form.NewValidator(catalog)
	if err != nil {
		log.Fatal("Failed to build form validator", err, nil)
	}

	var trigger workflow.Trigger
	switch cfg.Workflow.Transport {
	case config.TransportAMQP:
		amqpTrigger, err := workflow.NewAMQPTrigger(cfg.Workflow.AMQPURL, cfg.Workflow.AMQPExchange, cfg.Workflow.AMQPRoutingKey, cfg.Workflow.Timeout, log)
		if err != nil {
			log.Fatal("Failed to connect to message broker", err, map[string]interface{}{
				"exchange": cfg.Workflow.AMQPExchange,
			})
		}
		defer amqpTrigger.Close()
		trigger = amqpTrigger
	default:
		trigger = workflow.NewWebhookTrigger(cfg.Workflow.WebhookURL, cfg.Workflow.Timeout, log)
	}
	revalidator := workflow.NewRevalidator(cfg.Revalidate.URL, cfg.Revalidate.Secret, log)

	// Initialize repository and service layers
	appraisalRepo := repository.NewAppraisalRepository(db)
	submissionService := services.NewSubmissionService(appraisalRepo, trigger, cfg.Status.PendingTimeout, log)
	appraisalService := services.NewAppraisalService(appraisalRepo, sessions, revalidator, cfg.Callback.Secret, log)
	reportService := services.NewReportService(appraisalService, log)

	// Realtime status delivery
	hub := realtime.NewHub(log)
	watcher := realtime.NewWatcher(appraisalRepo, hub, cfg.Status.PollInterval, log)
	listener := realtime.NewListener(db.Pool, hub, log)

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	go listener.Run(bgCtx)
	go watcher.RunSweeper(bgCtx, sweepInterval)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Register health check routes
	healthHandler := handlers.NewHealthHandler(db, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)

	// Initialize handlers
	appraisalHandler := handlers.NewAppraisalHandler(submissionService, appraisalService, validator, cfg.Server.MaxUploadMB)
	streamHandler := handlers.NewStreamHandler(appraisalService, watcher, cfg.CORS.Origins)
	reportHandler := handlers.NewReportHandler(reportService)
	locationsHandler := handlers.NewLocationsHandler(catalog)

	// The workflow callback authenticates with the shared secret, not a session.
	router.POST("/api/appraisal/receive", appraisalHandler.Receive)

	api := router.Group("/api")
	api.Use(middleware.Session(sessions, middleware.SessionOptions{Secure: cfg.IsProduction()}))
	{
		api.GET("/session", handlers.Session)
		api.GET("/locations", locationsHandler.List)

		appraisal := api.Group("/appraisal")
		{
			appraisal.POST("/submit", appraisalHandler.Submit)
			appraisal.POST("/validate", appraisalHandler.Validate)
			appraisal.POST("/toggle", appraisalHandler.Toggle)
			appraisal.GET("/groups", appraisalHandler.Groups)
			appraisal.POST("/materials", appraisalHandler.Materials)
			appraisal.GET("/details", appraisalHandler.Details)
			appraisal.GET("/status", appraisalHandler.Status)
			appraisal.GET("/subscribe", streamHandler.Subscribe)
			appraisal.POST("/associate-user", appraisalHandler.AssociateUser)
			appraisal.GET("/history", appraisalHandler.History)
			appraisal.GET("/pdf", reportHandler.PDF)
			appraisal.POST("/save-result", appraisalHandler.SaveResult)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}
	stopBackground()

	log.Info("Server exited", nil)
}
