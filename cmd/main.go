package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"marketbill/internal/caching"
	"marketbill/internal/handlers"
	"marketbill/internal/jobs/background"
	"marketbill/internal/repositories"
	"marketbill/internal/services"
	"marketbill/pkg/database"
)

const version = "1.0.0"

func main() {
	// Database connection
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Stripe configuration
	stripeKey := os.Getenv("STRIPE_API_KEY")
	if stripeKey == "" {
		log.Fatal("STRIPE_API_KEY environment variable is required")
	}

	// Redis configuration
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisPassword := os.Getenv("REDIS_PASSWORD")
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

	// MinIO configuration
	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	if minioEndpoint == "" {
		minioEndpoint = "localhost:9000"
	}
	minioAccessKey := os.Getenv("MINIO_ACCESS_KEY")
	if minioAccessKey == "" {
		minioAccessKey = "minioadmin"
	}
	minioSecretKey := os.Getenv("MINIO_SECRET_KEY")
	if minioSecretKey == "" {
		minioSecretKey = "minioadmin"
	}
	useSSL := os.Getenv("MINIO_USE_SSL") == "true"

	// SMTP configuration
	smtpCfg := services.SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     os.Getenv("SMTP_PORT"),
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		Sender:   os.Getenv("SMTP_SENDER"),
	}
	if smtpCfg.Host == "" {
		smtpCfg.Host = "localhost"
	}
	if smtpCfg.Port == "" {
		smtpCfg.Port = "25"
	}

	// Create repositories
	vendorRepo := repositories.NewVendorRepo(pool)
	feeRepo := repositories.NewFeeRepo(pool)

	// Create services
	cacheSvc := caching.NewRedisCacheService(redisAddr, redisPassword, redisDB)
	feeSvc := services.NewFeeService(feeRepo, cacheSvc)
	paymentSvc := services.NewStripeService(stripeKey)
	notifySvc := services.NewNotificationService(smtpCfg)

	reportSvc, err := services.NewMinioReportService(minioEndpoint, minioAccessKey, minioSecretKey, useSSL)
	if err != nil {
		log.Printf("WARN: report archiving disabled, MinIO init failed: %v", err)
		reportSvc = nil
	} else if err := reportSvc.EnsureBucketExists(context.Background()); err != nil {
		log.Printf("WARN: report bucket check failed: %v", err)
	}

	billingSvc := services.NewBillingService(vendorRepo, feeSvc, paymentSvc, notifySvc, reportSvc)

	// Start background jobs
	scheduler := background.NewJobScheduler(billingSvc, feeSvc)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Create handlers
	billingHandlers := handlers.NewBillingHandlers(billingSvc, feeSvc, vendorRepo)

	// Create Echo instance
	e := echo.New()

	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints
	e.GET("/health", handlers.HealthCheck)
	e.GET("/health/ready", func(c echo.Context) error {
		return handlers.ReadinessCheck(c, pool, version)
	})

	// Ops routes
	v1 := e.Group("/v1")
	v1.POST("/billing/run", billingHandlers.TriggerRun)
	v1.GET("/billing/vendors/:id", billingHandlers.GetVendor)
	v1.GET("/billing/fees", billingHandlers.GetFeeSchedule)

	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Fatalf("Invalid port %s: %v", portStr, err)
	}

	log.Printf("Marketbill billing service v%s starting on port %d", version, port)
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", port)))
}
