package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"

	"marketbill/internal/caching"
	"marketbill/internal/repositories"
	"marketbill/internal/services"
	"marketbill/pkg/database"
)

// billingrun executes one reconciliation run and exits. It exists for
// manual reruns and for environments where scheduling lives outside the
// service process.
func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	stripeKey := os.Getenv("STRIPE_API_KEY")
	if stripeKey == "" {
		log.Fatal("STRIPE_API_KEY environment variable is required")
	}

	pool, err := database.NewPool(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisDB := 0
	if redisDBStr := os.Getenv("REDIS_DB"); redisDBStr != "" {
		if db, err := strconv.Atoi(redisDBStr); err == nil {
			redisDB = db
		}
	}

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

	vendorRepo := repositories.NewVendorRepo(pool)
	feeRepo := repositories.NewFeeRepo(pool)
	cacheSvc := caching.NewRedisCacheService(redisAddr, os.Getenv("REDIS_PASSWORD"), redisDB)
	feeSvc := services.NewFeeService(feeRepo, cacheSvc)
	paymentSvc := services.NewStripeService(stripeKey)
	notifySvc := services.NewNotificationService(smtpCfg)

	billingSvc := services.NewBillingService(vendorRepo, feeSvc, paymentSvc, notifySvc, nil)

	summary, err := billingSvc.Run(context.Background())
	if err != nil {
		log.Fatalf("Billing run failed: %v", err)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	log.Printf("Billing run complete:\n%s", out)
}
