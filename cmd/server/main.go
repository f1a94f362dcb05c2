package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"billing-backend/internal/auth"
	"billing-backend/internal/cache"
	"billing-backend/internal/config"
	"billing-backend/internal/database"
	"billing-backend/internal/db"
	"billing-backend/internal/handlers"
	"billing-backend/internal/health"
	h "billing-backend/internal/http"
	"billing-backend/internal/metering"
	"billing-backend/internal/middleware"
	"billing-backend/internal/monitoring"
	"billing-backend/internal/repositories"
	"billing-backend/internal/services"
	"billing-backend/migrations"
)

func main() {
	cfg := config.Load()

	pool := db.Connect(cfg)
	defer pool.Close()

	// Redis cache is optional - everything degrades to direct DB reads
	if err := cache.Init(); err != nil {
		log.Printf("[Redis] Cache unavailable: %v (falling back to direct queries)", err)
	} else {
		log.Println("[Redis] Cache connected successfully")
	}

	// Schema migrations are embedded so a fresh database bootstraps itself
	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := database.NewMigrator(pool, migrations.FS).RunMigrations(migrateCtx); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	cancelMigrate()

	// Monitoring dashboard API on its own port
	go monitoring.NewServer(pool, cfg.Server.MonitoringPort).Start()

	healthChecker := health.NewHealthChecker(pool)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpirationHours)*time.Hour)

	// Repositories
	userRepo := repositories.NewUserRepository(pool)
	customerRepo := repositories.NewCustomerRepository(pool)
	invoiceRepo := repositories.NewInvoiceRepository(pool)
	systemSettingRepo := repositories.NewSystemSettingRepository(pool)
	totpRepo := repositories.NewTOTPRepository(pool)

	// Usage metering clients, one per provider category
	smsClient := metering.NewSMSClient(cfg.Metering.SMS)
	voiceClient := metering.NewVoiceClient(cfg.Metering.Voice)
	convAIClient := metering.NewConvAIClient(cfg.Metering.ConvAI)

	// Services
	costService := services.NewCostService(smsClient, voiceClient, convAIClient)
	previewService := services.NewPreviewService(customerRepo, costService)
	stripeService := services.NewStripeService(cfg.Stripe.SecretKey, systemSettingRepo)
	generationService := services.NewGenerationService(previewService, customerRepo, stripeService, invoiceRepo, cfg.Invoicing)
	customerService := services.NewCustomerService(customerRepo)
	invoiceService := services.NewInvoiceService(invoiceRepo)
	reportService := services.NewReportService(invoiceRepo, cfg.Export)
	userService := services.NewUserService(userRepo, jwtManager)
	totpService := services.NewTOTPService(userRepo, totpRepo)
	settingService := services.NewSystemSettingService(systemSettingRepo)

	// Flip sent invoices past their due date to overdue once an hour
	invoiceService.StartOverdueSweep(context.Background(), time.Hour)

	// Handlers
	authHandler := handlers.NewAuthHandler(userService)
	totpHandler := handlers.NewTOTPHandler(totpService, userService, jwtManager)
	userHandler := handlers.NewUserHandler(userService)
	customerHandler := handlers.NewCustomerHandler(customerService)
	invoiceHandler := handlers.NewInvoiceHandler(invoiceService, reportService)
	generationHandler := handlers.NewGenerationHandler(generationService, reportService)
	settingsHandler := handlers.NewSettingsHandler(settingService)
	healthHandler := handlers.NewHealthHandler(healthChecker)

	authMiddleware := middleware.NewAuthMiddleware(jwtManager, userRepo)
	corsMiddleware := middleware.NewCORS(cfg)

	router := h.NewRouter(
		authHandler,
		totpHandler,
		userHandler,
		customerHandler,
		invoiceHandler,
		generationHandler,
		settingsHandler,
		healthHandler,
		authMiddleware,
	)

	handler := middleware.PanicRecovery(middleware.MetricsMiddleware(corsMiddleware(router)))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Server running on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
