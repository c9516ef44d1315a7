package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/schoolpay/backend/internal/config"
	"github.com/schoolpay/backend/internal/database"
	"github.com/schoolpay/backend/internal/handlers"
	mW "github.com/schoolpay/backend/internal/middleware"
	"github.com/schoolpay/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title School Fees Payment API
// @version 1.0
// @description Multi-tenant payment ingestion and reconciliation API for school fee collection
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	pipelineCfg := config.LoadPipelineConfig()

	tenantService := services.NewTenantService(db)
	accountService := services.NewAccountService(db)
	ledgerService := services.NewLedgerService(db)
	notifierService := services.NewNotifierService(redisClient, pipelineCfg)
	defer notifierService.Close()

	ingestionService := services.NewIngestionService(
		tenantService, accountService, ledgerService, notifierService, pipelineCfg)
	transactionService := services.NewTransactionService(db, ledgerService)
	authService := services.NewAuthService(db, redisClient)
	tokenService := services.NewTokenService(redisClient)
	bankClients := services.NewBankClientRegistry(tokenService)
	reconciliationService := services.NewReconciliationService(db, bankClients, pipelineCfg)
	channelService := services.NewChannelService()
	qrService := services.NewQRService(db, redisClient)
	qrHandler := handlers.NewQRHandler(qrService)
	eventsHandler := handlers.NewEventsHandler(redisClient, pipelineCfg)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)
	tenantMiddleware := mW.TenantMiddleware(tenantService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	// Serve OpenAPI spec
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Portal assets (channel logos, school crests)
	r.Handle("/static/*", http.StripPrefix("/static/", mW.StaticFileServer("./static")))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Provider callbacks authenticate by signature, not by operator token
		r.Get("/payments/channels", channelService.ListChannels)
		r.Post("/payments/mpesa/validation", ingestionService.MpesaValidation)
		r.Post("/payments/mpesa/confirmation", ingestionService.MpesaConfirmation)
		r.Post("/payments/webhooks/{provider}", ingestionService.BankWebhook)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			// Tenant-scoped operator endpoints
			r.Group(func(r chi.Router) {
				r.Use(tenantMiddleware)

				r.Post("/payments/bank", ingestionService.RecordBankPayment)
				r.Post("/payments/cash", ingestionService.RecordCashPayment)
				r.Get("/payments/stats", ingestionService.GetPaymentStats)

				r.Get("/transactions", transactionService.ListTransactions)
				r.Get("/transactions/{id}", transactionService.GetTransaction)
				r.Put("/transactions/{id}/reverse", transactionService.ReverseTransaction)
				r.Get("/students/{studentId}/transactions", transactionService.ListStudentTransactions)
				r.Get("/students/{studentId}/payment-qr", qrHandler.PaymentQR)

				r.Post("/reconciliation/run", reconciliationService.RunReconciliation)

				r.Get("/events", eventsHandler.Stream)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
