package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ajar-app/backend/internal/config"
	"github.com/ajar-app/backend/internal/handlers"
	"github.com/ajar-app/backend/internal/middleware"
	"github.com/ajar-app/backend/internal/models"
	"github.com/ajar-app/backend/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.New()

	// Initialize database
	db, err := models.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Run migrations
	if err := models.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize Redis
	redisClient := models.InitRedis(cfg)
	defer redisClient.Close()

	// Initialize services
	authService := services.NewAuthService(db, redisClient, cfg)
	userService := services.NewUserService(db)
	auditService := services.NewAuditService(db)
	smsService := services.NewSMSService(cfg)

	// Delivery strategy is fixed at startup, never branched per request
	var codeProvider services.CodeProvider
	switch cfg.VerifyMode {
	case "twilio_verify":
		codeProvider = services.NewTwilioVerifyProvider(cfg)
	default:
		codeProvider = services.NewLocalCodeProvider(smsService)
	}
	log.Printf("Phone verification mode: %s", codeProvider.Mode())

	testNumbers := services.NewTestNumberRegistry(cfg.TestPhoneNumbers)
	if testNumbers.Size() > 0 {
		log.Printf("Loaded %d test phone numbers", testNumbers.Size())
	}

	verificationStore := services.NewVerificationStore(db)
	verificationService := services.NewVerificationService(cfg, verificationStore, userService, codeProvider, testNumbers, auditService)

	// Periodic retention sweep for long-expired verification requests
	if cfg.VerifySweepEnabled {
		go func() {
			for {
				time.Sleep(1 * time.Hour)
				deleted, err := verificationService.CleanupExpired(context.Background())
				if err != nil {
					log.Printf("Verification request cleanup error: %v", err)
				} else if deleted > 0 {
					log.Printf("Verification request cleanup: removed %d expired requests", deleted)
				}
				if err := authService.CleanupExpiredTokens(); err != nil {
					log.Printf("Refresh token cleanup error: %v", err)
				}
				if _, err := auditService.CleanupOldEvents(90 * 24 * time.Hour); err != nil {
					log.Printf("Audit log cleanup error: %v", err)
				}
			}
		}()
	}

	// Setup Gin router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimiter(redisClient, cfg))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	verifyHandler := handlers.NewVerifyHandler(verificationService, auditService)

	// Health check outside API group (no /api/v1 prefix)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// Setup routes
	api := router.Group("/api/v1")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		})

		// Catch-all OPTIONS handler for CORS preflight requests
		api.OPTIONS("/*path", func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})

		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.POST("/logout", middleware.Auth(authService), authHandler.Logout)
		}

		// Phone verification (requires auth)
		verify := api.Group("/verify")
		verify.Use(middleware.Auth(authService))
		{
			verify.POST("/send", verifyHandler.Send)
			verify.POST("/check", verifyHandler.Check)
			verify.GET("/history", verifyHandler.History)
		}

		// User routes
		user := api.Group("/user")
		user.Use(middleware.Auth(authService))
		{
			user.GET("/profile", userHandler.GetProfile)
			user.PUT("/profile", userHandler.UpdateProfile)
			user.DELETE("/profile", userHandler.DeactivateAccount)
		}
	}

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
