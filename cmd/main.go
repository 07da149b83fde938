package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"progression-engine/internal/auth"
	"progression-engine/internal/config"
	"progression-engine/internal/database"
	"progression-engine/internal/handlers"
	"progression-engine/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize JWT
	auth.InitJWT(cfg.App.JWTSecret)

	// Connect to database
	if err := database.Connect(cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db := database.GetDB()

	// Initialize services
	notifier := services.LogNotifier{}
	ledgerService := services.NewLedgerService(db)
	referralService := services.NewReferralService(db, ledgerService, notifier)
	claimService := services.NewClaimService(db, ledgerService, notifier)
	giftService := services.NewGiftService(db, ledgerService, notifier, cfg.App.PremiumTokensPerDay)
	pollService := services.NewPollService(db, notifier)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(ledgerService, cfg.App.InitialTokenBalance)
	referralHandler := handlers.NewReferralHandler(referralService)
	progressionHandler := handlers.NewProgressionHandler(ledgerService, claimService, giftService)
	pollHandler := handlers.NewPollHandler(pollService)

	// Set up Gin router
	router := gin.Default()

	// CORS middleware
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
	if frontendURL := os.Getenv("FRONTEND_URL"); frontendURL != "" {
		allowedOrigins = append(allowedOrigins, frontendURL)
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	router.POST("/auth/register", authHandler.Register)
	router.POST("/referral/click/:code", referralHandler.TrackClick)
	router.GET("/referral/validate/:code", referralHandler.ValidateCode)

	// API routes (protected)
	api := router.Group("/api")
	api.Use(auth.AuthMiddleware())
	{
		// Account endpoints
		api.GET("/account/me", progressionHandler.GetMe)

		// Referral endpoints
		api.GET("/referral/code", referralHandler.GetReferralCode)
		api.POST("/referral/register", referralHandler.ProcessReferral)
		api.GET("/referral/stats", referralHandler.GetReferralStats)

		// Reward endpoints
		api.POST("/rewards/:id/claim", progressionHandler.ClaimReward)

		// Premium endpoints
		api.POST("/premium/gift", progressionHandler.GiftPremium)

		// Achievement endpoints
		api.POST("/achievements/check", progressionHandler.CheckAchievements)

		// Poll endpoints
		api.POST("/posts/:id/vote", pollHandler.Vote)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Server.Port)
		log.Printf("Health check: http://localhost:%s/health", cfg.Server.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}
