package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"duespay_app/internal/handlers"
	appMiddleware "duespay_app/internal/middleware"
	"duespay_app/internal/services"
	"duespay_app/internal/tasks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase
	credPath := os.Getenv("FIREBASE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = "./firebase-service-account.json"
	}

	authClient, err := services.InitFirebase(context.Background(), credPath)
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Authenticated endpoints will reject requests until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Redis is optional; without it the provider-customer creation lock
	// degrades to a plain check-then-set
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
			cache = nil
		}
	} else {
		log.Println("Warning: REDIS_URL not set, running without distributed locks")
	}
	if cache != nil {
		defer cache.Close()
	}

	razorpayClient := services.NewRazorpayService()
	scheduler := tasks.NewDBScheduler(db)
	dueService := services.NewDueService(db, cache, razorpayClient, scheduler)
	accessPolicy := services.NewAccessPolicy(db)

	// Create Echo instance
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = appMiddleware.JSONErrorHandler

	// Initialize handlers
	dueHandler := handlers.NewDueHandler(db, accessPolicy, dueService)
	paymentHandler := handlers.NewPaymentHandler(db, accessPolicy)
	webhookHandler := handlers.NewWebhookHandler(db, dueService)

	// Provider callbacks are signature-verified, not bearer-authenticated
	e.POST("/webhooks/razorpay", webhookHandler.HandleRazorpay)

	api := e.Group("/api", appMiddleware.RequireAuth(authClient, db))

	api.GET("/dues", dueHandler.ListDues)
	api.POST("/dues", dueHandler.CreateDues)
	api.GET("/dues/:id", dueHandler.GetDue)
	api.PATCH("/dues/:id", dueHandler.UpdateDue)
	api.DELETE("/dues/:id", dueHandler.DeleteDue)

	api.GET("/payments", paymentHandler.ListPayments)
	api.GET("/payments/:id", paymentHandler.GetPayment)
	api.POST("/payments", paymentHandler.RejectWrite)
	api.PATCH("/payments/:id", paymentHandler.RejectWrite)
	api.DELETE("/payments/:id", paymentHandler.RejectWrite)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
