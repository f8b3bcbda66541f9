package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/remote-debug-console/backend/api/handlers"
	"github.com/remote-debug-console/backend/internal/db"
	"github.com/remote-debug-console/backend/internal/relay"
	"github.com/remote-debug-console/backend/internal/remote"
	"github.com/remote-debug-console/backend/internal/repository"
	"github.com/remote-debug-console/backend/internal/session"
	"github.com/remote-debug-console/backend/internal/ws"
)

func main() {
	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/sessions.db")
	logDir := getEnv("LOG_DIR", "data/logs")
	gdbCommand := getEnv("GDB_COMMAND", "gdb")
	killOnDetach := getEnv("KILL_ON_DETACH", "") == "1"
	sshEnabled := getEnv("SSH_ENABLED", "1") == "1"

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}

	// Initialize database and session records
	database, err := db.Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	sessionRepo := repository.NewDebugSessionRepository(database)

	// Initialize debug session registry
	registry := session.NewRegistry(session.Config{
		GdbCommand:   gdbCommand,
		KillOnDetach: killOnDetach,
		LogDir:       logDir,
	})
	registry.SetRecorder(repository.NewRecorder(sessionRepo))
	defer registry.Close()

	// Initialize the event gateway and the relay loop feeding it
	gateway := ws.NewGateway()
	defer gateway.Close()

	relayLoop := relay.NewLoop(registry, gateway, relay.DefaultInterval)
	defer relayLoop.Stop()

	// Initialize remote ssh support
	var dialer remote.Dialer
	if sshEnabled {
		dialer = &remote.SSHDialer{}
	}
	remoteManager := remote.NewManager(dialer, gateway)
	defer remoteManager.Close()

	// Initialize handlers
	tokenStore := handlers.NewTokenStore()
	sessionHandler := handlers.NewSessionHandler(registry, sessionRepo)
	wsHandler := handlers.NewWebSocketHandler(registry, relayLoop, remoteManager, gateway, tokenStore)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		api.GET("/csrf_token", tokenStore.IssueToken)
		sessionHandler.RegisterRoutes(api)
	}

	// WebSocket endpoint
	wsHandler.RegisterRoutes(r)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		relayLoop.Stop()
		remoteManager.Close()
		registry.Close()
		gateway.Close()
		database.Close()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
