package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"craftsync/security"
	"craftsync/store"
	"craftsync/sync"
	"craftsync/watch"
)

type HealthResponse struct {
	OK      bool   `json:"ok"`
	Version string `json:"version"`
	Service string `json:"service"`
}

const VERSION = "0.1.0"

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	log.Println("Starting CraftSync Server...")

	// Initialize Redis
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	if strings.HasPrefix(redisURL, "redis://") {
		redisURL = strings.TrimPrefix(redisURL, "redis://")
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Println("Connected to Redis")

	st := store.NewStore(redisClient)

	// OAuth and Google plumbing
	tokens := security.NewTokenManager(st)
	clientID := os.Getenv("GOOGLE_CLIENT_ID")
	clientSecret := os.Getenv("GOOGLE_CLIENT_SECRET")
	redirectURL := getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/auth/google/callback")
	if clientID != "" && clientSecret != "" {
		tokens.ConfigureOAuth(clientID, clientSecret, redirectURL)
	} else {
		log.Println("Warning: GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET not set, Google connect disabled")
	}
	google := security.NewGoogleClient(tokens)

	// Reconciliation engine
	engine := sync.NewEngine(st, sync.NewGoogleEventSource(google), sync.DefaultNotesFactory)

	// Push channel registrar
	webhookURL := getEnv("WEBHOOK_URL", "http://localhost:8080/calendar/webhook/notification")
	registrar := watch.NewRegistrar(st, google, engine, webhookURL)

	// Channel renewal
	renewEnabled := strings.ToLower(strings.TrimSpace(os.Getenv("CHANNEL_RENEW_ENABLED"))) != "false"
	renewInterval := parseDurationOrDefault(os.Getenv("CHANNEL_RENEW_INTERVAL"), time.Hour)
	renewThreshold := parseDurationOrDefault(os.Getenv("CHANNEL_RENEW_THRESHOLD"), 12*time.Hour)
	renewer := NewChannelRenewer(registrar, renewInterval, renewThreshold, renewEnabled)
	renewer.Start(ctx)

	// Proactive token refresh
	sweepEnabled := strings.ToLower(strings.TrimSpace(os.Getenv("TOKEN_SWEEP_ENABLED"))) != "false"
	sweepInterval := parseDurationOrDefault(os.Getenv("TOKEN_SWEEP_INTERVAL"), 30*time.Minute)
	sweepWindow := parseDurationOrDefault(os.Getenv("TOKEN_SWEEP_WINDOW"), time.Hour)
	sweeper := NewTokenSweeper(tokens, sweepInterval, sweepWindow, sweepEnabled)
	sweeper.Start(ctx)

	r := mux.NewRouter()

	// Health check endpoint
	r.HandleFunc("/healthz", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	// OAuth endpoints
	NewAuthHandler(st, tokens).RegisterRoutes(r)

	// Calendar picker and watch lifecycle
	NewCalendarHandler(st, google, registrar).RegisterRoutes(r)

	// Sync endpoints and the Google push target
	syncHandler := NewSyncHandler(st, engine)
	syncHandler.RegisterRoutes(r)
	NewWebhookHandler(syncHandler).RegisterRoutes(r)

	// Settings, activity feed, manual token sweep
	NewSettingsHandler(st, nil).RegisterRoutes(r)
	NewActivityHandler(st).RegisterRoutes(r)
	NewTokenSweepHandler(tokens, sweepWindow).RegisterRoutes(r)

	// Configure server
	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Handler:      r,
		Addr:         "0.0.0.0:" + port,
		WriteTimeout: 180 * time.Second,
		ReadTimeout:  180 * time.Second,
	}

	log.Printf("CraftSync Server v%s starting on %s", VERSION, srv.Addr)

	// Setup graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := HealthResponse{
		OK:      true,
		Version: VERSION,
		Service: "craftsync",
	}

	json.NewEncoder(w).Encode(response)
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]string{
		"message": "CraftSync API Server",
		"version": VERSION,
	}

	json.NewEncoder(w).Encode(response)
}

// Helper function to get environment variable with default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return def
}
