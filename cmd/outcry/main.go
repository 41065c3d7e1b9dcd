package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"outcry/internal/api"
	"outcry/internal/engine"
	"outcry/internal/store"
)

func main() {
	port := flag.String("port", "8080", "server port")
	dbPath := flag.String("db", "outcry.db", "SQLite database path")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	adminUser := flag.String("admin-user", "admin", "admin username")
	adminPass := flag.String("admin-pass", os.Getenv("OUTCRY_ADMIN_PASSWORD"), "admin password (or OUTCRY_ADMIN_PASSWORD)")
	positionLimit := flag.Int64("position-limit", 0, "override per-market position limit (0 = keep stored value)")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	if *adminPass == "" {
		log.Fatal("Admin password required: set -admin-pass or OUTCRY_ADMIN_PASSWORD")
	}
	if _, err := st.EnsureAdmin(*adminUser, *adminPass); err != nil {
		log.Fatalf("Failed to ensure admin account: %v", err)
	}

	if *positionLimit > 0 {
		if err := st.SetPositionLimit(*positionLimit); err != nil {
			log.Fatalf("Failed to set position limit: %v", err)
		}
		log.Printf("Position limit set to %d", *positionLimit)
	}

	eng := engine.New(st)
	server := api.NewServer(eng, st)

	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		server.SetCORSOrigins(origins)
		log.Printf("CORS restricted to: %v", origins)
	}

	addr := ":" + *port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	go func() {
		log.Printf("Starting outcry server on http://localhost%s", addr)
		log.Printf("Database: %s", *dbPath)

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Stop server internal goroutines
	server.Shutdown()

	// Graceful HTTP shutdown with 5 second timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := st.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Server shutdown complete")
}
