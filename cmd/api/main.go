package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"defiers-auth/internal/app"
	"defiers-auth/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[MAIN] invalid configuration: %v", err)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		log.Fatalf("[MAIN] failed to build server: %v", err)
	}

	// Run server in a separate goroutine so we can listen for shutdown signals
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("[MAIN] server failed: %v", err)
			srv.Shutdown(context.Background())
			os.Exit(1)
		}
		return
	case <-quit:
	}

	log.Println("[MAIN] shutting down server...")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Printf("[MAIN] shutdown error: %v", err)
	}
	log.Println("[MAIN] server stopped")
}
