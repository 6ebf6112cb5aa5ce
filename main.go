package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"abstat/internal"
	"abstat/internal/config"
	"abstat/ui"
)

func main() {
	logger := internal.NewDefaultLogger()

	// .env is optional; real deployments set the environment directly
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	apiApp := ui.NewApp(ui.Config{
		Port:     appConfig.Server.Port,
		Defaults: appConfig.Defaults(),
	})

	server := &http.Server{
		Addr:        ":" + appConfig.Server.Port,
		Handler:     apiApp.Router(),
		ReadTimeout: appConfig.Server.ReadTimeout,
	}

	go func() {
		logger.Info("Starting API server on :%s", appConfig.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Forced shutdown: %v", err)
	}
	logger.Info("Server stopped")
}
