package main

import (
	"log"
	"net/http"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"abstat/internal"
	"abstat/internal/config"
	"abstat/ui"
)

// Minimal API entrypoint without signal handling, for containers that
// manage process lifecycle themselves.
func main() {
	logger := internal.NewDefaultLogger()
	_ = godotenv.Load()

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	apiApp := ui.NewApp(ui.Config{
		Port:     appConfig.Server.Port,
		Defaults: appConfig.Defaults(),
	})

	logger.Info("Starting API server on :%s", appConfig.Server.Port)
	if err := http.ListenAndServe(":"+appConfig.Server.Port, apiApp.Router()); err != nil {
		log.Fatal("Server failed:", err)
	}
}
