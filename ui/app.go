package ui

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"abstat/app"
	"abstat/domain/experiment"
	"abstat/internal/testkit"
)

// App represents the HTTP API application
type App struct {
	router   *chi.Mux
	service  *app.AnalysisService
	defaults experiment.Defaults
	reports  *testkit.InMemoryReportWriter
}

// Config holds HTTP application configuration
type Config struct {
	Port     string
	Defaults experiment.Defaults
}

// NewApp creates a new API application
func NewApp(config Config) *App {
	a := &App{
		router:   chi.NewRouter(),
		service:  app.NewAnalysisService(config.Defaults),
		defaults: config.Defaults,
		reports:  testkit.NewInMemoryReportWriter(),
	}

	a.setupMiddleware()
	a.setupRoutes()

	return a
}

// setupMiddleware configures HTTP middleware
func (a *App) setupMiddleware() {
	a.router.Use(middleware.RequestID)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Compress(5))
}

// setupRoutes configures the application routes
func (a *App) setupRoutes() {
	a.router.Get("/healthz", a.handleHealth)

	// API endpoints
	a.router.Post("/api/tests/run", a.handleRunTest)
	a.router.Post("/api/tests/upload", a.handleUploadTest)
	a.router.Get("/api/reports/{key}", a.handleGetReport)

	// Rendered report pages
	a.router.Get("/reports/{key}", a.handleReportPage)
}

// Router returns the router for mounting or serving
func (a *App) Router() http.Handler {
	return a.router
}
