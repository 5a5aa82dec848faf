package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ride-router/internal/config"
	"ride-router/internal/database"
	"ride-router/internal/geocoding"
	"ride-router/internal/handlers"
	"ride-router/internal/loader"
	"ride-router/internal/metrics"
	"ride-router/internal/routing"
)

// Server wraps the HTTP server and all dependencies
type Server struct {
	httpServer *http.Server
	handler    *handlers.Handler
	db         database.DataStore
	metrics    *metrics.Metrics
	listener   net.Listener
	addr       string
}

// Config holds server configuration
type Config struct {
	App *config.Config
	// Store overrides the store named by App.Store; the server closes it on shutdown
	Store database.DataStore
}

// New creates and initializes a new server (does not start it)
func New(ctx context.Context, cfg Config) (*Server, error) {
	app := cfg.App
	if app == nil {
		app = config.Default()
	}

	db := cfg.Store
	if db == nil {
		log.Printf("Initializing data store: driver=%s", app.Store.Driver)
		var err error
		db, err = OpenStore(ctx, app.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize data store: %w", err)
		}
	}

	m := metrics.New()

	optimizer, err := routing.NewOptimizer(routing.Options{
		Office:              app.OfficeCoords(),
		MinPassengers:       app.Routing.MinPassengers,
		MaxPassengers:       app.Routing.MaxPassengers,
		MinClusterSize:      app.Routing.MinClusterSize,
		CostPerKm:           app.Routing.CostPerKm,
		Workers:             app.Routing.Workers,
		LargeInputThreshold: app.Routing.LargeInputThreshold,
		Observer:            m,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}

	var geocoder geocoding.Geocoder
	if app.Geocoding.Enabled {
		geocoder = geocoding.NewNominatimGeocoder(geocoding.Options{
			BaseURL:   app.Geocoding.BaseURL,
			UserAgent: app.Geocoding.UserAgent,
		})
	}

	handler := &handlers.Handler{
		Config:    app,
		DB:        db,
		Geocoder:  geocoder,
		Optimizer: optimizer,
		Loader:    loader.NewCSVReader(geocoder),
		Runs:      handlers.NewRunStore(app.Server.MaxRuns),
		Metrics:   m,
	}

	limiter := rate.NewLimiter(rate.Limit(app.Server.OptimizeRate), app.Server.OptimizeBurst)
	mux := setupRoutes(handler, m, limiter)

	httpServer := &http.Server{
		Addr:         app.Server.Addr,
		Handler:      loggingMiddleware(corsMiddleware(m.Middleware(mux))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		db:         db,
		metrics:    m,
		addr:       app.Server.Addr,
	}, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and returns the actual address (useful for random port)
func (s *Server) Start() (string, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = listener
	actualAddr := listener.Addr().String()
	log.Printf("Starting server on %s", actualAddr)

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return actualAddr, nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return s.db.Close()
}

// setupRoutes configures all HTTP routes
func setupRoutes(handler *handlers.Handler, m *metrics.Metrics, limiter *rate.Limiter) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", handler.HandleHealthCheck)
	mux.HandleFunc("GET /api/v1/config", handler.HandleGetConfig)

	mux.HandleFunc("GET /api/v1/staff/sample", handler.HandleSampleStaff)
	mux.HandleFunc("POST /api/v1/staff/upload", handler.HandleUploadStaff)

	mux.Handle("POST /api/v1/routes/optimize", rateLimitMiddleware(limiter, http.HandlerFunc(handler.HandleOptimize)))

	mux.HandleFunc("GET /api/v1/runs/{id}", handler.HandleGetRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/geojson", handler.HandleRunGeoJSON)

	mux.HandleFunc("GET /api/v1/sessions", handler.HandleListSessions)
	mux.HandleFunc("POST /api/v1/sessions", handler.HandleSaveSession)
	mux.HandleFunc("GET /api/v1/sessions/{key}", handler.HandleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{key}", handler.HandleDeleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{key}/geojson", handler.HandleSessionGeoJSON)

	mux.HandleFunc("GET /api/v1/geocode/search", handler.HandleAddressSearch)

	mux.Handle("GET /metrics", m.Handler())

	return mux
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(lrw, r)

		duration := time.Since(start)
		log.Printf("[HTTP] %s %s %d %v", r.Method, r.URL.Path, lrw.statusCode, duration)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Only allow localhost origins (local map clients and development)
		if origin == "" ||
			strings.HasPrefix(origin, "http://localhost:") ||
			strings.HasPrefix(origin, "http://127.0.0.1:") {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware rejects requests beyond the limiter's budget with 429
func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			log.Printf("[HTTP] Rate limited: %s %s remote=%s", r.Method, r.URL.Path, r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(handlers.ErrorResponse{
				Error: handlers.ErrorDetail{Code: "RATE_LIMITED", Message: "Too many optimization requests, try again shortly"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
