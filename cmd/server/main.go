package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/rulecheck/internal/config"
	"github.com/liamcoop/rulecheck/internal/logger"
	"github.com/liamcoop/rulecheck/invoker"
	"github.com/liamcoop/rulecheck/rules"

	_ "github.com/lib/pq"
)

type Server struct {
	cfg    *config.Config
	db     *sql.DB // nil for the memory driver
	store  rules.Store
	engine *rules.Engine
	router *chi.Mux
}

// NewServer wires the store, invoker and engine described by cfg.
func NewServer(cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	store, err := s.openStore()
	if err != nil {
		return nil, err
	}
	return newServerWithStore(cfg, store, s.db, invoker.New(
		invoker.WithTimeout(cfg.Engine.TargetTimeout),
		invoker.WithRateLimit(cfg.Engine.TargetRPS, cfg.Engine.TargetBurst),
	)), nil
}

func newServerWithStore(cfg *config.Config, store rules.Store, db *sql.DB, inv rules.Invoker) *Server {
	s := &Server{
		cfg:   cfg,
		db:    db,
		store: store,
		engine: rules.NewEngine(store, inv,
			rules.WithConcurrency(cfg.Engine.Concurrency),
		),
	}
	s.setupRoutes()
	return s
}

func (s *Server) openStore() (rules.Store, error) {
	switch s.cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("postgres", s.cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db

		cache := rules.NewInMemoryRulesCache(rules.CacheConfig{TTL: s.cfg.Engine.CacheTTL})
		logger.Info("using postgres store", "cache_ttl", s.cfg.Engine.CacheTTL.String())
		return rules.NewCachedStore(rules.NewPostgresStore(db), cache), nil

	default:
		seed := rules.DefaultSeed()
		if s.cfg.Store.SeedFile != "" {
			loaded, err := rules.LoadSeedFile(s.cfg.Store.SeedFile)
			if err != nil {
				return nil, err
			}
			seed = loaded
		}
		store, err := rules.NewSeededStore(seed)
		if err != nil {
			return nil, fmt.Errorf("failed to load seed: %w", err)
		}
		logger.Info("using memory store",
			"rules", len(seed.Rules),
			"packs", len(seed.Packs),
			"targets", len(seed.Targets),
		)
		return store, nil
	}
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed", nil)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "Not Found", nil)
	})

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Execution. Run handlers apply the request timeout themselves.
	r.Post("/api/v1/run-pack", s.handleRunPack)
	r.Post("/api/v1/run-rule", s.handleRunRule)

	// Read-only definitions
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		r.Get("/api/v1/packs/{packId}", s.handleGetPack)
		r.Get("/api/v1/targets/{targetId}", s.handleGetTarget)
		r.Get("/api/v1/rules/{ruleId}", s.handleGetRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Store:  s.cfg.Store.Driver,
				Error:  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Store:    s.cfg.Store.Driver,
		Counters: logger.Snapshot(),
	})
}

// Run pack handler
func (s *Server) handleRunPack(w http.ResponseWriter, r *http.Request) {
	var req RunPackRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	out, err := s.engine.ExecuteRun(ctx, rules.ExecuteRunInput{
		PackID:    req.PackID,
		TargetID:  req.TargetID,
		Variables: req.Variables,
	})
	if timedOut(ctx, w) {
		return
	}
	if err != nil {
		respondExecutionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// Run single rule handler
func (s *Server) handleRunRule(w http.ResponseWriter, r *http.Request) {
	var req RunRuleRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	out, err := s.engine.ExecuteSingleRule(ctx, rules.ExecuteSingleRuleInput{
		RuleID:    req.RuleID,
		TargetID:  req.TargetID,
		Variables: req.Variables,
	})
	if timedOut(ctx, w) {
		return
	}
	if err != nil {
		respondExecutionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPack(w http.ResponseWriter, r *http.Request) {
	pack, err := s.store.LookupPack(r.Context(), chi.URLParam(r, "packId"))
	if err != nil {
		respondLookupError(w, "pack", err)
		return
	}
	respondJSON(w, http.StatusOK, pack)
}

func (s *Server) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.LookupTarget(r.Context(), chi.URLParam(r, "targetId"))
	if err != nil {
		respondLookupError(w, "target", err)
		return
	}
	respondJSON(w, http.StatusOK, target)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.LookupRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondLookupError(w, "rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// decodeRequest parses and validates a JSON body, writing a 400 on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid body", err)
		return false
	}
	if err := rules.ValidateInput(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid body", err)
		return false
	}
	return true
}

// timedOut writes a 504 when the run outlived its deadline. Results
// collected before the deadline are discarded.
func timedOut(ctx context.Context, w http.ResponseWriter) bool {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}
	respondError(w, http.StatusGatewayTimeout, "Run timed out", ctx.Err())
	return true
}

func respondExecutionError(w http.ResponseWriter, err error) {
	if errors.Is(err, rules.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	respondError(w, http.StatusInternalServerError, "Internal Server Error", err)
}

func respondLookupError(w http.ResponseWriter, kind string, err error) {
	if errors.Is(err, rules.ErrNotFound) {
		respondError(w, http.StatusNotFound, kind+" not found", nil)
		return
	}
	respondError(w, http.StatusInternalServerError, "failed to get "+kind, err)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error("request failed", "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	configPath := flag.String("config", os.Getenv("RULECHECK_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port, "store", cfg.Store.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
