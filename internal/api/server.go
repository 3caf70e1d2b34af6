package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/mail-sentinel/internal/cache"
	"github.com/raaihank/mail-sentinel/internal/classifier"
	"github.com/raaihank/mail-sentinel/internal/config"
	"github.com/raaihank/mail-sentinel/internal/logger"
	"github.com/raaihank/mail-sentinel/internal/pii"
	"github.com/raaihank/mail-sentinel/internal/store"
	"github.com/raaihank/mail-sentinel/internal/web"
	"github.com/raaihank/mail-sentinel/internal/websocket"
)

const version = "0.1.0"

// Classifier predicts the category of cleaned email text.
type Classifier interface {
	Ready() bool
	Classify(ctx context.Context, text string) (classifier.Prediction, error)
	ModelType() string
	Labels() []string
	Features(n int) []string
}

// AuditStore records classifications.
type AuditStore interface {
	Insert(ctx context.Context, c *store.Classification) error
	Recent(ctx context.Context, limit int) ([]store.Classification, error)
	CategoryCounts(ctx context.Context) ([]store.CategoryCount, error)
}

// Dependencies are the collaborators a Server uses. Cache and Store are
// optional; a nil Detector is built from the privacy config.
type Dependencies struct {
	Detector   *pii.Detector
	Classifier Classifier
	Cache      *cache.ResultCache
	Store      AuditStore
}

// Server represents the HTTP classification server
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	detector   *pii.Detector
	classifier Classifier
	cache      *cache.ResultCache
	store      AuditStore
	hub        *websocket.Hub
	limiter    *rateLimiter
	router     *mux.Router
	server     *http.Server
	startedAt  time.Time

	classifications atomic.Int64
	maskedEntities  atomic.Int64
	cacheHits       atomic.Int64
}

// New creates a new server instance
func New(cfg *config.Config, deps Dependencies, log *logger.Logger) (*Server, error) {
	if deps.Classifier == nil {
		return nil, errors.New("classifier is required")
	}

	detector := deps.Detector
	if detector == nil {
		var err error
		detector, err = pii.New(cfg.Privacy, log.WithComponent("privacy"))
		if err != nil {
			return nil, fmt.Errorf("failed to create privacy detector: %w", err)
		}
	}

	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("api"),
		detector:   detector,
		classifier: deps.Classifier,
		cache:      deps.Cache,
		store:      deps.Store,
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
	}

	if cfg.WebSocket.Enabled {
		s.hub = websocket.NewHub(cfg.WebSocket, log)
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.Burst)
		if err := s.limiter.trustProxies(cfg.RateLimit.TrustedProxies); err != nil {
			return nil, fmt.Errorf("failed to configure rate limiter: %w", err)
		}
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)

	// The websocket route is registered outside the logging chain, whose
	// response writer cannot be hijacked.
	if s.hub != nil {
		s.router.HandleFunc(s.config.WebSocket.Path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.recoveryMiddleware)
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	limited := api.NewRoute().Subrouter()
	limited.Use(s.rateLimitMiddleware)
	limited.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)
	limited.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub, or nil when websockets are disabled.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start runs background workers and serves HTTP until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting mail-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("model_loaded", s.classifier.Ready()),
		zap.Strings("detectors", s.detector.EnabledCategories()),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("store_enabled", s.store != nil),
		zap.Bool("websocket_enabled", s.hub != nil),
	)

	if s.hub != nil {
		go s.hub.Run(ctx)
		go s.statusLoop(ctx, 30*time.Second)
	}
	if s.limiter != nil {
		go s.limiterCleanupLoop(ctx, time.Minute)
	}

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping mail-sentinel server")
	return s.server.Shutdown(ctx)
}

func (s *Server) statusLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.hub.Broadcast(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.systemStatus(),
			})
		}
	}
}

func (s *Server) limiterCleanupLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := s.limiter.cleanup(now); removed > 0 {
				s.logger.Debug("Rate limiter cleanup", zap.Int("removed_clients", removed))
			}
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	status := websocket.SystemStatusEvent{
		Status:               s.status(),
		Uptime:               time.Since(s.startedAt).Round(time.Second).String(),
		ModelLoaded:          s.classifier.Ready(),
		TotalClassifications: s.classifications.Load(),
		TotalMaskedEntities:  s.maskedEntities.Load(),
		ActiveDetectors:      len(s.detector.EnabledCategories()),
	}
	if s.hub != nil {
		status.ConnectedClients = s.hub.ClientCount()
	}
	return status
}

func (s *Server) status() string {
	if s.classifier.Ready() {
		return "operational"
	}
	return "degraded"
}
