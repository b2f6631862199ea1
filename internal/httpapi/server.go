// Package httpapi exposes the conversation store and sync executor over
// a JSON HTTP API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/branchpad/branchpad/internal/chat"
	"github.com/branchpad/branchpad/internal/syncer"
	"github.com/branchpad/branchpad/pkg/logger"
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxBodyBytes      int64
}

// Server wires the chat store and sync executor into HTTP handlers.
type Server struct {
	store     *chat.Store
	exec      *syncer.Executor
	olog      *logger.Logger
	cfg       ServerConfig
	validator *operationValidator
}

// NewServer creates the API server. exec may be nil for read-only
// deployments; the raw operations and sync endpoints then report 503.
func NewServer(store *chat.Store, exec *syncer.Executor, olog *logger.Logger, cfg ServerConfig) *Server {
	if olog == nil {
		olog = logger.NewNop()
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 120
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		store:     store,
		exec:      exec,
		olog:      olog,
		cfg:       cfg,
		validator: newOperationValidator(),
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogging(s.olog))
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/threads", func(r chi.Router) {
			r.Post("/", s.handleCreateThread)
			r.Get("/", s.handleListThreads)

			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", s.handleGetThread)
				r.Put("/title", s.handleUpdateTitle)
				r.Post("/messages", s.handleAddMessage)
				r.Get("/messages", s.handleMessageChain)
				r.Post("/branch", s.handleSelectBranch)
				r.Get("/draft", s.handleGetDraft)
				r.Put("/draft", s.handleUpdateDraft)
				r.Delete("/draft", s.handleClearDraft)
			})
		})

		r.Route("/messages/{messageID}", func(r chi.Router) {
			r.Patch("/", s.handleUpdateMessage)
			r.Delete("/", s.handleDeleteMessage)
		})

		r.Put("/borders/{borderID}", s.handleSetBorder)

		r.Post("/operations", s.handleRawOperation)
		r.Get("/sync/status", s.handleSyncStatus)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
