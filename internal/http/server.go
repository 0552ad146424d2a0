// Package http serves the ledger's JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"splitledger/internal/cache"
	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/middleware/trace"
	"splitledger/internal/services"
)

// Store is the read side the handlers use directly.
type Store interface {
	Ping(ctx context.Context) error
	IsMember(ctx context.Context, groupID core.GroupID, userID core.UserID) (bool, error)
	CurrencyPrecision(ctx context.Context, cur core.Currency) (int32, error)
	GetGroup(ctx context.Context, id core.GroupID) (core.Group, error)
	GetCharge(ctx context.Context, id core.ChargeID) (core.Charge, error)
	ListGroupCharges(ctx context.Context, groupID core.GroupID, includeDeleted bool) ([]core.Charge, error)
	ListGroupRepayments(ctx context.Context, groupID core.GroupID) ([]core.Repayment, error)
	ListActivity(ctx context.Context, groupID core.GroupID, limit int) ([]core.ActivityEvent, error)
}

type Deps struct {
	Store    Store
	Charges  *services.ChargeService
	Balances *services.BalanceService
	Groups   *services.GroupService
	Logger   *log.Logger
}

type Options struct {
	Addr               string
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	CacheCleanup       time.Duration
}

type appMetrics struct {
	chargesCreated    int64
	repaymentsCreated int64
	startedAt         time.Time
}

type Server struct {
	http.Server
	store    Store
	charges  *services.ChargeService
	balances *services.BalanceService
	groups   *services.GroupService
	logger   *log.Logger

	tracer      *trace.Middleware
	rateLimiter *rateLimiter
	guard       *requestGuard
	metrics     *appMetrics
	caches      *cache.Manager

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, deps Deps) *Server {
	logger := deps.Logger.WithComponent(log.ComponentHTTP)
	s := &Server{
		store:       deps.Store,
		charges:     deps.Charges,
		balances:    deps.Balances,
		groups:      deps.Groups,
		logger:      logger,
		tracer:      trace.NewMiddleware(clientIP),
		rateLimiter: newRateLimiter(opts.RateLimitPerMinute),
		guard:       &requestGuard{},
		metrics:     &appMetrics{startedAt: time.Now()},
		caches:      cache.NewManager(deps.Logger),
	}

	if deps.Balances != nil {
		s.caches.Register(deps.Balances.Cache())
		interval := opts.CacheCleanup
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		s.caches.StartCleanup(interval)
	}

	router := mux.NewRouter()
	router.Use(
		log.Middleware(logger),
		s.tracer.Middleware,
		s.withSecurity,
		s.withRateLimit,
	)
	s.routes(router)

	origins := opts.CORSAllowedOrigins
	handler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-User-ID", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
	}).Handler(router)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{user_id}/balances", s.handleUserBalances).Methods(http.MethodGet)

	r.HandleFunc("/groups", s.handleCreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group_id}/members", s.handleAddMember).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group_id}/members", s.handleListMembers).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group_id}/charges", s.handleCreateCharge).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group_id}/charges", s.handleListCharges).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group_id}/repayments", s.handleCreateRepayment).Methods(http.MethodPost)
	r.HandleFunc("/groups/{group_id}/repayments", s.handleListRepayments).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group_id}/balances", s.handleGroupBalances).Methods(http.MethodGet)
	r.HandleFunc("/groups/{group_id}/activity", s.handleActivity).Methods(http.MethodGet)

	r.HandleFunc("/charges/{charge_id}", s.handleGetCharge).Methods(http.MethodGet)
	r.HandleFunc("/charges/{charge_id}", s.handleUpdateCharge).Methods(http.MethodPut)
	r.HandleFunc("/charges/{charge_id}", s.handleDeleteCharge).Methods(http.MethodDelete)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("no such route").Write(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})
}

// Shutdown stops background work and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		harden(w.Header())
		if reason := s.guard.inspect(r); reason != "" {
			log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(), "Suspicious request",
				log.FieldReason, reason,
				log.FieldClientIP, clientIP(r),
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldUserAgent, r.UserAgent())
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit limits mutating requests per client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
			ip := clientIP(r)
			if !s.rateLimiter.allow(ip) {
				log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldClientIP, ip,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").
					Header("Retry-After", "60").
					Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countCharge() {
	atomic.AddInt64(&s.metrics.chargesCreated, 1)
}

func (s *Server) countRepayment() {
	atomic.AddInt64(&s.metrics.repaymentsCreated, 1)
}
