package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.startedAt).Truncate(time.Second).String(),
	}).Write(w)
}

// handleReady reports whether the database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"rate_limiter": map[string]any{"active_clients": s.rateLimiter.activeClients()},
	}

	if err := s.store.Ping(ctx); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		checks["database"] = "failed"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	NewJSONResponse().Status(httpStatus).Data(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	traffic := s.tracer.GetMetrics()
	metric("http_requests_total", "counter", "Total number of HTTP requests", traffic.TotalRequests)
	metric("http_server_errors_total", "counter", "Requests answered with a 5xx status", traffic.ServerErrors)
	metric("ledger_charges_created_total", "counter", "Charges created through the API", atomic.LoadInt64(&s.metrics.chargesCreated))
	metric("ledger_repayments_created_total", "counter", "Repayments recorded through the API", atomic.LoadInt64(&s.metrics.repaymentsCreated))
	metric("security_suspicious_requests_total", "counter", "Requests flagged as suspicious", s.guard.flagged.Load())
	metric("rate_limit_active_clients", "gauge", "Clients tracked by the rate limiter", s.rateLimiter.activeClients())
	metric("rate_limit_rejected_total", "counter", "Mutating requests rejected by the rate limiter", s.rateLimiter.totalRejected())
	metric("app_uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.metrics.startedAt).Seconds()))
}

type userResponse struct {
	ID              core.UserID   `json:"id"`
	Email           string        `json:"email"`
	Name            string        `json:"name"`
	DefaultCurrency core.Currency `json:"default_currency"`
	CreatedAt       time.Time     `json:"created_at"`
}

type groupResponse struct {
	ID              core.GroupID  `json:"id"`
	Name            string        `json:"name"`
	CreatedBy       core.UserID   `json:"created_by"`
	DefaultCurrency core.Currency `json:"default_currency"`
	CreatedAt       time.Time     `json:"created_at"`
}

// handleCreateUser registers a user. No acting user is required.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	u, err := s.groups.CreateUser(r.Context(), sanitizeInput(req.Email), sanitizeInput(req.Name), core.NormalizeCurrency(req.DefaultCurrency))
	if err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Data(userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		DefaultCurrency: u.DefaultCurrency,
		CreatedAt:       u.CreatedAt,
	}).Write(w)
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	actor, err := actingUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	g, err := s.groups.CreateGroup(r.Context(), actor, sanitizeInput(req.Name), core.NormalizeCurrency(req.DefaultCurrency))
	if err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Data(groupResponse{
		ID:              g.ID,
		Name:            g.Name,
		CreatedBy:       g.CreatedBy,
		DefaultCurrency: g.DefaultCurrency,
		CreatedAt:       g.CreatedAt,
	}).Write(w)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req memberRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID <= 0 {
		writeError(w, r, fmt.Errorf("%w: user_id is required", errInvalidRequest))
		return
	}

	if err := s.groups.AddMember(r.Context(), groupID, actor, core.UserID(req.UserID)); err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().Status(http.StatusCreated).Data(map[string]int64{
		"group_id": int64(groupID),
		"user_id":  req.UserID,
	}).Write(w)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := s.groups.Members(r.Context(), groupID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().Data(map[string]any{
		"group_id": groupID,
		"members":  members,
	}).Write(w)
}

// groupRequestContext resolves the acting user and the {group_id} route
// variable, failing with 404 when the group does not exist.
func (s *Server) groupRequestContext(r *http.Request) (core.UserID, core.GroupID, error) {
	actor, err := actingUser(r)
	if err != nil {
		return 0, 0, err
	}
	id, err := pathID(r, "group_id")
	if err != nil {
		return 0, 0, err
	}
	if _, err := s.store.GetGroup(r.Context(), core.GroupID(id)); err != nil {
		return 0, 0, fmt.Errorf("group %d: %w", id, err)
	}
	return actor, core.GroupID(id), nil
}

// requireMember fails with services.ErrNotMember unless userID belongs to
// the group.
func (s *Server) requireMember(ctx context.Context, groupID core.GroupID, userID core.UserID) error {
	ok, err := s.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %d, group %d: %w", userID, groupID, services.ErrNotMember)
	}
	return nil
}

// precision returns the minor-unit digits of cur. An unknown code is a
// validation error, not a missing resource.
func (s *Server) precision(ctx context.Context, cur core.Currency) (int32, error) {
	if err := cur.Validate(); err != nil {
		return 0, err
	}
	p, err := s.store.CurrencyPrecision(ctx, cur)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", core.ErrInvalidCurrency, cur)
	}
	if err != nil {
		return 0, fmt.Errorf("currency precision: %w", err)
	}
	return p, nil
}

// displayPrecision is precision for rendering, falling back to two digits.
func (s *Server) displayPrecision(ctx context.Context, cur core.Currency) int32 {
	p, err := s.precision(ctx, cur)
	if err != nil {
		return core.DefaultPrecision
	}
	return p
}
