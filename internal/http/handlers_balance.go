package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"splitledger/internal/core"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// handleGroupBalances returns the whole sheet plus the caller's own row.
// Positive means the group owes the user.
func (s *Server) handleGroupBalances(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sheet, err := s.balances.GroupBalances(r.Context(), groupID, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	own := make(map[core.Currency]int64)
	for cur, users := range sheet {
		if v, ok := users[actor]; ok {
			own[cur] = v
		}
	}

	NewJSONResponse().Data(map[string]any{
		"group_id":     groupID,
		"balances":     sheet,
		"user_balance": own,
	}).Write(w)
}

// handleUserBalances returns the user's net position per currency across
// every group. Users may only read their own totals.
func (s *Server) handleUserBalances(w http.ResponseWriter, r *http.Request) {
	actor, err := actingUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "user_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if core.UserID(id) != actor {
		writeError(w, r, fmt.Errorf("%w: balances of user %d", errForbidden, id))
		return
	}

	totals, err := s.balances.UserTotals(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(totals).Write(w)
}

type activityResponse struct {
	ID        int64             `json:"id"`
	UserID    core.UserID       `json:"user_id"`
	Type      core.ActivityType `json:"type"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), groupID, actor); err != nil {
		writeError(w, r, err)
		return
	}

	events, err := s.store.ListActivity(r.Context(), groupID, queryInt(r, "limit", defaultActivityLimit, maxActivityLimit))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]activityResponse, len(events))
	for i, ev := range events {
		out[i] = activityResponse{
			ID:        ev.ID,
			UserID:    ev.UserID,
			Type:      ev.Type,
			CreatedAt: ev.CreatedAt,
		}
		if json.Valid([]byte(ev.Payload)) {
			out[i].Payload = json.RawMessage(ev.Payload)
		}
	}
	NewJSONResponse().Data(map[string]any{"activity": out}).Write(w)
}
