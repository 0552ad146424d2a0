package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/services"
)

type itemResponse struct {
	No          int    `json:"item_no"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	AmountCents int64  `json:"amount_cents"`
}

type splitResponse struct {
	UserID      core.UserID      `json:"user_id"`
	ItemNo      int              `json:"item_no,omitempty"`
	Amount      string           `json:"amount"`
	AmountCents int64            `json:"amount_cents"`
	Policy      core.SplitPolicy `json:"policy"`
	AuditValue  string           `json:"audit_value,omitempty"`
}

type chargeResponse struct {
	ID          core.ChargeID   `json:"id"`
	GroupID     core.GroupID    `json:"group_id"`
	PayerID     core.UserID     `json:"payer_id"`
	CreatedBy   core.UserID     `json:"created_by"`
	Amount      string          `json:"amount"`
	AmountCents int64           `json:"amount_cents"`
	Currency    core.Currency   `json:"currency"`
	Description string          `json:"description"`
	Notes       string          `json:"notes,omitempty"`
	Version     int64           `json:"version"`
	OccurredAt  time.Time       `json:"occurred_at"`
	CreatedAt   time.Time       `json:"created_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
	Items       []itemResponse  `json:"items,omitempty"`
	Splits      []splitResponse `json:"splits"`
}

type repaymentResponse struct {
	ID          core.RepaymentID `json:"id"`
	GroupID     core.GroupID     `json:"group_id"`
	FromID      core.UserID      `json:"from_user_id"`
	ToID        core.UserID      `json:"to_user_id"`
	CreatedBy   core.UserID      `json:"created_by"`
	Amount      string           `json:"amount"`
	AmountCents int64            `json:"amount_cents"`
	Currency    core.Currency    `json:"currency"`
	Notes       string           `json:"notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

func newChargeResponse(c core.Charge, precision int32) chargeResponse {
	resp := chargeResponse{
		ID:          c.ID,
		GroupID:     c.GroupID,
		PayerID:     c.PayerID,
		CreatedBy:   c.CreatedBy,
		Amount:      core.FormatCents(c.Amount.Cents, precision),
		AmountCents: c.Amount.Cents,
		Currency:    c.Amount.Currency,
		Description: c.Description,
		Notes:       c.Notes,
		Version:     c.Version,
		OccurredAt:  c.OccurredAt,
		CreatedAt:   c.CreatedAt,
		Splits:      make([]splitResponse, len(c.Splits)),
	}
	if !c.DeletedAt.IsZero() {
		deleted := c.DeletedAt
		resp.DeletedAt = &deleted
	}
	for _, it := range c.Items {
		resp.Items = append(resp.Items, itemResponse{
			No:          it.No,
			Description: it.Description,
			Amount:      core.FormatCents(it.Cents, precision),
			AmountCents: it.Cents,
		})
	}
	for i, sp := range c.Splits {
		resp.Splits[i] = splitResponse{
			UserID:      sp.UserID,
			ItemNo:      sp.ItemNo,
			Amount:      core.FormatCents(sp.Cents, precision),
			AmountCents: sp.Cents,
			Policy:      sp.Policy,
			AuditValue:  sp.AuditValue,
		}
	}
	return resp
}

func newRepaymentResponse(rp core.Repayment, precision int32) repaymentResponse {
	return repaymentResponse{
		ID:          rp.ID,
		GroupID:     rp.GroupID,
		FromID:      rp.FromID,
		ToID:        rp.ToID,
		CreatedBy:   rp.CreatedBy,
		Amount:      core.FormatCents(rp.Amount.Cents, precision),
		AmountCents: rp.Amount.Cents,
		Currency:    rp.Amount.Currency,
		Notes:       rp.Notes,
		CreatedAt:   rp.CreatedAt,
	}
}

// chargeInput turns a request body into service input. Amounts are read
// with the precision of the charge currency.
func (s *Server) chargeInput(ctx context.Context, actor core.UserID, req chargeRequest) (services.NewCharge, error) {
	cur := core.NormalizeCurrency(req.Currency)
	precision, err := s.precision(ctx, cur)
	if err != nil {
		return services.NewCharge{}, err
	}
	cents, err := req.cents(precision)
	if err != nil {
		return services.NewCharge{}, err
	}
	policy, err := req.Split.policy(precision)
	if err != nil {
		return services.NewCharge{}, err
	}

	in := services.NewCharge{
		ActorID:     actor,
		PayerID:     core.UserID(req.PayerID),
		Amount:      core.Money{Cents: cents, Currency: cur},
		Description: sanitizeInput(req.Description),
		Notes:       sanitizeInput(req.Notes),
		Policy:      policy,
	}
	if req.OccurredAt != nil {
		in.OccurredAt = req.OccurredAt.UTC()
	}
	for i, it := range req.Items {
		itemCents, err := it.cents(precision)
		if err != nil {
			return services.NewCharge{}, fmt.Errorf("item %d: %w", i+1, err)
		}
		in.Items = append(in.Items, core.Item{
			No:          i + 1,
			Description: sanitizeInput(it.Description),
			Cents:       itemCents,
		})
	}
	return in, nil
}

func (s *Server) handleCreateCharge(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in, err := s.chargeInput(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in.GroupID = groupID

	c, err := s.charges.CreateCharge(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.countCharge()

	NewJSONResponse().Status(http.StatusCreated).
		Header("Location", fmt.Sprintf("/charges/%d", c.ID)).
		Data(newChargeResponse(c, s.displayPrecision(r.Context(), c.Amount.Currency))).
		Write(w)
}

func (s *Server) handleListCharges(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), groupID, actor); err != nil {
		writeError(w, r, err)
		return
	}

	charges, err := s.store.ListGroupCharges(r.Context(), groupID, queryBool(r, "include_deleted"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	precisions := make(map[core.Currency]int32)
	out := make([]chargeResponse, len(charges))
	for i, c := range charges {
		p, ok := precisions[c.Amount.Currency]
		if !ok {
			p = s.displayPrecision(r.Context(), c.Amount.Currency)
			precisions[c.Amount.Currency] = p
		}
		out[i] = newChargeResponse(c, p)
	}

	NewJSONResponse().Data(map[string]any{"charges": out}).Write(w)
}

// loadCharge reads {charge_id} and checks the actor belongs to its group.
func (s *Server) loadCharge(r *http.Request) (core.UserID, core.Charge, error) {
	actor, err := actingUser(r)
	if err != nil {
		return 0, core.Charge{}, err
	}
	id, err := pathID(r, "charge_id")
	if err != nil {
		return 0, core.Charge{}, err
	}
	c, err := s.store.GetCharge(r.Context(), core.ChargeID(id))
	if err != nil {
		return 0, core.Charge{}, fmt.Errorf("charge %d: %w", id, err)
	}
	if err := s.requireMember(r.Context(), c.GroupID, actor); err != nil {
		return 0, core.Charge{}, err
	}
	return actor, c, nil
}

func (s *Server) handleGetCharge(w http.ResponseWriter, r *http.Request) {
	_, c, err := s.loadCharge(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(newChargeResponse(c, s.displayPrecision(r.Context(), c.Amount.Currency))).Write(w)
}

// handleUpdateCharge replaces the charge and recomputes every split.
func (s *Server) handleUpdateCharge(w http.ResponseWriter, r *http.Request) {
	actor, existing, err := s.loadCharge(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req chargeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in, err := s.chargeInput(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := s.charges.UpdateCharge(r.Context(), existing.ID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	NewJSONResponse().Data(newChargeResponse(c, s.displayPrecision(r.Context(), c.Amount.Currency))).Write(w)
}

func (s *Server) handleDeleteCharge(w http.ResponseWriter, r *http.Request) {
	actor, err := actingUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "charge_id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.charges.DeleteCharge(r.Context(), core.ChargeID(id), actor); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleCreateRepayment(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req repaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	cur := core.NormalizeCurrency(req.Currency)
	precision, err := s.precision(r.Context(), cur)
	if err != nil {
		writeError(w, r, err)
		return
	}
	cents, err := req.cents(precision)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rp, err := s.charges.RecordRepayment(r.Context(), services.NewRepayment{
		GroupID: groupID,
		ActorID: actor,
		FromID:  core.UserID(req.FromID),
		ToID:    core.UserID(req.ToID),
		Amount:  core.Money{Cents: cents, Currency: cur},
		Notes:   sanitizeInput(req.Notes),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.countRepayment()

	NewJSONResponse().Status(http.StatusCreated).Data(newRepaymentResponse(rp, precision)).Write(w)
}

func (s *Server) handleListRepayments(w http.ResponseWriter, r *http.Request) {
	actor, groupID, err := s.groupRequestContext(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.requireMember(r.Context(), groupID, actor); err != nil {
		writeError(w, r, err)
		return
	}

	repayments, err := s.store.ListGroupRepayments(r.Context(), groupID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]repaymentResponse, len(repayments))
	for i, rp := range repayments {
		out[i] = newRepaymentResponse(rp, s.displayPrecision(r.Context(), rp.Amount.Currency))
	}
	NewJSONResponse().Data(map[string]any{"repayments": out}).Write(w)
}
