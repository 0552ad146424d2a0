package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"splitledger/internal/core"
	"splitledger/internal/split"
	"splitledger/internal/storage"
)

const maxBodyBytes = 1 << 20

var (
	errUnauthenticated = errors.New("missing or invalid X-User-ID header")
	errMalformedBody   = errors.New("malformed request body")
	errForbidden       = errors.New("forbidden")
	errInvalidRequest  = errors.New("invalid request")
)

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errMalformedBody)
	}
	return nil
}

// actingUser reads the caller's identity from X-User-ID.
func actingUser(r *http.Request) (core.UserID, error) {
	v := strings.TrimSpace(r.Header.Get("X-User-ID"))
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, errUnauthenticated
	}
	return core.UserID(id), nil
}

// pathID parses a positive integer route variable.
func pathID(r *http.Request, name string) (int64, error) {
	v := mux.Vars(r)[name]
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s %q: %w", name, v, storage.ErrNotFound)
	}
	return id, nil
}

// queryInt returns a bounded integer query parameter or def.
func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil || v < 1 {
		return def
	}
	return min(v, max)
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// amountField accepts either a decimal string ("12.34") or integer minor
// units. Exactly one must be set.
type amountField struct {
	Amount      string `json:"amount,omitempty"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
}

func (a amountField) cents(precision int32) (int64, error) {
	hasDecimal := strings.TrimSpace(a.Amount) != ""
	switch {
	case hasDecimal && a.AmountCents != nil:
		return 0, fmt.Errorf("%w: give amount or amount_cents, not both", errInvalidRequest)
	case a.AmountCents != nil:
		if *a.AmountCents < 0 {
			return 0, core.ErrInvalidAmount
		}
		return *a.AmountCents, nil
	case hasDecimal:
		return core.ParseAmount(a.Amount, precision)
	default:
		return 0, fmt.Errorf("%w: amount is required", core.ErrInvalidAmount)
	}
}

type splitRequest struct {
	Policy       string  `json:"policy"`
	Participants []int64 `json:"participants,omitempty"`
	Splits       []struct {
		UserID int64 `json:"user_id"`
		amountField
	} `json:"splits,omitempty"`
	Shares []struct {
		UserID int64 `json:"user_id"`
		Shares int64 `json:"shares"`
	} `json:"shares,omitempty"`
	Percents []struct {
		UserID  int64       `json:"user_id"`
		Percent json.Number `json:"percent"`
	} `json:"percents,omitempty"`
}

// policy converts the wire form into a split policy. Amounts in unequal
// splits are read with the charge currency's precision.
func (s splitRequest) policy(precision int32) (split.Policy, error) {
	kind := core.SplitPolicy(strings.ToLower(strings.TrimSpace(s.Policy)))
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	switch kind {
	case core.PolicyEqual:
		users := make([]core.UserID, len(s.Participants))
		for i, id := range s.Participants {
			users[i] = core.UserID(id)
		}
		return split.Equal{Users: users}, nil
	case core.PolicyUnequal:
		out := make([]split.Exact, len(s.Splits))
		for i, e := range s.Splits {
			cents, err := e.cents(precision)
			if err != nil {
				return nil, fmt.Errorf("split for user %d: %w", e.UserID, err)
			}
			out[i] = split.Exact{UserID: core.UserID(e.UserID), Cents: cents}
		}
		return split.Unequal{Splits: out}, nil
	case core.PolicyShares:
		out := make([]split.Share, len(s.Shares))
		for i, sh := range s.Shares {
			out[i] = split.Share{UserID: core.UserID(sh.UserID), Count: sh.Shares}
		}
		return split.Shares{Shares: out}, nil
	default:
		out := make([]split.Portion, len(s.Percents))
		for i, p := range s.Percents {
			pct, err := core.ParsePercent(p.Percent.String())
			if err != nil {
				return nil, fmt.Errorf("percent for user %d: %w", p.UserID, split.ErrInvalidInput)
			}
			out[i] = split.Portion{UserID: core.UserID(p.UserID), Percent: pct}
		}
		return split.Percent{Percents: out}, nil
	}
}

type itemRequest struct {
	Description string `json:"description"`
	amountField
}

type chargeRequest struct {
	PayerID     int64         `json:"payer_id"`
	Currency    string        `json:"currency"`
	Description string        `json:"description"`
	Notes       string        `json:"notes,omitempty"`
	OccurredAt  *time.Time    `json:"occurred_at,omitempty"`
	Split       splitRequest  `json:"split"`
	Items       []itemRequest `json:"items,omitempty"`
	amountField
}

type repaymentRequest struct {
	FromID   int64  `json:"from_user_id"`
	ToID     int64  `json:"to_user_id"`
	Currency string `json:"currency"`
	Notes    string `json:"notes,omitempty"`
	amountField
}

type groupRequest struct {
	Name            string `json:"name"`
	DefaultCurrency string `json:"default_currency,omitempty"`
}

type memberRequest struct {
	UserID int64 `json:"user_id"`
}

type userRequest struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	DefaultCurrency string `json:"default_currency,omitempty"`
}

// sanitizeInput trims the value and strips control characters other than
// tab and newlines.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
