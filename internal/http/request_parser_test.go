package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"splitledger/internal/core"
	"splitledger/internal/split"
	"splitledger/internal/storage"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"Trip"}`, false},
		{"unknown field", `{"name":"Trip","owner":1}`, true},
		{"trailing data", `{"name":"Trip"}{"name":"Again"}`, true},
		{"truncated", `{"name":`, true},
		{"empty", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/groups", strings.NewReader(tt.body))
			var dst groupRequest
			err := decodeJSON(req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errMalformedBody) {
				t.Errorf("error %v is not errMalformedBody", err)
			}
		})
	}
}

func TestActingUser(t *testing.T) {
	tests := []struct {
		header string
		want   core.UserID
		ok     bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"alice", 0, false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", tt.header)
		got, err := actingUser(req)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("actingUser(%q) = %d, %v; want %d", tt.header, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, errUnauthenticated) {
			t.Errorf("actingUser(%q) error = %v, want errUnauthenticated", tt.header, err)
		}
	}
}

func TestPathID(t *testing.T) {
	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/charges/12", nil), map[string]string{"charge_id": "12"})
	if id, err := pathID(req, "charge_id"); err != nil || id != 12 {
		t.Fatalf("pathID() = %d, %v", id, err)
	}

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/charges/x", nil), map[string]string{"charge_id": "x"})
	if _, err := pathID(req, "charge_id"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pathID() error = %v, want ErrNotFound", err)
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=abc", 50},
		{"limit=9999", 500},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/groups/1/activity?"+tt.query, nil)
		if got := queryInt(req, "limit", 50, 500); got != tt.want {
			t.Errorf("queryInt(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestAmountField(t *testing.T) {
	cents := func(v int64) *int64 { return &v }

	tests := []struct {
		name      string
		field     amountField
		precision int32
		want      int64
		wantErr   error
	}{
		{"decimal string", amountField{Amount: "12.34"}, 2, 1234, nil},
		{"comma separator", amountField{Amount: "12,345"}, 2, 1235, nil},
		{"yen", amountField{Amount: "1001"}, 0, 1001, nil},
		{"minor units", amountField{AmountCents: cents(250)}, 2, 250, nil},
		{"negative minor units", amountField{AmountCents: cents(-1)}, 2, 0, core.ErrInvalidAmount},
		{"both", amountField{Amount: "1", AmountCents: cents(100)}, 2, 0, errInvalidRequest},
		{"neither", amountField{}, 2, 0, core.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.cents(tt.precision)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("cents() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("cents() = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestSplitRequestPolicy(t *testing.T) {
	var req splitRequest
	if err := decodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"policy":"PERCENT","percents":[{"user_id":1,"percent":"33.33"},{"user_id":2,"percent":66.67}]}`)), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := req.policy(2)
	if err != nil {
		t.Fatalf("policy() error = %v", err)
	}
	pct, ok := p.(split.Percent)
	if !ok || len(pct.Percents) != 2 || pct.Percents[1].Percent.String() != "66.67" {
		t.Fatalf("policy() = %#v", p)
	}

	unequal := splitRequest{Policy: "unequal"}
	unequal.Splits = append(unequal.Splits, struct {
		UserID int64 `json:"user_id"`
		amountField
	}{UserID: 3, amountField: amountField{Amount: "4.50"}})
	p, err = unequal.policy(2)
	if err != nil {
		t.Fatalf("unequal policy() error = %v", err)
	}
	if got := p.(split.Unequal).Splits[0].Cents; got != 450 {
		t.Errorf("unequal cents = %d, want 450", got)
	}

	if _, err := (splitRequest{Policy: "lottery"}).policy(2); !errors.Is(err, core.ErrUnknownPolicy) {
		t.Errorf("unknown policy error = %v", err)
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Dinner\x00 at\tJoe's\n "); got != "Dinner at\tJoe's" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
