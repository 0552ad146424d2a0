package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"splitledger/internal/core"
	"splitledger/internal/log"
	"splitledger/internal/services"
	"splitledger/internal/storage"
)

type apiFixture struct {
	t     *testing.T
	srv   *Server
	alice core.UserID
	bob   core.UserID
	carol core.UserID
	group core.GroupID
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	logger := log.New(log.Config{Output: io.Discard, Component: log.ComponentApp})
	balances := services.NewBalanceService(repo, 16, time.Minute, logger)
	srv := NewServer(Options{Addr: ":0", RateLimitPerMinute: 1000, CORSAllowedOrigins: []string{"https://app.example"}}, Deps{
		Store:    repo,
		Charges:  services.NewChargeService(repo, nil, balances, logger),
		Balances: balances,
		Groups:   services.NewGroupService(repo, nil, logger),
		Logger:   logger,
	})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	f := &apiFixture{t: t, srv: srv}
	f.alice = f.createUser("alice@example.com", "Alice")
	f.bob = f.createUser("bob@example.com", "Bob")
	f.carol = f.createUser("carol@example.com", "Carol")

	var g struct {
		ID core.GroupID `json:"id"`
	}
	f.mustJSON(f.do(http.MethodPost, "/groups", f.alice, `{"name":"Trip","default_currency":"USD"}`), http.StatusCreated, &g)
	f.group = g.ID
	for _, u := range []core.UserID{f.bob, f.carol} {
		f.mustJSON(f.do(http.MethodPost, f.groupPath("/members"), f.alice, `{"user_id":`+strconv.FormatInt(int64(u), 10)+`}`), http.StatusCreated, nil)
	}
	return f
}

func (f *apiFixture) createUser(email, name string) core.UserID {
	var u struct {
		ID core.UserID `json:"id"`
	}
	f.mustJSON(f.do(http.MethodPost, "/users", 0, `{"email":"`+email+`","name":"`+name+`"}`), http.StatusCreated, &u)
	return u.ID
}

func (f *apiFixture) groupPath(suffix string) string {
	return "/groups/" + strconv.FormatInt(int64(f.group), 10) + suffix
}

func (f *apiFixture) do(method, path string, actor core.UserID, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(int64(actor), 10))
	}
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) mustJSON(rr *httptest.ResponseRecorder, status int, dst any) {
	f.t.Helper()
	if rr.Code != status {
		f.t.Fatalf("status=%d want %d body=%s", rr.Code, status, rr.Body.String())
	}
	if dst == nil {
		return
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		f.t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
}

type balancesBody struct {
	Balances    map[core.Currency]map[string]int64 `json:"balances"`
	UserBalance map[core.Currency]int64            `json:"user_balance"`
}

func (f *apiFixture) balances(actor core.UserID) balancesBody {
	f.t.Helper()
	var b balancesBody
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/balances"), actor, ""), http.StatusOK, &b)
	return b
}

func uid(id core.UserID) string { return strconv.FormatInt(int64(id), 10) }

func TestHealthAndReady(t *testing.T) {
	f := newAPI(t)

	rr := f.do(http.MethodGet, "/healthz", 0, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing security headers, nosniff=%q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	var ready struct {
		Status string         `json:"status"`
		Checks map[string]any `json:"checks"`
	}
	f.mustJSON(f.do(http.MethodGet, "/readyz", 0, ""), http.StatusOK, &ready)
	if ready.Status != "ready" || ready.Checks["database"] != "ok" {
		t.Fatalf("unexpected readiness %+v", ready)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newAPI(t)
	const id = "6f1c2a3e-8b4d-4c5e-9f60-718293a4b5c6"

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", id)
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != id {
		t.Fatalf("X-Request-ID=%q want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rr = httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got == "not-a-uuid" || got == "" {
		t.Fatalf("invalid request id was not replaced: %q", got)
	}
}

func TestCreateChargeEqualSplitAndBalances(t *testing.T) {
	f := newAPI(t)

	body := `{"payer_id":` + uid(f.alice) + `,"amount":"30.00","currency":"usd","description":"Dinner",
		"split":{"policy":"equal","participants":[` + uid(f.alice) + `,` + uid(f.bob) + `,` + uid(f.carol) + `]}}`
	var c chargeResponse
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.alice, body), http.StatusCreated, &c)

	if c.AmountCents != 3000 || c.Amount != "30.00" || c.Currency != "USD" {
		t.Fatalf("unexpected charge %+v", c)
	}
	if len(c.Splits) != 3 {
		t.Fatalf("splits=%d want 3", len(c.Splits))
	}
	for _, sp := range c.Splits {
		if sp.AmountCents != 1000 || sp.Policy != core.PolicyEqual {
			t.Fatalf("unexpected split %+v", sp)
		}
	}

	b := f.balances(f.bob)
	usd := b.Balances["USD"]
	if usd[uid(f.alice)] != 2000 || usd[uid(f.bob)] != -1000 || usd[uid(f.carol)] != -1000 {
		t.Fatalf("unexpected balances %v", usd)
	}
	if b.UserBalance["USD"] != -1000 {
		t.Fatalf("user_balance=%v want -1000", b.UserBalance)
	}
}

func TestCreateChargeByPercentAndShares(t *testing.T) {
	f := newAPI(t)

	percent := `{"payer_id":` + uid(f.bob) + `,"amount_cents":1001,"currency":"USD","description":"Taxi",
		"split":{"policy":"percent","percents":[{"user_id":` + uid(f.alice) + `,"percent":33.33},{"user_id":` + uid(f.bob) + `,"percent":66.67}]}}`
	var c chargeResponse
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.bob, percent), http.StatusCreated, &c)
	if got := c.Splits[0].AmountCents + c.Splits[1].AmountCents; got != 1001 {
		t.Fatalf("percent splits sum=%d want 1001", got)
	}
	if c.Splits[0].AuditValue != "33.33%" {
		t.Fatalf("audit value=%q want 33.33%%", c.Splits[0].AuditValue)
	}

	shares := `{"payer_id":` + uid(f.alice) + `,"amount":"10","currency":"USD","description":"Snacks",
		"split":{"policy":"shares","shares":[{"user_id":` + uid(f.alice) + `,"shares":2},{"user_id":` + uid(f.carol) + `,"shares":1}]}}`
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.alice, shares), http.StatusCreated, &c)
	if c.Splits[0].AmountCents != 667 || c.Splits[1].AmountCents != 333 {
		t.Fatalf("unexpected share splits %+v", c.Splits)
	}
}

func TestCreateChargeErrors(t *testing.T) {
	f := newAPI(t)
	outsider := f.createUser("dave@example.com", "Dave")
	members := `[` + uid(f.alice) + `,` + uid(f.bob) + `]`

	tests := []struct {
		name   string
		actor  core.UserID
		path   string
		body   string
		status int
	}{
		{"missing actor", 0, f.groupPath("/charges"), `{}`, http.StatusUnauthorized},
		{"malformed json", f.alice, f.groupPath("/charges"), `{"payer_id":`, http.StatusBadRequest},
		{"unknown field", f.alice, f.groupPath("/charges"), `{"bogus":1}`, http.StatusBadRequest},
		{"unknown group", f.alice, "/groups/999/charges", `{}`, http.StatusNotFound},
		{"bad group id", f.alice, "/groups/abc/charges", `{}`, http.StatusNotFound},
		{"not a member", outsider, f.groupPath("/charges"),
			`{"payer_id":` + uid(outsider) + `,"amount":"1","currency":"USD","description":"x","split":{"policy":"equal","participants":[` + uid(outsider) + `]}}`,
			http.StatusForbidden},
		{"unknown currency", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"1","currency":"XYZ","description":"x","split":{"policy":"equal","participants":` + members + `}}`,
			http.StatusUnprocessableEntity},
		{"percent sum", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"1","currency":"USD","description":"x","split":{"policy":"percent","percents":[{"user_id":` + uid(f.alice) + `,"percent":50},{"user_id":` + uid(f.bob) + `,"percent":49}]}}`,
			http.StatusUnprocessableEntity},
		{"unequal mismatch", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"10","currency":"USD","description":"x","split":{"policy":"unequal","splits":[{"user_id":` + uid(f.alice) + `,"amount":"4"},{"user_id":` + uid(f.bob) + `,"amount":"5"}]}}`,
			http.StatusUnprocessableEntity},
		{"unknown policy", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"1","currency":"USD","description":"x","split":{"policy":"random"}}`,
			http.StatusUnprocessableEntity},
		{"both amount forms", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"1","amount_cents":100,"currency":"USD","description":"x","split":{"policy":"equal","participants":` + members + `}}`,
			http.StatusUnprocessableEntity},
		{"empty description", f.alice, f.groupPath("/charges"),
			`{"payer_id":` + uid(f.alice) + `,"amount":"1","currency":"USD","description":"  ","split":{"policy":"equal","participants":` + members + `}}`,
			http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, tt.path, tt.actor, tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.status, rr.Body.String())
			}
			var body errorBody
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Fatalf("expected error body, got %s", rr.Body.String())
			}
		})
	}

	var list struct {
		Charges []chargeResponse `json:"charges"`
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/charges"), f.alice, ""), http.StatusOK, &list)
	if len(list.Charges) != 0 {
		t.Fatalf("rejected requests persisted %d charges", len(list.Charges))
	}
}

func TestItemizedCharge(t *testing.T) {
	f := newAPI(t)

	body := `{"payer_id":` + uid(f.alice) + `,"amount":"15.00","currency":"USD","description":"Groceries",
		"items":[{"description":"Bread","amount":"5.00"},{"description":"Cheese","amount":"10.00"}],
		"split":{"policy":"equal","participants":[` + uid(f.alice) + `,` + uid(f.bob) + `]}}`
	var c chargeResponse
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.alice, body), http.StatusCreated, &c)
	if len(c.Items) != 2 || c.Items[1].No != 2 || c.Items[1].AmountCents != 1000 {
		t.Fatalf("unexpected items %+v", c.Items)
	}
	if len(c.Splits) != 4 {
		t.Fatalf("splits=%d want 4", len(c.Splits))
	}

	bad := strings.Replace(body, `"15.00"`, `"16.00"`, 1)
	if rr := f.do(http.MethodPost, f.groupPath("/charges"), f.alice, bad); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("items mismatch status=%d", rr.Code)
	}
}

func TestUpdateAndDeleteCharge(t *testing.T) {
	f := newAPI(t)

	body := `{"payer_id":` + uid(f.alice) + `,"amount":"30.00","currency":"USD","description":"Dinner",
		"split":{"policy":"equal","participants":[` + uid(f.alice) + `,` + uid(f.bob) + `,` + uid(f.carol) + `]}}`
	var c chargeResponse
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.alice, body), http.StatusCreated, &c)
	path := "/charges/" + strconv.FormatInt(int64(c.ID), 10)

	update := `{"payer_id":` + uid(f.alice) + `,"amount":"10.00","currency":"USD","description":"Dinner",
		"split":{"policy":"equal","participants":[` + uid(f.alice) + `,` + uid(f.bob) + `]}}`
	var updated chargeResponse
	f.mustJSON(f.do(http.MethodPut, path, f.bob, update), http.StatusOK, &updated)
	if updated.Version != 2 || len(updated.Splits) != 2 {
		t.Fatalf("unexpected update %+v", updated)
	}

	usd := f.balances(f.alice).Balances["USD"]
	if usd[uid(f.alice)] != 500 || usd[uid(f.bob)] != -500 || usd[uid(f.carol)] != 0 {
		t.Fatalf("balances after update %v", usd)
	}

	outsider := f.createUser("eve@example.com", "Eve")
	if rr := f.do(http.MethodGet, path, outsider, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("outsider read status=%d", rr.Code)
	}

	if rr := f.do(http.MethodDelete, path, f.carol, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := f.do(http.MethodDelete, path, f.carol, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if rr := f.do(http.MethodPut, path, f.alice, update); rr.Code != http.StatusNotFound {
		t.Fatalf("update after delete status=%d", rr.Code)
	}

	var list struct {
		Charges []chargeResponse `json:"charges"`
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/charges"), f.alice, ""), http.StatusOK, &list)
	if len(list.Charges) != 0 {
		t.Fatalf("deleted charge still listed")
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/charges?include_deleted=true"), f.alice, ""), http.StatusOK, &list)
	if len(list.Charges) != 1 || list.Charges[0].DeletedAt == nil {
		t.Fatalf("include_deleted listing %+v", list.Charges)
	}

	if got := f.balances(f.alice).Balances["USD"]; len(got) != 0 {
		t.Fatalf("balances after delete %v", got)
	}
}

func TestRepayments(t *testing.T) {
	f := newAPI(t)

	self := `{"from_user_id":` + uid(f.bob) + `,"to_user_id":` + uid(f.bob) + `,"amount":"5","currency":"USD"}`
	if rr := f.do(http.MethodPost, f.groupPath("/repayments"), f.bob, self); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("self repayment status=%d", rr.Code)
	}

	body := `{"from_user_id":` + uid(f.bob) + `,"to_user_id":` + uid(f.alice) + `,"amount":"20.00","currency":"USD","notes":"cash"}`
	var rp repaymentResponse
	f.mustJSON(f.do(http.MethodPost, f.groupPath("/repayments"), f.bob, body), http.StatusCreated, &rp)
	if rp.AmountCents != 2000 || rp.FromID != f.bob || rp.ToID != f.alice {
		t.Fatalf("unexpected repayment %+v", rp)
	}

	var list struct {
		Repayments []repaymentResponse `json:"repayments"`
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/repayments"), f.carol, ""), http.StatusOK, &list)
	if len(list.Repayments) != 1 {
		t.Fatalf("repayments=%d want 1", len(list.Repayments))
	}

	usd := f.balances(f.alice).Balances["USD"]
	if usd[uid(f.bob)] != -2000 || usd[uid(f.alice)] != 2000 {
		t.Fatalf("balances after repayment %v", usd)
	}
}

func TestUserBalancesAcrossCurrencies(t *testing.T) {
	f := newAPI(t)

	post := func(cur, amount string) {
		body := `{"payer_id":` + uid(f.alice) + `,"amount":"` + amount + `","currency":"` + cur + `","description":"x",
			"split":{"policy":"equal","participants":[` + uid(f.alice) + `,` + uid(f.bob) + `]}}`
		f.mustJSON(f.do(http.MethodPost, f.groupPath("/charges"), f.alice, body), http.StatusCreated, nil)
	}
	post("USD", "10.00")
	post("JPY", "1001")

	var totals map[core.Currency]int64
	f.mustJSON(f.do(http.MethodGet, "/users/"+uid(f.bob)+"/balances", f.bob, ""), http.StatusOK, &totals)
	if totals["USD"] != -500 || totals["JPY"] != -500 {
		t.Fatalf("unexpected totals %v", totals)
	}

	if rr := f.do(http.MethodGet, "/users/"+uid(f.bob)+"/balances", f.alice, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("foreign totals status=%d", rr.Code)
	}
}

func TestMembersAndActivityRequireMembership(t *testing.T) {
	f := newAPI(t)
	outsider := f.createUser("mallory@example.com", "Mallory")

	var members struct {
		Members []core.UserID `json:"members"`
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/members"), f.bob, ""), http.StatusOK, &members)
	if len(members.Members) != 3 {
		t.Fatalf("members=%v", members.Members)
	}

	for _, path := range []string{"/members", "/balances", "/activity", "/charges", "/repayments"} {
		if rr := f.do(http.MethodGet, f.groupPath(path), outsider, ""); rr.Code != http.StatusForbidden {
			t.Errorf("GET %s as outsider status=%d", path, rr.Code)
		}
	}

	var activity struct {
		Activity []activityResponse `json:"activity"`
	}
	f.mustJSON(f.do(http.MethodGet, f.groupPath("/activity?limit=5"), f.alice, ""), http.StatusOK, &activity)
	if activity.Activity == nil {
		t.Fatal("activity should be an empty list, not null")
	}
}

func TestDuplicateUserConflict(t *testing.T) {
	f := newAPI(t)
	rr := f.do(http.MethodPost, "/users", 0, `{"email":"alice@example.com","name":"Other"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate email status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	f := newAPI(t)
	f.srv.rateLimiter.setLimit(2)

	for i := 0; i < 2; i++ {
		f.do(http.MethodPost, "/users", 0, `{"email":"u`+strconv.Itoa(i)+`@example.com","name":"U"}`)
	}
	rr := f.do(http.MethodPost, "/users", 0, `{"email":"late@example.com","name":"Late"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}

	if rr := f.do(http.MethodGet, "/healthz", 0, ""); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, status=%d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodOptions, f.groupPath("/charges"), nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-User-ID")
	rr := httptest.NewRecorder()
	f.srv.Handler.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("Access-Control-Allow-Origin=%q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPI(t)

	rr := f.do(http.MethodGet, "/metrics", 0, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	for _, name := range []string{"http_requests_total", "ledger_charges_created_total", "rate_limit_active_clients"} {
		if !strings.Contains(rr.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
