package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/loyalty/internal/app/admin"
	"github.com/tutu-network/loyalty/internal/app/engine"
	"github.com/tutu-network/loyalty/internal/infra/catalog"
	"github.com/tutu-network/loyalty/internal/infra/observability"
	"github.com/tutu-network/loyalty/internal/infra/sqlite"
)

// ─── API Tests ──────────────────────────────────────────────────────────────

func setupServer(t *testing.T) *Server {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := catalog.Sync(context.Background(), db, catalog.Default()); err != nil {
		t.Fatalf("sync catalog: %v", err)
	}

	cfg := engine.DefaultConfig()
	cfg.SpendInterval = 0
	cfg.TierInterval = 0
	eng := engine.New(cfg, db, observability.Discard())
	return NewServer(eng, admin.New(eng, observability.Discard()), observability.Discard())
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s %s: decode: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, resp
}

func errorKind(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	k, _ := e["kind"].(string)
	return k
}

func TestHealth(t *testing.T) {
	h := setupServer(t).Handler()
	w, resp := do(t, h, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	if w, _ := do(t, s.Handler(), http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics disabled: expected 404, got %d", w.Code)
	}

	s.EnableMetrics()
	w, _ := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "loyalty_points_awarded_total") {
		t.Error("expected loyalty metrics in exposition")
	}
}

func TestOrderPipelineAndBalance(t *testing.T) {
	h := setupServer(t).Handler()

	w, resp := do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: expected 200, got %d: %v", w.Code, resp)
	}
	if resp["account_kind"] != "b2b" || resp["active"] != true {
		t.Errorf("unexpected account: %v", resp)
	}

	ev := `{"order_id":"o-1","account_id":"acme","amount_ht":"120.50","currency":"EUR","completed_at":"` +
		time.Now().Add(-time.Minute).UTC().Format(time.RFC3339) + `"}`
	for i := 0; i < 2; i++ {
		if w, resp := do(t, h, http.MethodPost, "/v1/events/order-completed", ev); w.Code != http.StatusOK {
			t.Fatalf("order-completed #%d: expected 200, got %d: %v", i, w.Code, resp)
		}
	}

	w, resp = do(t, h, http.MethodGet, "/v1/accounts/acme/points", "")
	if w.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", w.Code)
	}
	if resp["balance"] != float64(120) {
		t.Errorf("expected balance=120 after a replayed event, got %v", resp["balance"])
	}

	w, resp = do(t, h, http.MethodGet, "/v1/accounts/acme/points/entries?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("entries: expected 200, got %d", w.Code)
	}
	if entries, _ := resp["entries"].([]any); len(entries) != 1 {
		t.Errorf("expected 1 ledger entry, got %v", resp["entries"])
	}
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	h := setupServer(t).Handler()
	do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)

	w, resp := do(t, h, http.MethodPost, "/v1/accounts/acme/redemptions", `{"reward_id":"bon-50"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %v", w.Code, resp)
	}
	if errorKind(resp) != "state" {
		t.Errorf("expected kind=state, got %q", errorKind(resp))
	}
}

func TestErrorMapping(t *testing.T) {
	h := setupServer(t).Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{"unknown account", http.MethodGet, "/v1/accounts/ghost", "", http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPut, "/v1/accounts/acme", `{"kind":"b2b"}`, http.StatusBadRequest, "validation"},
		{"bad kind", http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2x"}`, http.StatusBadRequest, "validation"},
		{"bad limit", http.MethodGet, "/v1/jobs/runs?limit=-1", "", http.StatusBadRequest, "validation"},
		{"bad currency", http.MethodPost, "/v1/events/order-completed",
			`{"order_id":"o","account_id":"a","amount_ht":"1","currency":"E","completed_at":"2026-01-02T00:00:00Z"}`,
			http.StatusBadRequest, "validation"},
		{"malformed code", http.MethodPost, "/v1/referrals", `{"code":"nope","account_id":"a"}`,
			http.StatusBadRequest, "validation"},
		{"unknown redemption", http.MethodPost, "/v1/referrals/r-1/qualify", `{"order_id":"o"}`,
			http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %v", tt.wantStatus, w.Code, resp)
			}
			if got := errorKind(resp); got != tt.wantKind {
				t.Errorf("expected kind=%q, got %q", tt.wantKind, got)
			}
		})
	}
}

func TestAdmin_RequiresConfirm(t *testing.T) {
	h := setupServer(t).Handler()
	do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)

	w, resp := do(t, h, http.MethodPut, "/v1/accounts/acme/tier", `{"tier_key":"ambassadeur"}`)
	if w.Code != http.StatusBadRequest || errorKind(resp) != "cancelled" {
		t.Fatalf("expected 400 cancelled, got %d %v", w.Code, resp)
	}
	_, acc := do(t, h, http.MethodGet, "/v1/accounts/acme", "")
	if acc["assigned_tier_key"] != nil {
		t.Errorf("cancelled action changed the account: %v", acc)
	}

	w, resp = do(t, h, http.MethodPut, "/v1/accounts/acme/tier", `{"tier_key":"ambassadeur","confirm":true,"actor":"ops"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", w.Code, resp)
	}
	if resp["assigned_tier_key"] != "ambassadeur" || resp["tier_source"] != "admin" {
		t.Errorf("unexpected account: %v", resp)
	}

	_, quote := do(t, h, http.MethodGet, "/v1/accounts/acme/discount", "")
	if quote["discount_pct"] != "15" || quote["tier_key"] != "ambassadeur" {
		t.Errorf("unexpected quote: %v", quote)
	}

	w, _ = do(t, h, http.MethodDelete, "/v1/accounts/acme/tier", `{"confirm":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear tier: expected 200, got %d", w.Code)
	}
	_, quote = do(t, h, http.MethodGet, "/v1/accounts/acme/discount", "")
	if quote["tier_key"] != "collaborateur" {
		t.Errorf("expected baseline after clearing, got %v", quote)
	}
}

func TestAdmin_OverrideAndAdjust(t *testing.T) {
	h := setupServer(t).Handler()
	do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)

	w, resp := do(t, h, http.MethodPut, "/v1/accounts/acme/discount-override", `{"discount_pct":"12.5","confirm":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("override: expected 200, got %d: %v", w.Code, resp)
	}
	_, quote := do(t, h, http.MethodGet, "/v1/accounts/acme/discount", "")
	if quote["discount_pct"] != "12.5" || quote["source"] != "override" {
		t.Errorf("unexpected quote: %v", quote)
	}

	w, resp = do(t, h, http.MethodPost, "/v1/accounts/acme/points/adjust", `{"delta":40,"note":"goodwill"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("positive adjust: expected 201, got %d: %v", w.Code, resp)
	}
	w, resp = do(t, h, http.MethodPost, "/v1/accounts/acme/points/adjust", `{"delta":-10,"note":"fix"}`)
	if w.Code != http.StatusBadRequest || errorKind(resp) != "cancelled" {
		t.Fatalf("negative adjust without confirm: expected 400 cancelled, got %d %v", w.Code, resp)
	}
	_, bal := do(t, h, http.MethodGet, "/v1/accounts/acme/points", "")
	if bal["balance"] != float64(40) {
		t.Errorf("expected balance=40, got %v", bal["balance"])
	}
}

func TestReferralFlow(t *testing.T) {
	h := setupServer(t).Handler()
	do(t, h, http.MethodPut, "/v1/accounts/alice", `{"account_kind":"b2c"}`)
	do(t, h, http.MethodPut, "/v1/accounts/bob", `{"account_kind":"b2c"}`)

	w, code := do(t, h, http.MethodPost, "/v1/accounts/alice/referral-code", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code: expected 200, got %d: %v", w.Code, code)
	}
	_, again := do(t, h, http.MethodPost, "/v1/accounts/alice/referral-code", "")
	if again["code"] != code["code"] {
		t.Errorf("code changed between calls: %v vs %v", code["code"], again["code"])
	}

	// Lowercase, no dash: normalized before lookup.
	raw := strings.ToLower(strings.ReplaceAll(code["code"].(string), "-", ""))
	w, red := do(t, h, http.MethodPost, "/v1/referrals", `{"code":"`+raw+`","account_id":"bob"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("attribute: expected 201, got %d: %v", w.Code, red)
	}

	w, resp := do(t, h, http.MethodPost, "/v1/referrals", `{"code":"`+raw+`","account_id":"bob"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("second attribution: expected 409, got %d: %v", w.Code, resp)
	}

	id := red["id"].(string)
	w, resp = do(t, h, http.MethodPost, "/v1/referrals/"+id+"/qualify", `{"order_id":"o-9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("qualify: expected 200, got %d: %v", w.Code, resp)
	}
	w, resp = do(t, h, http.MethodPost, "/v1/referrals/"+id+"/reject", `{"reason":"late","confirm":true}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("reject after qualify: expected 422, got %d: %v", w.Code, resp)
	}

	_, list := do(t, h, http.MethodGet, "/v1/accounts/alice/referrals", "")
	if reds, _ := list["redemptions"].([]any); len(reds) != 1 {
		t.Errorf("expected 1 redemption, got %v", list["redemptions"])
	}
}

func TestJobs_ManualRuns(t *testing.T) {
	h := setupServer(t).Handler()
	do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)

	w, run := do(t, h, http.MethodPost, "/v1/jobs/spend", "")
	if w.Code != http.StatusOK {
		t.Fatalf("spend job: expected 200, got %d: %v", w.Code, run)
	}
	if run["status"] != "ok" || run["trigger"] != "manual" {
		t.Errorf("unexpected run: %v", run)
	}
	if w, run = do(t, h, http.MethodPost, "/v1/jobs/tiers", ""); w.Code != http.StatusOK {
		t.Fatalf("tier job: expected 200, got %d: %v", w.Code, run)
	}

	_, snap := do(t, h, http.MethodGet, "/v1/tiers/snapshot", "")
	if rows, _ := snap["accounts"].([]any); len(rows) != 1 {
		t.Errorf("expected 1 ranked account, got %v", snap["accounts"])
	}

	_, runs := do(t, h, http.MethodGet, "/v1/jobs/runs", "")
	if list, _ := runs["runs"].([]any); len(list) != 2 {
		t.Errorf("expected 2 runs, got %v", runs["runs"])
	}
}

func TestCatalogRoutes(t *testing.T) {
	h := setupServer(t).Handler()

	_, tiers := do(t, h, http.MethodGet, "/v1/tiers", "")
	if list, _ := tiers["tiers"].([]any); len(list) != 4 {
		t.Errorf("expected 4 tiers, got %v", tiers["tiers"])
	}
	_, rewards := do(t, h, http.MethodGet, "/v1/rewards", "")
	if list, _ := rewards["rewards"].([]any); len(list) != 3 {
		t.Errorf("expected 3 rewards, got %v", rewards["rewards"])
	}
}

func TestRateLimit(t *testing.T) {
	s := setupServer(t)
	s.SetRateLimit(1, 1)
	h := s.Handler()

	if w, _ := do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w, resp := do(t, h, http.MethodPut, "/v1/accounts/acme", `{"account_kind":"b2b"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if errorKind(resp) != "rate_limited" || w.Header().Get("Retry-After") == "" {
		t.Errorf("unexpected 429 response: %v", resp)
	}

	// Reads are not limited.
	if w, _ := do(t, h, http.MethodGet, "/v1/accounts/acme", ""); w.Code != http.StatusOK {
		t.Errorf("read after limit: expected 200, got %d", w.Code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || l.Allow("a") {
		t.Fatal("client a should get exactly one token")
	}
	if !l.Allow("b") {
		t.Error("client b has its own bucket")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("token should refill after a second")
	}

	now = now.Add(idleVisitorTTL + time.Second)
	l.Allow("c")
	if _, ok := l.visitors["b"]; ok {
		t.Error("idle visitor should be collected")
	}
}
