package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ricorrenti/internal/core"
	applog "ricorrenti/internal/log"
	"ricorrenti/internal/services"
	"ricorrenti/internal/storage/memory"
)

const testSecret = "s3cret"

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *memory.Store) {
	t.Helper()
	st := memory.New()
	engine := services.NewEngine(services.Stores{
		Rules:     st,
		Instances: st,
		Ledger:    services.NewLedgerService(st, nil),
	}, 2)

	opts := Options{
		Addr:       ":0",
		CronSecret: testSecret,
		Jobs:       engine,
		Rules:      services.NewRuleService(st, st, engine.Backfill()),
		Instances:  st,
		Logger:     applog.New(applog.Config{Output: io.Discard}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv := NewServer(opts)
	srv.clock = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	t.Cleanup(srv.rateLimiter.stop)
	return srv, st
}

func do(srv *Server, method, path, body string, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

const rentRule = `{
	"owner": "u1",
	"description": "Rent",
	"amount": "42.00",
	"category_ref": "Casa",
	"frequency": "monthly",
	"anchor_day": 5,
	"start_date": "2025-01-01"
}`

func TestHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, http.MethodGet, path, "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s missing X-Request-ID", path)
		}
	}
}

type downPinger struct{}

func (downPinger) Ping(context.Context) error { return core.ErrStoreUnavailable }

func TestReadyzReportsStore(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.Health = downPinger{} })
	if rr := do(srv, http.MethodGet, "/readyz", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rr.Code)
	}
}

func TestCronSecretRequired(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		token  string
		want   int
	}{
		{"missing token", testSecret, "", http.StatusUnauthorized},
		{"wrong token", testSecret, "nope", http.StatusUnauthorized},
		{"right token", testSecret, testSecret, http.StatusOK},
		{"secret not configured", "", "anything", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, func(o *Options) { o.CronSecret = tt.secret })
			rr := do(srv, http.MethodPost, "/jobs/due-sweep", "", tt.token)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestRuleLifecycle(t *testing.T) {
	srv, st := newTestServer(t, nil)

	rr := do(srv, http.MethodPost, "/rules?now=2025-03-10", rentRule, testSecret)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d: %s", rr.Code, rr.Body.String())
	}
	created := decode[createRuleResponse](t, rr)
	if created.Backfill.Outcome != services.BackfillGenerated {
		t.Errorf("backfill outcome = %s, want generated", created.Backfill.Outcome)
	}
	if got := created.Backfill.Date.String(); got != "2025-03-05" {
		t.Errorf("backfill date = %s, want 2025-03-05", got)
	}
	if created.Rule.Amount != "42.00" || created.Warning != "" {
		t.Errorf("rule = %+v, warning = %q", created.Rule, created.Warning)
	}
	ruleID := created.Rule.ID

	steps := []struct {
		name string
		path string
		want core.JobSummary
	}{
		{"expand april", "/jobs/monthly-expansion?now=2025-03-10", core.JobSummary{Job: core.JobMonthlyExpansion, Created: 1}},
		{"expand again", "/jobs/monthly-expansion?now=2025-03-10", core.JobSummary{Job: core.JobMonthlyExpansion, Skipped: 1}},
		{"sweep before due", "/jobs/due-sweep?now=2025-04-04", core.JobSummary{Job: core.JobDueSweep}},
		{"sweep on due date", "/jobs/due-sweep?now=2025-04-05", core.JobSummary{Job: core.JobDueSweep, Resolved: 1}},
		{"sweep again", "/jobs/due-sweep?now=2025-04-05T10:00:00Z", core.JobSummary{Job: core.JobDueSweep}},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			rr := do(srv, http.MethodPost, step.path, "", testSecret)
			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d: %s", rr.Code, rr.Body.String())
			}
			got := decode[core.JobSummary](t, rr)
			got.RunDate = core.Date{}
			if got != step.want {
				t.Errorf("summary = %+v, want %+v", got, step.want)
			}
		})
	}

	rr = do(srv, http.MethodGet, "/rules/"+ruleID+"/instances", "", testSecret)
	if rr.Code != http.StatusOK {
		t.Fatalf("instances status=%d", rr.Code)
	}
	list := decode[instancesResponse](t, rr)
	if len(list.Instances) != 2 {
		t.Fatalf("instances = %+v, want 2", list.Instances)
	}
	for _, inst := range list.Instances {
		if inst.State != core.Generated || inst.LedgerRef == "" {
			t.Errorf("instance %s = %s (%q), want generated with ledger ref", inst.ScheduledDate, inst.State, inst.LedgerRef)
		}
	}

	entries, err := st.LedgerEntries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("ledger entries = %d, want 2", len(entries))
	}

	if rr := do(srv, http.MethodPut, "/rules/"+ruleID+"/end-date", `{"end_date":"2024-12-31"}`, testSecret); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("end date before start status=%d, want 422", rr.Code)
	}
	if rr := do(srv, http.MethodPut, "/rules/"+ruleID+"/end-date", `{"end_date":"2025-12-31"}`, testSecret); rr.Code != http.StatusNoContent {
		t.Errorf("end date status=%d, want 204", rr.Code)
	}
	if rr := do(srv, http.MethodPost, "/rules/"+ruleID+"/deactivate", "", testSecret); rr.Code != http.StatusNoContent {
		t.Errorf("deactivate status=%d, want 204", rr.Code)
	}
	rule, err := st.GetRule(context.Background(), ruleID)
	if err != nil {
		t.Fatal(err)
	}
	if rule.Active || rule.EndDate.String() != "2025-12-31" {
		t.Errorf("rule after updates = %+v", rule)
	}
}

func TestCreateRuleRejections(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"malformed json", "/rules", `{"owner":`, http.StatusBadRequest},
		{"unknown field", "/rules", `{"owner":"u1","colour":"red"}`, http.StatusBadRequest},
		{"weekly with day of month", "/rules", `{"owner":"u1","description":"Gym","amount":"10","frequency":"weekly","anchor_weekday":1,"anchor_day":3,"start_date":"2025-01-01"}`, http.StatusUnprocessableEntity},
		{"anchor out of range", "/rules", `{"owner":"u1","description":"Rent","amount":"10","frequency":"monthly","anchor_day":32,"start_date":"2025-01-01"}`, http.StatusUnprocessableEntity},
		{"zero amount", "/rules", `{"owner":"u1","description":"Rent","amount":"0","frequency":"monthly","anchor_day":5,"start_date":"2025-01-01"}`, http.StatusUnprocessableEntity},
		{"bad now", "/rules?now=yesterday", rentRule, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil)
			rr := do(srv, http.MethodPost, tt.path, tt.body, testSecret)
			if rr.Code != tt.want {
				t.Fatalf("status=%d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
			if body := decode[errorBody](t, rr); body.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestUnknownRule(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	if rr := do(srv, http.MethodPost, "/rules/missing/deactivate", "", testSecret); rr.Code != http.StatusNotFound {
		t.Errorf("deactivate status=%d, want 404", rr.Code)
	}
	if rr := do(srv, http.MethodGet, "/rules/missing/instances", "", testSecret); rr.Code != http.StatusNotFound {
		t.Errorf("instances status=%d, want 404", rr.Code)
	}
}

type partialRules struct{ RuleManager }

func (partialRules) CreateRule(_ context.Context, rule core.RecurrenceRule, _ time.Time) (core.RecurrenceRule, services.BackfillResult, error) {
	rule.ID = "r-1"
	res := services.BackfillResult{Outcome: services.BackfillPending, Date: core.NewDate(2025, 3, 5)}
	return rule, res, fmt.Errorf("%w: %w", services.ErrBackfillIncomplete, core.ErrLedgerWrite)
}

func TestCreateRuleBackfillWarning(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.Rules = partialRules{} })

	rr := do(srv, http.MethodPost, "/rules", rentRule, testSecret)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d, want 201: %s", rr.Code, rr.Body.String())
	}
	body := decode[createRuleResponse](t, rr)
	if body.Warning == "" || body.Backfill.Outcome != services.BackfillPending {
		t.Errorf("response = %+v, want pending backfill with warning", body)
	}
}

func TestRateLimitOnPost(t *testing.T) {
	srv, _ := newTestServer(t, func(o *Options) { o.RateLimit = 2 })

	for i := range 2 {
		if rr := do(srv, http.MethodPost, "/jobs/due-sweep", "", testSecret); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i+1, rr.Code)
		}
	}
	rr := do(srv, http.MethodPost, "/jobs/due-sweep", "", testSecret)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Error("missing Retry-After")
	}
	// GETs are not limited.
	if rr := do(srv, http.MethodGet, "/healthz", "", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz status=%d", rr.Code)
	}
}
