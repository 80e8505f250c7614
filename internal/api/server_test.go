package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/david/grant-matcher/internal/db"
	"github.com/david/grant-matcher/internal/ingest"
	"github.com/david/grant-matcher/internal/matching"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/website"
)

const testSecret = "test-secret"

type fakeCatalog struct {
	mu      sync.Mutex
	grants  map[string]models.Grant
	upserts int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{grants: map[string]models.Grant{}}
}

func (f *fakeCatalog) ListGrants(_ context.Context, params db.ListParams) (*db.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Grant{}
	for _, g := range f.grants {
		out = append(out, g)
	}
	return &db.ListResult{Grants: out, Total: len(out), Limit: params.Limit, Offset: params.Offset}, nil
}

func (f *fakeCatalog) GetGrant(_ context.Context, linkHash string) (*models.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[linkHash]
	if !ok {
		return nil, db.ErrGrantNotFound
	}
	return &g, nil
}

func (f *fakeCatalog) GetStats(context.Context) (*db.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &db.Stats{Total: len(f.grants), BySource: map[string]int{}}, nil
}

func (f *fakeCatalog) GetSources(context.Context) ([]string, error) {
	return []string{"seed"}, nil
}

func (f *fakeCatalog) UpsertGrant(_ context.Context, g models.Grant) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	_, exists := f.grants[g.LinkHash]
	f.grants[g.LinkHash] = g
	return !exists, nil
}

func (f *fakeCatalog) SetGrantActive(_ context.Context, linkHash string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.grants[linkHash]
	if !ok {
		return db.ErrGrantNotFound
	}
	g.IsActive = active
	f.grants[linkHash] = g
	return nil
}

type fakeMatcher struct {
	mu   sync.Mutex
	raw  string
	opts matching.Options
	err  error
}

func (f *fakeMatcher) MatchAllGrants(_ context.Context, raw string, opts matching.Options) ([]models.MatchResult, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw, f.opts = raw, opts
	if f.err != nil {
		return nil, "", f.err
	}
	return []models.MatchResult{{LinkHash: "youth", Title: "Youth Empowerment Grant", Score: 81, Tier: models.TierHigh, IsEligible: true,
		IneligibilityReasons: []string{}, SDGTags: []string{}}}, "", nil
}

type fakeExtractor struct {
	page *website.Page
	err  error
}

func (f fakeExtractor) Extract(context.Context, string) (*website.Page, error) {
	return f.page, f.err
}

type blockingIndexer struct {
	release chan struct{}
}

func (b blockingIndexer) Run(ctx context.Context, force bool, limit int) (matching.IndexReport, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return matching.IndexReport{}, ctx.Err()
	}
	return matching.IndexReport{Candidates: 2, Embedded: 2}, nil
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Catalog == nil {
		opts.Catalog = newFakeCatalog()
	}
	if opts.Matcher == nil {
		opts.Matcher = &fakeMatcher{}
	}
	opts.AdminSecret = testSecret
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func do(srv *Server, method, target, body string, admin bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if admin {
		req.Header.Set("X-Admin-Secret", testSecret)
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestMatchText(t *testing.T) {
	m := &fakeMatcher{}
	srv := newTestServer(t, Options{Matcher: m, MaxTextLength: 20})

	rec := do(srv, http.MethodPost, "/api/v1/match",
		`{"text":"We empower youth through education in Kenya","estimated_budget":5000}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp matchResponse
	decode(t, rec, &resp)
	if resp.RequestID == "" || resp.RequestID != rec.Header().Get(echo.HeaderXRequestID) {
		t.Fatalf("request id %q does not match header %q", resp.RequestID, rec.Header().Get(echo.HeaderXRequestID))
	}
	if len(resp.Matches) != 1 || resp.Matches[0].LinkHash != "youth" {
		t.Fatalf("unexpected matches: %+v", resp.Matches)
	}
	if !resp.Truncated || len([]rune(m.raw)) > 20 {
		t.Fatalf("text should be capped, got %q truncated=%v", m.raw, resp.Truncated)
	}
	if m.opts.EstimatedBudget == nil || *m.opts.EstimatedBudget != 5000 {
		t.Fatalf("budget override not forwarded: %+v", m.opts)
	}
	if m.opts.RequestID != resp.RequestID {
		t.Fatalf("request id not forwarded to matcher")
	}
}

func TestMatchValidation(t *testing.T) {
	srv := newTestServer(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"blank", `{"text":"   "}`},
		{"both", `{"text":"a","url":"https://example.org"}`},
		{"negative budget", `{"text":"a","estimated_budget":-1}`},
		{"malformed", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(srv, http.MethodPost, "/api/v1/match", tt.body, false)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestMatchURL(t *testing.T) {
	page := &website.Page{URL: "https://ngo.example.org/", Title: "NGO", Text: "youth education"}
	tests := []struct {
		name      string
		extractor Extractor
		want      int
	}{
		{"ok", fakeExtractor{page: page}, http.StatusOK},
		{"blocked", fakeExtractor{err: fmt.Errorf("%w: 10.0.0.1", website.ErrBlockedHost)}, http.StatusBadRequest},
		{"invalid", fakeExtractor{err: website.ErrInvalidURL}, http.StatusBadRequest},
		{"upstream", fakeExtractor{err: errors.New("connection reset")}, http.StatusBadGateway},
		{"timeout", fakeExtractor{err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"empty page", fakeExtractor{page: &website.Page{URL: "https://ngo.example.org/"}}, http.StatusUnprocessableEntity},
		{"not configured", nil, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMatcher{}
			srv := newTestServer(t, Options{Matcher: m, Extractor: tt.extractor})
			rec := do(srv, http.MethodPost, "/api/v1/match", `{"url":"https://ngo.example.org"}`, false)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d body=%s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.want == http.StatusOK {
				var resp matchResponse
				decode(t, rec, &resp)
				if resp.Source != "url" || resp.Title != "NGO" || m.raw != "youth education" {
					t.Fatalf("unexpected response %+v raw=%q", resp, m.raw)
				}
			}
		})
	}
}

func TestMatchCatalogFailure(t *testing.T) {
	srv := newTestServer(t, Options{Matcher: &fakeMatcher{err: errors.New("db down")}})
	rec := do(srv, http.MethodPost, "/api/v1/match", `{"text":"youth"}`, false)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestGrantRoutes(t *testing.T) {
	catalog := newFakeCatalog()
	srv := newTestServer(t, Options{Catalog: catalog})

	rec := do(srv, http.MethodPost, "/api/v1/admin/grants", `{"title":"Water Access","link":"https://example.org/water"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated create = %d, want 401", rec.Code)
	}

	rec = do(srv, http.MethodPost, "/api/v1/admin/grants", `{"title":"","link":"https://example.org/water"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid grant = %d, want 400", rec.Code)
	}

	rec = do(srv, http.MethodPost, "/api/v1/admin/grants",
		`{"title":"Water Access","link":"https://example.org/water","focus_areas":["Water"],"application_deadline":"2030-01-31"}`, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d body=%s", rec.Code, rec.Body.String())
	}
	var created struct {
		LinkHash string `json:"link_hash"`
		Inserted bool   `json:"inserted"`
	}
	decode(t, rec, &created)
	if created.LinkHash != ingest.LinkHash("https://example.org/water") || !created.Inserted {
		t.Fatalf("unexpected create response %+v", created)
	}

	rec = do(srv, http.MethodGet, "/api/v1/grants/"+created.LinkHash, "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	rec = do(srv, http.MethodGet, "/api/v1/grants/missing", "", false)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d, want 404", rec.Code)
	}

	rec = do(srv, http.MethodPatch, "/api/v1/admin/grants/"+created.LinkHash, `{"is_active":false}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d body=%s", rec.Code, rec.Body.String())
	}
	if catalog.grants[created.LinkHash].IsActive {
		t.Fatalf("grant should be inactive")
	}
	rec = do(srv, http.MethodPatch, "/api/v1/admin/grants/"+created.LinkHash, `{}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("patch without is_active = %d, want 400", rec.Code)
	}
	rec = do(srv, http.MethodPatch, "/api/v1/admin/grants/missing", `{"is_active":true}`, true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("patch missing = %d, want 404", rec.Code)
	}

	rec = do(srv, http.MethodGet, "/api/v1/grants?limit=500&offset=-3", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var list db.ListResult
	decode(t, rec, &list)
	if list.Limit != 20 || list.Offset != 0 || list.Total != 1 {
		t.Fatalf("unexpected list paging %+v", list)
	}
}

func TestBearerAdminAuth(t *testing.T) {
	srv := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/seed", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer auth = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSeed(t *testing.T) {
	catalog := newFakeCatalog()
	srv := newTestServer(t, Options{Catalog: catalog})
	raws, err := ingest.LoadSeed("")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}

	rec := do(srv, http.MethodPost, "/api/v1/admin/seed", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed = %d body=%s", rec.Code, rec.Body.String())
	}
	var report ingest.SeedReport
	decode(t, rec, &report)
	if report.Inserted+report.Updated+report.Skipped != len(raws) || report.Inserted == 0 {
		t.Fatalf("unexpected seed report %+v for %d entries", report, len(raws))
	}
	if catalog.upserts != report.Inserted+report.Updated {
		t.Fatalf("upserts = %d, report = %+v", catalog.upserts, report)
	}
}

func TestEmbedJobLifecycle(t *testing.T) {
	release := make(chan struct{})
	srv := newTestServer(t, Options{Indexer: blockingIndexer{release: release}})

	rec := do(srv, http.MethodPost, "/api/v1/admin/embed-grants?force=true&limit=10", "", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d body=%s", rec.Code, rec.Body.String())
	}
	var started struct {
		JobID string `json:"job_id"`
		Poll  string `json:"poll"`
	}
	decode(t, rec, &started)
	if started.JobID == "" || !strings.HasSuffix(started.Poll, started.JobID) {
		t.Fatalf("unexpected start response %+v", started)
	}

	rec = do(srv, http.MethodPost, "/api/v1/admin/embed-grants", "", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", rec.Code)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = do(srv, http.MethodGet, "/api/v1/admin/job/"+started.JobID, "", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("poll = %d", rec.Code)
		}
		var status struct {
			Status string `json:"status"`
		}
		decode(t, rec, &status)
		if status.Status == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job did not complete, last status %q", status.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	rec = do(srv, http.MethodGet, "/api/v1/admin/job/unknown", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job = %d, want 404", rec.Code)
	}
}

func TestEmbedJobWithoutBackend(t *testing.T) {
	srv := newTestServer(t, Options{})
	rec := do(srv, http.MethodPost, "/api/v1/admin/embed-grants", "", true)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestEphemeralAdminSecret(t *testing.T) {
	srv, err := NewServer(Options{Catalog: newFakeCatalog(), Matcher: &fakeMatcher{}})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if len(srv.adminSecret) < 32 {
		t.Fatalf("fallback secret too short: %q", srv.adminSecret)
	}
	rec := do(srv, http.MethodPost, "/api/v1/admin/seed", "", true)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("static test secret should not unlock fallback, got %d", rec.Code)
	}
}
