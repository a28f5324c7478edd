package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"omnireel/internal/api"
	"omnireel/internal/cache"
	"omnireel/internal/capability"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/stage"
	"omnireel/internal/testsupport"
	"omnireel/internal/workflow"
)

type statusStub struct{ summary workflow.StatusSummary }

func (s statusStub) Status(context.Context) workflow.StatusSummary { return s.summary }

type cacheStub struct{}

func (cacheStub) Stats() cache.Stats { return cache.Stats{Entries: 3, Hits: 7} }

type fixture struct {
	store  *jobs.Store
	ledger *ledger.Ledger
	server *api.Server
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	f := &fixture{store: jobs.NewStore(db), ledger: ledger.New(db)}
	f.server = api.NewServer("", token, api.Deps{
		Jobs:   f.store,
		Ledger: f.ledger,
		Workflow: statusStub{summary: workflow.StatusSummary{
			Running:     true,
			Workers:     2,
			JobStats:    map[jobs.Status]int{jobs.StatusPending: 1},
			StageHealth: []stage.Health{{Name: "ingesting", Ready: true}},
		}},
		Providers: capability.NewRegistry(),
		Cache:     cacheStub{},
	}, nil)
	return f
}

func (f *fixture) get(t *testing.T, path string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestHealthReportsWorkflow(t *testing.T) {
	f := newFixture(t, "")
	w := f.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp api.Health
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Workflow.Workers != 2 {
		t.Fatalf("health = %+v", resp)
	}
	if resp.Workflow.JobStats["pending"] != 1 || resp.Workflow.JobStats["failed"] != 0 {
		t.Fatalf("job stats = %v", resp.Workflow.JobStats)
	}
	if _, ok := resp.Workflow.JobStats["blocked"]; !ok {
		t.Fatal("every status should be reported")
	}
}

func TestJobsListAndDetail(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	job := testsupport.NewJob(t, f.store, "Tide pools", map[string]string{"title": "Tide pools"})
	if err := f.store.AppendResult(ctx, jobs.StageResult{
		JobID:      job.ID,
		Stage:      jobs.StageIngesting,
		Payload:    json.RawMessage(`{"groups":[]}`),
		Provenance: jobs.Provenance{Sources: []string{"https://example.org/a"}, Calls: []jobs.CallRecord{{Capability: "source.papers", Provider: "arxiv", Attempts: 1}}},
	}); err != nil {
		t.Fatal(err)
	}

	w := f.get(t, "/v1/jobs?status=pending")
	var list api.JobListResponse
	decode(t, w, &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != job.ID || list.Jobs[0].Status != "pending" {
		t.Fatalf("list = %+v", list)
	}

	w = f.get(t, "/v1/jobs/"+job.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	var detail api.JobResponse
	decode(t, w, &detail)
	if len(detail.Job.Results) != 1 || detail.Job.Results[0].Calls[0].Provider != "arxiv" {
		t.Fatalf("detail results = %+v", detail.Job.Results)
	}
	if detail.Job.NextStage != string(jobs.StageScripting) {
		t.Fatalf("next stage = %q", detail.Job.NextStage)
	}
}

func TestJobErrors(t *testing.T) {
	f := newFixture(t, "")
	if w := f.get(t, "/v1/jobs/missing"); w.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", w.Code)
	}
	if w := f.get(t, "/v1/jobs?status=bogus"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", w.Code)
	}
}

func TestLedgerQueries(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	job := testsupport.NewJob(t, f.store, "Glaciers", nil)
	for _, rec := range []ledger.Record{
		{JobID: job.ID, Kind: ledger.KindStatusChanged, ToStatus: "running"},
		{JobID: job.ID, Kind: ledger.KindProviderAttempt, Stage: "scripting", Provider: "openrouter", Reason: "quota_exhausted"},
		{JobID: "other", Kind: ledger.KindProviderAttempt, Provider: "openrouter"},
	} {
		if _, err := f.ledger.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	var resp api.LedgerResponse
	decode(t, f.get(t, "/v1/jobs/"+job.ID+"/ledger"), &resp)
	if len(resp.Records) != 2 {
		t.Fatalf("job ledger = %+v", resp.Records)
	}
	decode(t, f.get(t, "/v1/ledger?kind=provider_attempt&provider=openrouter"), &resp)
	if len(resp.Records) != 2 {
		t.Fatalf("provider ledger = %+v", resp.Records)
	}
	if w := f.get(t, "/v1/ledger?since=yesterday"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad since = %d", w.Code)
	}
}

func TestProvidersAndCache(t *testing.T) {
	f := newFixture(t, "")
	var providers api.ProvidersResponse
	decode(t, f.get(t, "/v1/providers"), &providers)
	if providers.Providers == nil || providers.Capabilities == nil {
		t.Fatalf("providers = %+v", providers)
	}
	var resp api.CacheResponse
	decode(t, f.get(t, "/v1/cache"), &resp)
	if resp.Cache.Entries != 3 || resp.Cache.Hits != 7 {
		t.Fatalf("cache = %+v", resp.Cache)
	}
}

func TestBearerToken(t *testing.T) {
	f := newFixture(t, "s3cret")
	if w := f.get(t, "/health"); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", w.Code)
	}
	if w := f.get(t, "/health", "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d", w.Code)
	}
	if w := f.get(t, "/health", "Authorization", "Bearer s3cret"); w.Code != http.StatusOK {
		t.Fatalf("valid token = %d", w.Code)
	}
}
