package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/quota"
)

type fakeRunner struct {
	latest  *briefing.Snapshot
	runErr  error
	ran     int
	resets  int
	cleared int
	qs      quota.Snapshot
}

func (f *fakeRunner) RunCycle(_ context.Context, trigger quota.Class) (*briefing.Snapshot, error) {
	f.ran++
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &briefing.Snapshot{ID: "manual-1", Trigger: trigger}, nil
}

func (f *fakeRunner) Latest() *briefing.Snapshot { return f.latest }
func (f *fakeRunner) QuotaSnapshot() quota.Snapshot {
	return f.qs
}
func (f *fakeRunner) ResetCounters(context.Context) quota.Snapshot {
	f.resets++
	return quota.Snapshot{Day: f.qs.Day, DailyQuota: f.qs.DailyQuota}
}
func (f *fakeRunner) ClearCache() { f.cleared++ }

func TestSnapshotBeforeFirstCycleIs404(t *testing.T) {
	srv := NewServer(&fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSnapshotReturnsLatest(t *testing.T) {
	runner := &fakeRunner{latest: &briefing.Snapshot{ID: "abc", BusSource: briefing.SourceMetered}}
	srv := NewServer(runner)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got briefing.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "abc" || got.BusSource != briefing.SourceMetered {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestQuotaIncludesRemaining(t *testing.T) {
	runner := &fakeRunner{qs: quota.Snapshot{
		Day: "2025-03-10", UsedManual: 2, UsedAuto: 5,
		DailyQuota: 30, ReservedManual: 6, MaxAuto: 10,
	}}
	srv := NewServer(runner)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quota", nil))
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["remaining"].(float64) != 23 {
		t.Fatalf("remaining = %v, want 23", got["remaining"])
	}
}

func TestRefreshRunsManualCycle(t *testing.T) {
	runner := &fakeRunner{}
	srv := NewServer(runner)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if runner.ran != 1 {
		t.Fatalf("RunCycle called %d times", runner.ran)
	}
	if !strings.Contains(rec.Body.String(), `"manual"`) {
		t.Fatalf("refresh did not run a manual cycle: %s", rec.Body.String())
	}
}

func TestRefreshConfigErrorIs422(t *testing.T) {
	runner := &fakeRunner{runErr: briefing.ErrConfig}
	srv := NewServer(runner)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestResetAndClearEndpoints(t *testing.T) {
	runner := &fakeRunner{qs: quota.Snapshot{Day: "2025-03-10", DailyQuota: 30}}
	srv := NewServer(runner)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset-counters", nil))
	if rec.Code != http.StatusOK || runner.resets != 1 {
		t.Fatalf("reset: status %d, calls %d", rec.Code, runner.resets)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clear-cache", nil))
	if rec.Code != http.StatusOK || runner.cleared != 1 {
		t.Fatalf("clear: status %d, calls %d", rec.Code, runner.cleared)
	}
}

type fakeHistory struct {
	snaps []briefing.Snapshot
	limit int
}

func (f *fakeHistory) RecentSnapshots(_ context.Context, limit int) ([]briefing.Snapshot, error) {
	f.limit = limit
	return f.snaps, nil
}

func TestHistoryEndpoint(t *testing.T) {
	h := &fakeHistory{snaps: []briefing.Snapshot{{ID: "a"}, {ID: "b"}}}
	srv := NewServer(&fakeRunner{})
	srv.SetHistory(h)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
	if rec.Code != http.StatusOK || h.limit != 2 {
		t.Fatalf("status %d, limit %d", rec.Code, h.limit)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?limit=9999", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range limit: status %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := NewServer(&fakeRunner{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
