package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/photo-search/internal/indexer"
)

// blockingRunner blocks until released so tests can observe a running scan
type blockingRunner struct {
	release chan struct{}
	stats   *indexer.Stats
	err     error
}

func (r *blockingRunner) Run(context.Context) (*indexer.Stats, error) {
	if r.release != nil {
		<-r.release
	}
	return r.stats, r.err
}

func startScan(t *testing.T, handler *ScanHandler) ScanJob {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan", nil)
	rec := httptest.NewRecorder()
	handler.Start(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var job ScanJob
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.ID == "" {
		t.Fatal("job has no ID")
	}
	return job
}

func jobStatus(t *testing.T, handler *ScanHandler, id string) (int, ScanJob) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobId", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rec := httptest.NewRecorder()
	handler.Status(rec, req)

	var job ScanJob
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
	}
	return rec.Code, job
}

func waitForStatus(t *testing.T, handler *ScanHandler, id string, want JobStatus) ScanJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		code, job := jobStatus(t, handler, id)
		if code == http.StatusOK && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, want)
	return ScanJob{}
}

func TestScanCompletes(t *testing.T) {
	runner := &blockingRunner{stats: &indexer.Stats{Discovered: 10, Indexed: 7, Skipped: 3}}
	handler := NewScanHandler(runner)

	job := startScan(t, handler)
	done := waitForStatus(t, handler, job.ID, JobStatusCompleted)

	if done.Stats == nil || done.Stats.Indexed != 7 {
		t.Errorf("unexpected stats %+v", done.Stats)
	}
	if done.CompletedAt == nil {
		t.Error("completed job has no completion time")
	}
}

func TestScanSingleFlight(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{}), stats: &indexer.Stats{}}
	handler := NewScanHandler(runner)

	first := startScan(t, handler)

	// Second trigger while the first still runs must conflict.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scan", nil)
	rec := httptest.NewRecorder()
	handler.Start(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var running ScanJob
	if err := json.NewDecoder(rec.Body).Decode(&running); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if running.ID != first.ID {
		t.Errorf("conflict returned job %s, want running job %s", running.ID, first.ID)
	}

	close(runner.release)
	waitForStatus(t, handler, first.ID, JobStatusCompleted)

	// After completion a new scan can start.
	second := startScan(t, handler)
	if second.ID == first.ID {
		t.Error("new scan reused the old job ID")
	}
	waitForStatus(t, handler, second.ID, JobStatusCompleted)
}

func TestScanFailure(t *testing.T) {
	runner := &blockingRunner{err: errors.New("walk media directory: permission denied")}
	handler := NewScanHandler(runner)

	job := startScan(t, handler)
	failed := waitForStatus(t, handler, job.ID, JobStatusFailed)

	if failed.Error == "" {
		t.Error("failed job carries no error message")
	}
}

func TestScanStatusNotFound(t *testing.T) {
	handler := NewScanHandler(&blockingRunner{})
	code, _ := jobStatus(t, handler, "nope")
	if code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}
