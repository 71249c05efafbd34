package handlers

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/photo-search/internal/indexer"
)

// JobStatus represents the status of an async scan job.
type JobStatus string

// JobStatus constants define the lifecycle states of a scan job.
const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ScanRunner executes one indexing pass
type ScanRunner interface {
	Run(ctx context.Context) (*indexer.Stats, error)
}

// ScanJob tracks one indexing pass triggered over HTTP
type ScanJob struct {
	ID          string         `json:"id"`
	Status      JobStatus      `json:"status"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Stats       *indexer.Stats `json:"stats,omitempty"`
}

// ScanHandler triggers and reports indexing passes. Only one pass runs at a
// time; a trigger while one is active returns 409 with the running job.
type ScanHandler struct {
	runner ScanRunner

	mu      sync.Mutex
	active  *ScanJob
	history map[string]*ScanJob
}

// NewScanHandler creates a new scan handler
func NewScanHandler(runner ScanRunner) *ScanHandler {
	return &ScanHandler{
		runner:  runner,
		history: make(map[string]*ScanJob),
	}
}

// Start handles GET /api/v1/scan. It launches an indexing pass in the
// background and immediately returns the job.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.active != nil {
		job := *h.active
		h.mu.Unlock()
		respondJSON(w, http.StatusConflict, job)
		return
	}

	job := &ScanJob{
		ID:        uuid.NewString(),
		Status:    JobStatusRunning,
		StartedAt: time.Now(),
	}
	h.active = job
	h.history[job.ID] = job
	snapshot := *job
	h.mu.Unlock()

	go h.run(job)

	respondJSON(w, http.StatusAccepted, snapshot)
}

// run executes the indexing pass and records the outcome. The scan outlives
// the triggering request, so it runs under its own context.
func (h *ScanHandler) run(job *ScanJob) {
	stats, err := h.runner.Run(context.Background())

	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	job.CompletedAt = &now
	job.Stats = stats
	if err != nil {
		log.Printf("Scan %s failed: %v", job.ID, err)
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	h.active = nil
}

// Status handles GET /api/v1/scan/{jobId}
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	h.mu.Lock()
	job, ok := h.history[jobID]
	var snapshot ScanJob
	if ok {
		snapshot = *job
	}
	h.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "scan job not found")
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}
