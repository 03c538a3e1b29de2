package jobstore

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := &Job{
		ID:     "abc123",
		Kind:   JobKindCrop,
		FileID: 7,
		Status: JobStatusQueued,
		Params: json.RawMessage(`{"lat_min":0}`),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetJob("abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Kind != JobKindCrop || got.FileID != 7 || got.Status != JobStatusQueued {
		t.Fatalf("unexpected job: %+v", got)
	}

	if err := s.UpdateJobStarted("abc123"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.UpdateJobProgress("abc123", "cropping", 1, 2); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := s.SetJobResult("abc123", map[string]int{"processed": 3}); err != nil {
		t.Fatalf("result: %v", err)
	}
	if err := s.UpdateJobStatus("abc123", JobStatusCompleted, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err = s.GetJob("abc123")
	if err != nil {
		t.Fatalf("get after complete: %v", err)
	}
	if got.Status != JobStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatal("timestamps not recorded")
	}
	if got.Progress.Phase != "cropping" || got.Progress.Done != 1 {
		t.Fatalf("unexpected progress: %+v", got.Progress)
	}
	var result map[string]int
	if err := json.Unmarshal(got.Result, &result); err != nil || result["processed"] != 3 {
		t.Fatalf("unexpected result %s: %v", got.Result, err)
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)
	job, err := s.GetJob("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestMarkRunningAsFailed(t *testing.T) {
	s := newTestStore(t)
	for _, j := range []*Job{
		{ID: "r1", Kind: JobKindCrop, Status: JobStatusRunning, Params: json.RawMessage(`{}`)},
		{ID: "q1", Kind: JobKindInterpolate, Status: JobStatusQueued, Params: json.RawMessage(`{}`)},
	} {
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("create %s: %v", j.ID, err)
		}
	}

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	r1, _ := s.GetJob("r1")
	if r1.Status != JobStatusFailed || r1.Error != "server restarted" {
		t.Fatalf("running job not failed: %+v", r1)
	}
	q1, _ := s.GetJob("q1")
	if q1.Status != JobStatusQueued {
		t.Fatalf("queued job touched: %+v", q1)
	}

	queued, err := s.ListQueuedJobs()
	if err != nil || len(queued) != 1 || queued[0].ID != "q1" {
		t.Fatalf("queued list = %v, err %v", queued, err)
	}
}

func TestListJobsByFile(t *testing.T) {
	s := newTestStore(t)
	for _, j := range []*Job{
		{ID: "a", Kind: JobKindCrop, FileID: 1, Status: JobStatusQueued, Params: json.RawMessage(`{}`)},
		{ID: "b", Kind: JobKindCrop, FileID: 2, Status: JobStatusQueued, Params: json.RawMessage(`{}`)},
		{ID: "c", Kind: JobKindInterpolate, FileID: 1, Status: JobStatusQueued, Params: json.RawMessage(`{}`)},
	} {
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("create %s: %v", j.ID, err)
		}
	}
	jobs, err := s.ListJobsByFile(1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len = %d, want 2", len(jobs))
	}
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateJob(&Job{ID: "x", Kind: JobKindCrop, Status: JobStatusCompleted, Params: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteJob("x"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	job, _ := s.GetJob("x")
	if job != nil {
		t.Fatal("job still present after delete")
	}
}
