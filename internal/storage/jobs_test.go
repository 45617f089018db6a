package storage

import (
	"testing"
	"time"
)

func mustEnqueue(t *testing.T, s *Store, j Job) {
	t.Helper()
	if j.PayloadJSON == "" {
		j.PayloadJSON = `{}`
	}
	if err := s.EnqueueJob(j); err != nil {
		t.Fatalf("EnqueueJob %s: %v", j.ID, err)
	}
}

func mustClaim(t *testing.T, s *Store, types ...string) *Job {
	t.Helper()
	j, err := s.ClaimNextJob(types)
	if err != nil {
		t.Fatalf("ClaimNextJob(%v): %v", types, err)
	}
	return j
}

func mustGetJob(t *testing.T, s *Store, id string) Job {
	t.Helper()
	j, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob %s: %v", id, err)
	}
	return j
}

func TestJobsTableDefaults(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.db.Exec(`INSERT INTO jobs (id, type, payload_json) VALUES ('j1', 'phone.update', '{"id":"p1"}')`); err != nil {
		t.Fatalf("INSERT into jobs: %v", err)
	}
	j := mustGetJob(t, s, "j1")
	if j.Type != "phone.update" || j.PayloadJSON != `{"id":"p1"}` {
		t.Errorf("job = %+v", j)
	}
	if j.Status != JobPending || j.Attempts != 0 || j.MaxAttempts != 3 {
		t.Errorf("defaults: status %q attempts %d max %d; want pending 0 3", j.Status, j.Attempts, j.MaxAttempts)
	}
	if j.CreatedAt.IsZero() || j.RunAfter.IsZero() {
		t.Errorf("timestamps not parsed: %+v", j)
	}
}

func TestClaimNextJob(t *testing.T) {
	tests := []struct {
		name  string
		jobs  []Job
		types []string
		want  string
	}{
		{
			name:  "empty queue",
			types: []string{"x"},
		},
		{
			name:  "no types",
			jobs:  []Job{{ID: "j1", Type: "x"}},
			types: nil,
		},
		{
			name:  "due job",
			jobs:  []Job{{ID: "j1", Type: "x", PayloadJSON: `{"n":1}`}},
			types: []string{"x"},
			want:  "j1",
		},
		{
			name:  "future run_after",
			jobs:  []Job{{ID: "j1", Type: "x", RunAfter: time.Now().Add(time.Hour)}},
			types: []string{"x"},
		},
		{
			name:  "type filter",
			jobs:  []Job{{ID: "ja", Type: "a"}, {ID: "jb", Type: "b"}},
			types: []string{"b"},
			want:  "jb",
		},
		{
			name: "earliest run_after first",
			jobs: []Job{
				{ID: "late", Type: "x", RunAfter: time.Now().Add(-time.Minute)},
				{ID: "early", Type: "x", RunAfter: time.Now().Add(-time.Hour)},
			},
			types: []string{"x"},
			want:  "early",
		},
		{
			name:  "caller-owned job",
			jobs:  []Job{{ID: "j1", Type: "x", Status: JobRunning}},
			types: []string{"x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestStore(t)
			for _, j := range tt.jobs {
				mustEnqueue(t, s, j)
			}
			got := mustClaim(t, s, tt.types...)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("claimed %+v, want nothing", got)
				}
				return
			}
			if got == nil || got.ID != tt.want {
				t.Fatalf("claimed %+v, want %s", got, tt.want)
			}
			if got.Status != JobRunning {
				t.Errorf("Status = %q, want running", got.Status)
			}
		})
	}
}

func TestClaimNextJob_NeverTwice(t *testing.T) {
	s := openTestStore(t)
	mustEnqueue(t, s, Job{ID: "first", Type: "x"})

	if got := mustClaim(t, s, "x"); got == nil || got.ID != "first" {
		t.Fatalf("first claim = %+v", got)
	}
	if got := mustClaim(t, s, "x"); got != nil {
		t.Fatalf("running job claimed again: %+v", got)
	}

	mustEnqueue(t, s, Job{ID: "second", Type: "x"})
	if got := mustClaim(t, s, "x"); got == nil || got.ID != "second" {
		t.Fatalf("second claim = %+v", got)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	mustEnqueue(t, s, Job{ID: "done", Type: "x"})
	mustClaim(t, s, "x")

	if err := s.CompleteJob("done"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if j := mustGetJob(t, s, "done"); j.Status != JobCompleted || j.LastError != "" {
		t.Errorf("job = %+v, want completed", j)
	}
}

func TestFailJob(t *testing.T) {
	s := openTestStore(t)
	mustEnqueue(t, s, Job{ID: "flaky", Type: "x", MaxAttempts: 2})
	mustClaim(t, s, "x")

	before := time.Now().Add(time.Second)
	if err := s.FailJob("flaky", "store unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j := mustGetJob(t, s, "flaky")
	if j.Status != JobPending || j.Attempts != 1 || j.LastError != "store unavailable" {
		t.Errorf("after first failure: %+v", j)
	}
	// 2^1 seconds of backoff, stored at second precision.
	if j.RunAfter.Before(before.Truncate(time.Second)) {
		t.Errorf("run_after %v not pushed past %v", j.RunAfter, before)
	}

	if _, err := s.db.Exec(`UPDATE jobs SET status = 'running' WHERE id = 'flaky'`); err != nil {
		t.Fatal(err)
	}
	if err := s.FailJob("flaky", "still down"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if j := mustGetJob(t, s, "flaky"); j.Status != JobFailed || j.Attempts != 2 {
		t.Errorf("after last attempt: %+v, want failed", j)
	}

	if err := s.FailJob("missing", "x"); err != ErrNotFound {
		t.Errorf("FailJob(missing) = %v, want ErrNotFound", err)
	}
}

func TestRetryDelay(t *testing.T) {
	for n, want := range map[int]time.Duration{1: 2 * time.Second, 3: 8 * time.Second, 40: (1 << 20) * time.Second} {
		if got := retryDelay(n); got != want {
			t.Errorf("retryDelay(%d) = %v, want %v", n, got, want)
		}
	}
}

func TestEnqueueJob_RunningIsNotClaimable(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-inline", Type: "x", PayloadJSON: `{}`, Status: JobRunning}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Fatalf("claimed a job owned by its caller: %+v", got)
	}

	if err := s.FailJob("j-inline", "store unavailable"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, err := s.GetJob("j-inline")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != JobPending || j.Attempts != 1 || j.LastError != "store unavailable" {
		t.Errorf("job = %+v, want pending with one attempt", j)
	}
}

func TestEnqueueJob_RejectsTerminalStatus(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnqueueJob(Job{ID: "j", Type: "x", PayloadJSON: `{}`, Status: JobCompleted}); err == nil {
		t.Error("expected error for a completed job")
	}
}

func TestRequeueStale(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-stale", Type: "x", PayloadJSON: `{}`, Status: JobRunning}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(Job{ID: "j-fresh", Type: "x", PayloadJSON: `{}`, Status: JobRunning}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	old := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	if _, err := s.db.Exec(`UPDATE jobs SET updated_at = ? WHERE id = 'j-stale'`, old); err != nil {
		t.Fatalf("UPDATE: %v", err)
	}

	n, err := s.RequeueStale(10 * time.Minute)
	if err != nil {
		t.Fatalf("RequeueStale: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}
	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil || got.ID != "j-stale" {
		t.Errorf("claimed %+v, want j-stale", got)
	}
}

func TestRetryJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-retry", Type: "x", PayloadJSON: `{}`, MaxAttempts: 1, Status: JobRunning}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.FailJob("j-retry", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if err := s.RetryJob("j-retry"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if err := s.RetryJob("j-retry"); err != ErrNotFound {
		t.Errorf("second RetryJob err = %v, want ErrNotFound", err)
	}
	j, err := s.GetJob("j-retry")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != JobPending || j.Attempts != 0 {
		t.Errorf("job = %+v, want pending with no attempts", j)
	}
}

func TestListAndCountJobs(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.EnqueueJob(Job{ID: id, Type: "x", PayloadJSON: `{}`}); err != nil {
			t.Fatalf("EnqueueJob %s: %v", id, err)
		}
	}
	if err := s.CompleteJob("b"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	counts, err := s.CountJobs()
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if counts[JobPending] != 2 || counts[JobCompleted] != 1 || counts[JobFailed] != 0 {
		t.Errorf("counts = %v", counts)
	}

	pending, err := s.ListJobs(JobPending, 10)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d jobs, want 2", len(pending))
	}
	all, err := s.ListJobs("", 0)
	if err != nil {
		t.Fatalf("ListJobs all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d jobs, want 3", len(all))
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetJob("missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.CompleteJob("missing"); err != ErrNotFound {
		t.Errorf("CompleteJob err = %v, want ErrNotFound", err)
	}
}

func TestExpediteJobs(t *testing.T) {
	s := openTestStore(t)

	future := time.Now().UTC().Add(time.Hour)
	if err := s.EnqueueJob(Job{ID: "j-later", Type: "x", PayloadJSON: `{}`, RunAfter: future}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	n, err := s.ExpediteJobs()
	if err != nil {
		t.Fatalf("ExpediteJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("expedited = %d, want 1", n)
	}
	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("job still deferred after ExpediteJobs")
	}
}
