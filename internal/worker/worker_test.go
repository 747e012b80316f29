package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/selfhostly/scheduler/internal/queue"
	"github.com/selfhostly/scheduler/internal/storex"
)

func setupTestJob(t *testing.T, remoteID string, interval time.Duration) (*queue.JobQueue, *queue.Job) {
	t.Helper()

	tmp, err := os.CreateTemp("", "worker-test-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	tmp.Close()
	t.Cleanup(func() { os.Remove(tmp.Name()) })

	store, err := storex.Open(tmp.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(store)
	if err := q.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	job, err := q.AddJob(context.Background(), "w", "", remoteID, 0, interval)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := job.Claim(context.Background()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	return q, job
}

type scriptedWorker struct {
	workFn func(ctx context.Context, job *queue.Job) error
}

func (w *scriptedWorker) Type() string       { return "w" }
func (w *scriptedWorker) MaxWorkers() int    { return 1 }
func (w *scriptedWorker) Work(ctx context.Context, job *queue.Job) error {
	return w.workFn(ctx, job)
}

// Successful work finishes a one-shot job.
func TestRunnerFinishesOnSuccess(t *testing.T) {
	q, job := setupTestJob(t, "s1", 0)
	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error { return nil }}

	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	jobs, err := q.GetAllJobs(context.Background(), "w", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0 after a finished one-shot job", len(jobs))
	}
}

// A crashing worker finishes (not retries) and the status notes the crash.
func TestRunnerHandlesCrashAsFinish(t *testing.T) {
	q, job := setupTestJob(t, "s5", 0)
	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		return errors.New("boom")
	}}

	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	jobs, err := q.GetAllJobs(context.Background(), "w", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0: a crash finishes a one-shot job rather than retrying it", len(jobs))
	}
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	q, job := setupTestJob(t, "panic", 0)
	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		panic("unexpected")
	}}

	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	jobs, err := q.GetAllJobs(context.Background(), "w", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Error("a panicking worker should still finish the job rather than crash the process")
	}
}

// Retry interrupt releases with the 10s delay.
func TestRunnerRetryInterruptReleases(t *testing.T) {
	_, job := setupTestJob(t, "s6", 0)
	beforeRelease := job.TimestampAfter

	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		flag := FlagFromContext(ctx)
		for flag.Level() != InterruptRetry {
			time.Sleep(time.Millisecond)
		}
		return &Interrupted{Level: InterruptRetry}
	}}

	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	done := make(chan struct{})
	go func() {
		runner.Run(context.Background())
		close(done)
	}()

	runner.RequestAbort(InterruptRetry)
	<-done

	if job.TimestampClaimed != 0 {
		t.Error("job should be unclaimed after a retry interrupt")
	}
	if job.TimestampAfter <= beforeRelease {
		t.Error("job's timestamp_after should move forward after a retry release")
	}
}

// Attempts increments once for the claim and once for the release.
func TestRunnerRetryInterruptIncrementsAttempts(t *testing.T) {
	_, job := setupTestJob(t, "s6b", 0)
	if job.Attempts != 1 {
		t.Fatalf("Attempts after claim = %d, want 1", job.Attempts)
	}

	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		return &Interrupted{Level: InterruptRetry}
	}}
	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (claim + release)", job.Attempts)
	}
}

// An interrupt with a level that is neither retry nor cancel leaves the
// row claimed; see DESIGN.md for why this is intentional.
func TestRunnerUndefinedInterruptLevelLeavesJobClaimed(t *testing.T) {
	_, job := setupTestJob(t, "undefined-level", 0)
	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		return &Interrupted{Level: Level(99)}
	}}
	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	if job.TimestampClaimed == 0 {
		t.Error("an undefined interrupt level should leave the job claimed")
	}
}

func TestRunnerCancelInterruptFinishes(t *testing.T) {
	q, job := setupTestJob(t, "cancel", 0)
	w := &scriptedWorker{workFn: func(ctx context.Context, job *queue.Job) error {
		return &Interrupted{Level: InterruptCancel}
	}}
	runner := NewRunner(w, job, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	runner.Run(context.Background())

	jobs, err := q.GetAllJobs(context.Background(), "w", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Error("a cancel interrupt should finish (delete) a one-shot job")
	}
}

func TestFlagConcurrentAccess(t *testing.T) {
	f := &Flag{}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Request(InterruptRetry)
			_ = f.Level()
		}()
	}
	wg.Wait()
	if f.Level() != InterruptRetry {
		t.Errorf("Level() = %v, want InterruptRetry", f.Level())
	}
}
