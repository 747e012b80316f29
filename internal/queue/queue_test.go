package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/selfhostly/scheduler/internal/storex"
)

func setupTestQueue(t *testing.T) (*JobQueue, func(int64)) {
	t.Helper()

	tmp, err := os.CreateTemp("", "queue-test-*.db")
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

	now := int64(1_700_000_000)
	var mu sync.Mutex
	clock := func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	setNow := func(n int64) {
		mu.Lock()
		defer mu.Unlock()
		now = n
	}

	q := New(store, WithClock(clock))
	if err := q.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return q, setNow
}

// Testable property 1: unique enqueue.
func TestAddJobIdempotentOnTypeAndRemoteID(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := q.AddJob(ctx, "w", `{"n":1}`, "x", 0, 0); err != nil {
			t.Fatalf("add job %d: %v", i, err)
		}
	}

	n, err := q.GetJobCount(ctx, "w")
	if err != nil {
		t.Fatalf("get job count: %v", err)
	}
	if n != 1 {
		t.Errorf("job count = %d, want 1", n)
	}
}

func TestAddJobGeneratesRemoteIDWhenAbsent(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	j, err := q.AddJob(ctx, "w", "", "", 0, 0)
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if j.RemoteID == "" {
		t.Error("expected a generated remote_id, got empty string")
	}
}

// Testable property 2: exclusive claim.
func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.AddJob(ctx, "w", "", "race", 0, 0); err != nil {
		t.Fatalf("add job: %v", err)
	}

	const n = 8
	var wins, losses int32
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, err := q.getByTypeAndRemoteID(ctx, "w", "race")
			if err != nil {
				return
			}
			err = row.Claim(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if IsJobClaimed(err) {
				losses++
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != n-1 {
		t.Errorf("losses = %d, want %d", losses, n-1)
	}
}

// Testable property 3 & 7: eligibility and release delay.
func TestDeferredJobIneligibleUntilClaimAfter(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(1000)
	if _, err := q.AddJob(ctx, "w", "", "deferred", 5*time.Second, 0); err != nil {
		t.Fatalf("add job: %v", err)
	}

	job, err := q.GetJob(ctx, "w")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job != nil {
		t.Error("job should not be eligible before claim_after")
	}

	setNow(1006)
	job, err = q.GetJob(ctx, "w")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job == nil {
		t.Error("job should be eligible after claim_after elapses")
	}
}

// Testable property 4: FIFO within type.
func TestGetAllJobsFIFOWithinType(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(1000)
	if _, err := q.AddJob(ctx, "w", "", "first", 0, 0); err != nil {
		t.Fatal(err)
	}
	setNow(1001)
	if _, err := q.AddJob(ctx, "w", "", "second", 0, 0); err != nil {
		t.Fatal(err)
	}
	setNow(1002)
	if _, err := q.AddJob(ctx, "w", "", "third", 0, 0); err != nil {
		t.Fatal(err)
	}

	// Eligibility needs timestamp_after < now, so move past the third add.
	setNow(1003)
	jobs, err := q.GetAllJobs(ctx, "w", nil, true)
	if err != nil {
		t.Fatalf("get all jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("len(jobs) = %d, want 3", len(jobs))
	}
	want := []string{"first", "second", "third"}
	for i, j := range jobs {
		if j.RemoteID != want[i] {
			t.Errorf("jobs[%d].RemoteID = %q, want %q", i, j.RemoteID, want[i])
		}
	}
}

// Testable property 5: one-shot finish deletes the row.
func TestFinishDeletesOneShotJob(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.AddJob(ctx, "w", "", "oneshot", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := job.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	jobs, err := q.GetAllJobs(ctx, "w", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0 after finishing a one-shot job", len(jobs))
	}
}

// Testable property 6: interval rearm.
func TestFinishRearmsIntervalJob(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(2000)
	job, err := q.AddJob(ctx, "w", "", "interval", 0, 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	setNow(2005)
	if err := job.Finish(ctx); err != nil {
		t.Fatal(err)
	}

	if job.TimestampClaimed != 0 {
		t.Errorf("TimestampClaimed = %d, want 0 after finish", job.TimestampClaimed)
	}

	// Not yet eligible: lastclaimed(2005) + interval(10) = 2015 > now(2006).
	setNow(2006)
	eligible, err := q.GetJob(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if eligible != nil {
		t.Error("interval job should not be eligible before lastclaimed+interval")
	}

	setNow(2016)
	eligible, err = q.GetJob(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if eligible == nil {
		t.Error("interval job should be eligible once lastclaimed+interval has passed")
	}
}

func TestReleaseDelaysEligibilityAndIncrementsAttempts(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(3000)
	job, err := q.AddJob(ctx, "w", "", "retry", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := job.Release(ctx, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if job.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (one claim, one release)", job.Attempts)
	}

	setNow(3005)
	eligible, err := q.GetJob(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if eligible != nil {
		t.Error("released job should not be eligible before delay elapses")
	}

	setNow(3011)
	eligible, err = q.GetJob(ctx, "w")
	if err != nil {
		t.Fatal(err)
	}
	if eligible == nil {
		t.Error("released job should be eligible once delay has elapsed")
	}
}

func TestReleaseAllClearsEveryClaim(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	j1, _ := q.AddJob(ctx, "w", "", "a", 0, 0)
	j2, _ := q.AddJob(ctx, "w", "", "b", 0, 0)
	if err := j1.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	if err := j2.Claim(ctx); err != nil {
		t.Fatal(err)
	}

	if err := q.ReleaseAll(ctx); err != nil {
		t.Fatal(err)
	}

	// Both jobs were added at the fixed clock value; eligibility needs
	// timestamp_after < now, so advance the clock by one second.
	setNow(1_700_000_001)
	jobs, err := q.GetAllJobs(ctx, "w", nil, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2 eligible after release_all", len(jobs))
	}
}

func TestGetPlaceInQueue(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(1000)
	j1, _ := q.AddJob(ctx, "w", "", "a", 0, 0)
	setNow(1001)
	j2, _ := q.AddJob(ctx, "w", "", "b", 0, 0)
	setNow(1002)
	j3, _ := q.AddJob(ctx, "w", "", "c", 0, 0)

	place, err := q.GetPlaceInQueue(ctx, j1)
	if err != nil {
		t.Fatal(err)
	}
	if place != 1 {
		t.Errorf("place(j1) = %d, want 1", place)
	}

	place, err = q.GetPlaceInQueue(ctx, j3)
	if err != nil {
		t.Fatal(err)
	}
	if place != 3 {
		t.Errorf("place(j3) = %d, want 3", place)
	}

	if err := j2.Claim(ctx); err != nil {
		t.Fatal(err)
	}
	place, err = q.GetPlaceInQueue(ctx, j2)
	if err != nil {
		t.Fatal(err)
	}
	if place != 0 {
		t.Errorf("place(claimed j2) = %d, want 0", place)
	}
}

func TestAddCronJobSchedulesNextOccurrence(t *testing.T) {
	q, setNow := setupTestQueue(t)
	ctx := context.Background()

	setNow(1_700_000_000) // arbitrary reference instant
	job, err := q.AddCronJob(ctx, "w", "* * * * *", "", "cron-job")
	if err != nil {
		t.Fatalf("add cron job: %v", err)
	}
	if job.TimestampAfter <= job.Timestamp {
		t.Errorf("TimestampAfter = %d, want > Timestamp(%d)", job.TimestampAfter, job.Timestamp)
	}

	if err := job.Claim(ctx); err != nil {
		t.Fatal(err)
	}

	setNow(job.TimestampAfter + 1)
	if err := job.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if job.TimestampClaimed != 0 {
		t.Error("cron job should be rearmed (unclaimed) after finish")
	}
	if job.TimestampAfter <= job.TimestampLastClaimed {
		t.Error("cron job's next timestamp_after should be in the future of the finish time")
	}
}

func TestAddStatusAppends(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.AddJob(ctx, "w", "", "status-job", 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := job.AddStatus(ctx, "first event"); err != nil {
		t.Fatal(err)
	}
	if err := job.AddStatus(ctx, "second event"); err != nil {
		t.Fatal(err)
	}
	if job.Status == "" {
		t.Fatal("expected non-empty status after AddStatus")
	}
}
