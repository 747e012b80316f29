package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/selfhostly/scheduler/internal/constants"
	"github.com/selfhostly/scheduler/internal/storex"
)

// Job is a single claimable row. Its methods operate on the row the caller
// already owns a handle to; they never re-resolve the job by scanning the
// table.
type Job struct {
	store *storex.Store
	clock func() int64

	ID                    string
	Type                  string
	RemoteID              string
	Details               string
	Timestamp             int64
	TimestampAfter        int64
	TimestampClaimed      int64
	TimestampLastClaimed  int64
	Interval              int64
	Attempts              int
	Status                string

	// cronNext, when set, overrides the interval-rearm branch of Finish
	// with a cron-expression-derived next eligible time.
	cronNext func(now int64) int64
}

// Claim atomically transitions the row from unowned to owned by this
// in-memory handle. Returns a JOB_CLAIMED error if another caller won the
// race.
func (j *Job) Claim(ctx context.Context) error {
	now := j.clock()
	n, err := j.store.Execute(ctx,
		`UPDATE jobs SET timestamp_claimed = ?, timestamp_lastclaimed = ?, attempts = attempts + 1 WHERE id = ? AND timestamp_claimed = 0`,
		now, now, j.ID)
	if err != nil {
		return wrapStore("claim", err)
	}
	if n == 0 {
		return WrapJobClaimed(j.ID)
	}
	j.TimestampClaimed = now
	j.TimestampLastClaimed = now
	j.Attempts++
	return nil
}

// Finish applies the terminal "work completed normally" transition:
// one-shot jobs are deleted, interval jobs are rearmed. Cron-scheduled
// jobs rearm against their next scheduled occurrence instead of a fixed
// interval.
func (j *Job) Finish(ctx context.Context) error {
	now := j.clock()

	if j.cronNext != nil {
		next := j.cronNext(now)
		_, err := j.store.Execute(ctx,
			`UPDATE jobs SET timestamp_claimed = 0, timestamp_lastclaimed = ?, timestamp_after = ? WHERE id = ?`,
			now, next, j.ID)
		if err != nil {
			return wrapStore("finish", err)
		}
		j.TimestampClaimed = 0
		j.TimestampLastClaimed = now
		j.TimestampAfter = next
		return nil
	}

	if j.Interval == 0 {
		_, err := j.store.Execute(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return wrapStore("finish", err)
	}

	_, err := j.store.Execute(ctx,
		`UPDATE jobs SET timestamp_claimed = 0, timestamp_lastclaimed = ? WHERE id = ?`,
		now, j.ID)
	if err != nil {
		return wrapStore("finish", err)
	}
	j.TimestampClaimed = 0
	j.TimestampLastClaimed = now
	return nil
}

// Release voluntarily relinquishes the claim, making the job eligible again
// no earlier than now+delay, and counts the attempt.
func (j *Job) Release(ctx context.Context, delay time.Duration) error {
	now := j.clock()
	after := now + int64(delay/time.Second)
	_, err := j.store.Execute(ctx,
		`UPDATE jobs SET timestamp_claimed = 0, timestamp_after = ?, attempts = attempts + 1 WHERE id = ?`,
		after, j.ID)
	if err != nil {
		return wrapStore("release", err)
	}
	j.TimestampClaimed = 0
	j.TimestampAfter = after
	j.Attempts++
	return nil
}

// AddStatus appends a timestamped line to the job's status log, truncating
// to the last DefaultStatusLineLimit lines so the column stays bounded.
// Best-effort: failures are returned but the in-memory Status is updated
// regardless so callers that ignore the error still see a consistent
// local view.
func (j *Job) AddStatus(ctx context.Context, text string) error {
	now := j.clock()
	line := fmt.Sprintf("[%s] %s", time.Unix(now, 0).UTC().Format(time.RFC3339), text)

	lines := strings.Split(j.Status, "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	lines = append(lines, line)
	if len(lines) > constants.DefaultStatusLineLimit {
		lines = lines[len(lines)-constants.DefaultStatusLineLimit:]
	}
	j.Status = strings.Join(lines, "\n")

	_, err := j.store.Execute(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, j.Status, j.ID)
	return wrapStore("add_status", err)
}
