// Package queue implements a durable, claim-based job queue over a
// relational store with uniqueness, eligibility, and fairness rules.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/selfhostly/scheduler/internal/cronspec"
	"github.com/selfhostly/scheduler/internal/storex"
)

// JobQueue indexes and selects eligible jobs over one Store.
type JobQueue struct {
	store *storex.Store
	clock func() int64
}

// Option configures a JobQueue at construction time.
type Option func(*JobQueue)

// WithClock overrides the default time.Now()-based clock; tests use this to
// make eligibility and interval timing deterministic.
func WithClock(clock func() int64) Option {
	return func(q *JobQueue) {
		q.clock = clock
	}
}

// New wraps store in a JobQueue. Bootstrap must be called once before use.
func New(store *storex.Store, opts ...Option) *JobQueue {
	q := &JobQueue{
		store: store,
		clock: func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddJob enqueues a job. Insert is idempotent on (type, remote_id): a
// conflicting insert is silently ignored and the returned Job reflects
// whichever row is authoritative.
func (q *JobQueue) AddJob(ctx context.Context, jobType, details, remoteID string, claimAfter, interval time.Duration) (*Job, error) {
	if remoteID == "" {
		remoteID = uuid.New().String()
	}
	now := q.clock()

	row := map[string]any{
		"id":                    uuid.New().String(),
		"type":                  jobType,
		"remote_id":             remoteID,
		"details":               details,
		"timestamp":             now,
		"timestamp_after":       now + int64(claimAfter/time.Second),
		"timestamp_claimed":     int64(0),
		"timestamp_lastclaimed": int64(0),
		"interval":              int64(interval / time.Second),
		"attempts":              0,
		"status":                "",
	}
	if _, err := q.store.Insert(ctx, "jobs", row, true, []string{"type", "remote_id"}); err != nil {
		return nil, fmt.Errorf("queue: add job: %w", err)
	}

	return q.getByTypeAndRemoteID(ctx, jobType, remoteID)
}

// AddCronJob enqueues a recurring job scheduled by a cron expression instead
// of a fixed interval. interval is stored as 0; the next eligible time is
// computed from expr at add time and again every Finish.
func (q *JobQueue) AddCronJob(ctx context.Context, jobType, cronExpr, details, remoteID string) (*Job, error) {
	sched, err := cronspec.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("queue: add cron job: %w", err)
	}
	if remoteID == "" {
		remoteID = uuid.New().String()
	}
	now := q.clock()
	next := sched.Next(now)

	row := map[string]any{
		"id":                    uuid.New().String(),
		"type":                  jobType,
		"remote_id":             remoteID,
		"details":               details,
		"timestamp":             now,
		"timestamp_after":       next,
		"timestamp_claimed":     int64(0),
		"timestamp_lastclaimed": int64(0),
		"interval":              int64(0),
		"attempts":              0,
		"status":                "",
	}
	if _, err := q.store.Insert(ctx, "jobs", row, true, []string{"type", "remote_id"}); err != nil {
		return nil, fmt.Errorf("queue: add cron job: %w", err)
	}

	cronRow := map[string]any{
		"type":      jobType,
		"remote_id": remoteID,
		"expr":      cronExpr,
	}
	if _, err := q.store.Insert(ctx, "cron_schedules", cronRow, true, []string{"type", "remote_id"}); err != nil {
		return nil, fmt.Errorf("queue: add cron job: record schedule: %w", err)
	}

	return q.getByTypeAndRemoteID(ctx, jobType, remoteID)
}

// GetJob returns the single eligible job of the given type with the
// smallest timestamp, or nil if none is eligible. It does not claim.
func (q *JobQueue) GetJob(ctx context.Context, jobType string) (*Job, error) {
	now := q.clock()
	rows, err := q.store.FetchAll(ctx, eligibilityQuery+" AND type = ? ORDER BY timestamp ASC LIMIT 1", now, now, jobType)
	if err != nil {
		return nil, fmt.Errorf("queue: get job: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return q.hydrate(ctx, rows[0])
}

// GetAllJobs returns jobs of the given type (or every type, if jobType is
// "*"), optionally overridden to a single remote_id, ordered ascending by
// timestamp for FIFO fairness. restrictClaimable limits the result to
// currently-eligible rows.
func (q *JobQueue) GetAllJobs(ctx context.Context, jobType string, remoteID *string, restrictClaimable bool) ([]*Job, error) {
	now := q.clock()

	var query string
	args := []any{}
	if restrictClaimable {
		query = eligibilityQuery
		args = append(args, now, now)
	} else {
		query = "SELECT * FROM jobs WHERE 1=1"
	}

	if jobType != "" && jobType != "*" {
		query += " AND type = ?"
		args = append(args, jobType)
	}
	if remoteID != nil {
		query += " AND remote_id = ?"
		args = append(args, *remoteID)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := q.store.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: get all jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(rows))
	for _, r := range rows {
		j, err := q.hydrate(ctx, r)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJobCount returns the number of rows of the given type (or every type,
// if jobType is "*"), regardless of eligibility.
func (q *JobQueue) GetJobCount(ctx context.Context, jobType string) (int, error) {
	query := "SELECT COUNT(*) AS n FROM jobs WHERE 1=1"
	args := []any{}
	if jobType != "" && jobType != "*" {
		query += " AND type = ?"
		args = append(args, jobType)
	}
	row, err := q.store.FetchOne(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue: get job count: %w", err)
	}
	if row == nil {
		return 0, nil
	}
	return toInt(row["n"]), nil
}

// ReleaseAll clears timestamp_claimed on every row. Called once at manager
// start to recover from an unclean prior shutdown; see DESIGN.md for why
// this runs by default.
func (q *JobQueue) ReleaseAll(ctx context.Context) error {
	_, err := q.store.Execute(ctx, `UPDATE jobs SET timestamp_claimed = 0`)
	if err != nil {
		return fmt.Errorf("queue: release all: %w", err)
	}
	return nil
}

// GetPlaceInQueue returns 0 if job is currently claimed; otherwise the
// 1-based position among jobs of the same type whose timestamp is earlier
// or which are currently claimed.
func (q *JobQueue) GetPlaceInQueue(ctx context.Context, job *Job) (int, error) {
	if job.TimestampClaimed > 0 {
		return 0, nil
	}
	row, err := q.store.FetchOne(ctx,
		`SELECT COUNT(*) AS n FROM jobs WHERE type = ? AND (timestamp < ? OR timestamp_claimed > 0)`,
		job.Type, job.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("queue: get place in queue: %w", err)
	}
	if row == nil {
		return 1, nil
	}
	return toInt(row["n"]) + 1, nil
}

// eligibilityQuery selects rows that are unclaimed, past their earliest
// claim time, and (for interval jobs) due again since their last claim.
const eligibilityQuery = `SELECT * FROM jobs WHERE timestamp_claimed = 0 AND timestamp_after < ? AND (interval = 0 OR timestamp_lastclaimed + interval < ?)`

func (q *JobQueue) getByTypeAndRemoteID(ctx context.Context, jobType, remoteID string) (*Job, error) {
	row, err := q.store.FetchOne(ctx, `SELECT * FROM jobs WHERE type = ? AND remote_id = ?`, jobType, remoteID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, WrapJobNotFound(fmt.Sprintf("(%s, %s)", jobType, remoteID), nil)
	}
	return q.hydrate(ctx, row)
}

func (q *JobQueue) hydrate(ctx context.Context, row storex.Row) (*Job, error) {
	j := &Job{
		store:                q.store,
		clock:                q.clock,
		ID:                   toString(row["id"]),
		Type:                 toString(row["type"]),
		RemoteID:             toString(row["remote_id"]),
		Details:              toString(row["details"]),
		Timestamp:            toInt64(row["timestamp"]),
		TimestampAfter:       toInt64(row["timestamp_after"]),
		TimestampClaimed:     toInt64(row["timestamp_claimed"]),
		TimestampLastClaimed: toInt64(row["timestamp_lastclaimed"]),
		Interval:             toInt64(row["interval"]),
		Attempts:             toInt(row["attempts"]),
		Status:               toString(row["status"]),
	}

	cronRow, err := q.store.FetchOne(ctx, `SELECT expr FROM cron_schedules WHERE type = ? AND remote_id = ?`, j.Type, j.RemoteID)
	if err != nil {
		return nil, err
	}
	if cronRow != nil {
		expr := toString(cronRow["expr"])
		sched, err := cronspec.Parse(expr)
		if err == nil {
			j.cronNext = func(now int64) int64 { return sched.Next(now) }
		}
	}

	return j, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toInt(v any) int {
	return int(toInt64(v))
}
