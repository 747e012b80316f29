package queue

import "context"

// schemaDDL is the idempotent bootstrap for the jobs table plus the
// cron_schedules side table used by cron-expression recurring jobs.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS jobs (
	id                     TEXT PRIMARY KEY,
	type                   TEXT NOT NULL,
	remote_id              TEXT NOT NULL,
	details                TEXT NOT NULL DEFAULT '',
	timestamp              BIGINT NOT NULL,
	timestamp_after        BIGINT NOT NULL DEFAULT 0,
	timestamp_claimed      BIGINT NOT NULL DEFAULT 0,
	timestamp_lastclaimed  BIGINT NOT NULL DEFAULT 0,
	interval               BIGINT NOT NULL DEFAULT 0,
	attempts               INTEGER NOT NULL DEFAULT 0,
	status                 TEXT NOT NULL DEFAULT '',
	UNIQUE (type, remote_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_type_timestamp ON jobs(type, timestamp);
CREATE INDEX IF NOT EXISTS idx_jobs_claimed ON jobs(timestamp_claimed);

CREATE TABLE IF NOT EXISTS cron_schedules (
	type      TEXT NOT NULL,
	remote_id TEXT NOT NULL,
	expr      TEXT NOT NULL,
	PRIMARY KEY (type, remote_id)
);
`

// Bootstrap applies the schema. Safe to call on every process start.
func (q *JobQueue) Bootstrap(ctx context.Context) error {
	_, err := q.store.DB().ExecContext(ctx, schemaDDL)
	return err
}
