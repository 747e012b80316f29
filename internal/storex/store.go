// Package storex is the thin transactional abstraction the scheduler core
// runs on top of: parameterized fetchone/fetchall/execute plus structured
// insert/update/delete helpers, with reconnect-on-transient-failure baked in.
package storex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/selfhostly/scheduler/internal/constants"
	_ "modernc.org/sqlite"
)

// ErrUnavailable marks a transient failure that survived every reconnect
// attempt. Callers test for it with errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// Store wraps a *sql.DB with the query helpers the job queue is built on.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	reconnectAttempts int
	reconnectSpacing  time.Duration
	path              string
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithReconnectPolicy overrides the default 3-tries/10s-spacing backoff.
func WithReconnectPolicy(attempts int, spacing time.Duration) Option {
	return func(s *Store) {
		s.reconnectAttempts = attempts
		s.reconnectSpacing = spacing
	}
}

// WithLogger overrides the default slog.Default() sink.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// Open opens (and, if necessary, creates) a SQLite-backed store at path and
// applies pragmas for WAL concurrency.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storex: create data dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storex: open: %w", err)
	}

	s := &Store{
		db:                sqlDB,
		log:               slog.Default(),
		reconnectAttempts: constants.DefaultReconnectAttempts,
		reconnectSpacing:  constants.DefaultReconnectSpacing,
		path:              path,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("storex: pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for schema bootstrap and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// isTransient reports whether err looks like a connection-level failure
// worth retrying, as opposed to a query/constraint error that retrying
// would never fix.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"):
		return true
	case strings.Contains(msg, "database is busy"):
		return true
	case strings.Contains(msg, "connection"):
		return true
	case strings.Contains(msg, "driver: bad connection"):
		return true
	default:
		return false
	}
}

// withRetry runs op, retrying up to reconnectAttempts times with linear
// backoff if op fails with a transient error.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.reconnectAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == s.reconnectAttempts {
			break
		}
		s.log.Warn("storex: transient failure, retrying", "op", op, "attempt", attempt+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectSpacing):
		}
	}
	return fmt.Errorf("storex: %s exhausted retries: %w: %w", op, ErrUnavailable, lastErr)
}

// Row is a loosely-typed result row keyed by column name, used by FetchOne
// and FetchAll so callers needn't hand-write a Scan target (the job queue
// reads every job row through it and converts the values itself).
type Row map[string]any

// FetchOne runs query and returns the first row, or nil if there were none.
func (s *Store) FetchOne(ctx context.Context, query string, args ...any) (Row, error) {
	var row Row
	err := s.withRetry(ctx, "fetchone", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			row = nil
			return rows.Err()
		}
		row, err = scanRow(rows)
		return err
	})
	return row, err
}

// FetchAll runs query and returns every row.
func (s *Store) FetchAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	var out []Row
	err := s.withRetry(ctx, "fetchall", func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			r, err := scanRow(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

func scanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, c := range cols {
		row[c] = vals[i]
	}
	return row, nil
}

// Execute runs a write statement and returns the number of affected rows.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := s.withRetry(ctx, "execute", func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Insert builds and runs a parameterized INSERT for table from row. When
// safe is true, a conflict on constraints is silently ignored (INSERT OR
// IGNORE) for idempotent enqueue. constraints is informational only for
// SQLite (the table's own UNIQUE constraint governs conflict detection);
// it is kept in the signature so callers document intent.
func (s *Store) Insert(ctx context.Context, table string, row map[string]any, safe bool, constraints []string) (int64, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}

	verb := "INSERT"
	if safe {
		verb = "INSERT OR IGNORE"
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return s.Execute(ctx, query, args...)
}

// Update builds and runs a parameterized UPDATE for table, setting every key
// in set and restricting to rows matching every key in where (AND-joined,
// equality only; every call site in this package needs nothing richer).
func (s *Store) Update(ctx context.Context, table string, set map[string]any, where map[string]any) (int64, error) {
	setCols := make([]string, 0, len(set))
	for c := range set {
		setCols = append(setCols, c)
	}
	sort.Strings(setCols)

	whereCols := make([]string, 0, len(where))
	for c := range where {
		whereCols = append(whereCols, c)
	}
	sort.Strings(whereCols)

	setClauses := make([]string, len(setCols))
	args := make([]any, 0, len(setCols)+len(whereCols))
	for i, c := range setCols {
		setClauses[i] = c + " = ?"
		args = append(args, set[c])
	}
	whereClauses := make([]string, len(whereCols))
	for i, c := range whereCols {
		whereClauses[i] = c + " = ?"
		args = append(args, where[c])
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))
	return s.Execute(ctx, query, args...)
}

// Delete builds and runs a parameterized DELETE for table restricted to rows
// matching every key in where.
func (s *Store) Delete(ctx context.Context, table string, where map[string]any) (int64, error) {
	whereCols := make([]string, 0, len(where))
	for c := range where {
		whereCols = append(whereCols, c)
	}
	sort.Strings(whereCols)

	whereClauses := make([]string, len(whereCols))
	args := make([]any, len(whereCols))
	for i, c := range whereCols {
		whereClauses[i] = c + " = ?"
		args[i] = where[c]
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereClauses, " AND "))
	return s.Execute(ctx, query, args...)
}
