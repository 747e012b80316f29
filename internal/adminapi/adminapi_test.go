package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/selfhostly/scheduler/internal/config"
	"github.com/selfhostly/scheduler/internal/resolver"
	"github.com/selfhostly/scheduler/internal/scheduler"
)

func testScheduler(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DBPath = filepath.Join(dir, "scheduler.db")
	cfg.LogFile = filepath.Join(dir, "scheduler.log")
	cfg.PollInterval = 10 * time.Millisecond
	cfg.ShutdownGrace = 0

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sched, err := scheduler.New(ctx, cfg, resolver.New())
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(sched.End)
	return sched
}

func TestListJobsEmpty(t *testing.T) {
	sched := testScheduler(t)
	s := New(sched, "")

	req := httptest.NewRequest(http.MethodGet, "/jobs?type=w", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var jobs []jobView
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0", len(jobs))
	}
}

func TestAddJobRequiresAuthWhenKeyConfigured(t *testing.T) {
	sched := testScheduler(t)
	s := New(sched, "test-signing-key")

	body := strings.NewReader(`{"type":"w","remote_id":"x"}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without a bearer token", rec.Code)
	}
}

func TestAddJobSucceedsWithValidToken(t *testing.T) {
	sched := testScheduler(t)
	key := "test-signing-key"
	s := New(sched, key)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "admin"})
	signed, err := token.SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	// Deferred well past the test's lifetime so the running dispatcher
	// can't cancel this unregistered-type job before the handler returns.
	body := strings.NewReader(`{"type":"w","remote_id":"x","claim_after_ms":60000}`)
	req := httptest.NewRequest(http.MethodPost, "/jobs", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
}

func TestCountJobs(t *testing.T) {
	sched := testScheduler(t)
	s := New(sched, "")

	// Deferred so the dispatcher can't cancel these unregistered-type
	// jobs before the count is read.
	if _, err := sched.Queue().AddJob(context.Background(), "w", "", "a", time.Minute, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Queue().AddJob(context.Background(), "w", "", "b", time.Minute, 0); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/w/count", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("count = %d, want 2", out.Count)
	}
}
