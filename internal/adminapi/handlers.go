package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/selfhostly/scheduler/internal/queue"
)

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// listJobs serves GET /jobs?type=&remote_id= over JobQueue.GetAllJobs.
func (s *Server) listJobs(c *gin.Context) {
	jobType := c.DefaultQuery("type", "*")
	var remoteID *string
	if rid := c.Query("remote_id"); rid != "" {
		remoteID = &rid
	}

	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()

	jobs, err := s.sched.Queue().GetAllJobs(ctx, jobType, remoteID, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toJobViews(jobs))
}

// countJobs serves GET /jobs/:type/count over JobQueue.GetJobCount.
func (s *Server) countJobs(c *gin.Context) {
	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()

	n, err := s.sched.Queue().GetJobCount(ctx, c.Param("type"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// placeInQueue serves GET /jobs/:type/:remote_id/place over
// JobQueue.GetPlaceInQueue.
func (s *Server) placeInQueue(c *gin.Context) {
	jobType := c.Param("type")
	remoteID := c.Param("remote_id")

	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()

	rid := remoteID
	jobs, err := s.sched.Queue().GetAllJobs(ctx, jobType, &rid, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(jobs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	place, err := s.sched.Queue().GetPlaceInQueue(ctx, jobs[0])
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"place": place})
}

type addJobRequest struct {
	Type         string `json:"type" binding:"required"`
	RemoteID     string `json:"remote_id"`
	Details      string `json:"details"`
	ClaimAfterMS int64  `json:"claim_after_ms"`
	IntervalMS   int64  `json:"interval_ms"`
}

// addJob serves POST /jobs over JobQueue.AddJob.
func (s *Server) addJob(c *gin.Context) {
	var req addJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()

	job, err := s.sched.Queue().AddJob(ctx, req.Type, req.Details, req.RemoteID,
		time.Duration(req.ClaimAfterMS)*time.Millisecond,
		time.Duration(req.IntervalMS)*time.Millisecond)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, toJobView(job))
}

type jobView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	RemoteID  string `json:"remote_id"`
	Timestamp int64  `json:"timestamp"`
	Claimed   bool   `json:"claimed"`
	Interval  int64  `json:"interval"`
	Attempts  int    `json:"attempts"`
}

func toJobView(j *queue.Job) jobView {
	return jobView{
		ID:        j.ID,
		Type:      j.Type,
		RemoteID:  j.RemoteID,
		Timestamp: j.Timestamp,
		Claimed:   j.TimestampClaimed > 0,
		Interval:  j.Interval,
		Attempts:  j.Attempts,
	}
}

func toJobViews(jobs []*queue.Job) []jobView {
	views := make([]jobView, len(jobs))
	for i, j := range jobs {
		views[i] = toJobView(j)
	}
	return views
}
