// Package adminapi is the optional read/enqueue HTTP surface over
// internal/scheduler.Scheduler, built on gin with bearer-token auth via
// golang-jwt on mutating routes.
//
// This surface is entirely optional and lives outside internal/scheduler:
// the core has no wire protocol and no CLI, and nothing here is required
// for the dispatcher to function.
package adminapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/selfhostly/scheduler/internal/scheduler"
)

// Server wraps a gin.Engine exposing the admin surface over sched.
type Server struct {
	sched      *scheduler.Scheduler
	signingKey string
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server. When signingKey is empty, mutating routes are
// unauthenticated; callers are expected to put this behind a trusted
// network boundary in that case.
func New(sched *scheduler.Scheduler, signingKey string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{sched: sched, signingKey: signingKey, engine: engine}
	s.routes()
	return s
}

// ListenAndServe starts the HTTP server on addr; it blocks until the server
// stops (normally via Shutdown).
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := contextWithTimeout(5 * time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	jobs := s.engine.Group("/jobs")
	{
		jobs.GET("", s.listJobs)
		jobs.GET("/:type/count", s.countJobs)
		jobs.GET("/:type/:remote_id/place", s.placeInQueue)
		jobs.POST("", s.requireAuth(), s.addJob)
	}
}

// requireAuth validates a bearer token against s.signingKey; a no-op when
// no signing key was configured, matching New's documented contract.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.signingKey == "" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		_, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(s.signingKey), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
