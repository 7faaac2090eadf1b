// Package health provides a registry of named dependency checks backing
// the /health endpoint.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 3 * time.Second

// Status represents the health of a single dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
	// Optional checks degrade the service but do not fail it.
	Optional  bool  `json:"optional,omitempty"`
	LatencyMS int64 `json:"latencyMs"`
}

// Checker checks one dependency.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them concurrently.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
	version  string
}

type namedChecker struct {
	name     string
	optional bool
	check    Checker
}

// NewRegistry creates a registry reporting version.
func NewRegistry(version string) *Registry {
	return &Registry{timeout: DefaultTimeout, version: version}
}

// Register adds a required checker.
func (r *Registry) Register(name string, check Checker) {
	r.add(namedChecker{name: name, check: check})
}

// RegisterOptional adds a checker whose failure only degrades the service
// (event stream, messaging).
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(namedChecker{name: name, optional: true, check: check})
}

func (r *Registry) add(nc namedChecker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, nc)
	r.mu.Unlock()
}

// CheckAll runs every checker. healthy is false only when a required
// check fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func(i int, nc namedChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			st := nc.check(cctx)
			st.Name = nc.name
			st.Optional = nc.optional
			st.LatencyMS = time.Since(start).Milliseconds()
			statuses[i] = st
		}(i, nc)
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy && !st.Optional {
			healthy = false
		}
	}
	return healthy, statuses
}

// Handler serves GET /health: 200 when every required check passes, 503
// otherwise. A failing optional check reports "degraded" with 200.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		healthy, statuses := r.CheckAll(c.Request.Context())

		status := "healthy"
		for _, st := range statuses {
			if !st.Healthy {
				status = "degraded"
			}
		}
		code := http.StatusOK
		if !healthy {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"version":   r.version,
			"checks":    statuses,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// SQL checks a database connection pool.
func SQL(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Detail: err.Error()}
		}
		st := db.Stats()
		return Status{Healthy: true, Detail: fmt.Sprintf("%d open, %d in use", st.OpenConnections, st.InUse)}
	}
}

// Redis checks a Redis client.
func Redis(client redis.UniversalClient) Checker {
	return func(ctx context.Context) Status {
		if err := client.Ping(ctx).Err(); err != nil {
			return Status{Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}

// Static reports a fixed condition, e.g. whether a secret is configured.
func Static(ok bool, detail string) Checker {
	return func(context.Context) Status {
		return Status{Healthy: ok, Detail: detail}
	}
}
