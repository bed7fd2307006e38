// Package health exposes a readiness endpoint aggregating the gateway's
// external dependencies.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Check is one named dependency probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Checker runs its probes on demand.
type Checker struct {
	timeout time.Duration
	checks  []Check
}

// NewChecker creates a checker with a per-probe timeout.
func NewChecker(timeout time.Duration, checks ...Check) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout, checks: checks}
}

// Handler serves the aggregated health status as JSON. The response is 200
// when every probe passes and 503 otherwise.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(c.checks))
		for _, chk := range c.checks {
			if err := chk.Fn(ctx); err != nil {
				results[chk.Name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[chk.Name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": overall,
			"checks": results,
		})
	}
}
