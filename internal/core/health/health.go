// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check probes one dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Readiness is ready when every check passes and, when rr is set, the
// invalidation consumer holds a partition assignment.
func Readiness(checks []Check, rr ReadinessReporter, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string            `json:"status"`
			Checks     map[string]string `json:"checks,omitempty"`
			Partitions []int32           `json:"partitions,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ready := true
		out := resp{Checks: make(map[string]string, len(checks)+1)}
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				ready = false
				out.Checks[c.Name] = err.Error()
				continue
			}
			out.Checks[c.Name] = "ok"
		}
		if rr != nil {
			ok, parts := rr.Readiness()
			if ok {
				sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
				out.Partitions = parts
				out.Checks["invalidation"] = "ok"
			} else {
				ready = false
				out.Checks["invalidation"] = "no partitions assigned"
			}
		}

		out.Status = "not_ready"
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
