// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	json "github.com/goccy/go-json"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Check pings one dependency.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
	// Optional checks are reported but never make the service unready.
	Optional bool
}

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// ConsumerCheck adapts a Kafka consumer's partition assignment into a Check.
func ConsumerCheck(name string, rr ReadinessReporter) Check {
	return Check{Name: name, Optional: true, Ping: func(context.Context) error {
		if ok, _ := rr.Readiness(); !ok {
			return errNoPartitions
		}
		return nil
	}}
}

type readinessError string

func (e readinessError) Error() string { return string(e) }

const errNoPartitions = readinessError("no partitions assigned")

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Readiness runs every check with timeout and answers 503 if a required one
// fails.
func Readiness(timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		ready := true
		results := make(map[string]checkResult, len(checks))
		for _, c := range sorted(checks) {
			if err := c.Ping(ctx); err != nil {
				results[c.Name] = checkResult{Status: "down", Error: err.Error()}
				if !c.Optional {
					ready = false
				}
				continue
			}
			results[c.Name] = checkResult{Status: "up"}
		}

		out := struct {
			Status string                 `json:"status"`
			Checks map[string]checkResult `json:"checks"`
		}{Status: "ready", Checks: results}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			out.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

func sorted(checks []Check) []Check {
	cp := append([]Check(nil), checks...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Name < cp[j].Name })
	return cp
}
