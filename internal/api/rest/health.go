package rest

import (
	"context"
	"net/http"
	"time"
)

// readinessTimeout bounds one full readiness sweep.
const readinessTimeout = 5 * time.Second

// ReadinessCheck probes one dependency. Checks run sequentially under a
// shared timeout and report independently.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Liveness handles GET /healthz. It answers as long as the process serves
// HTTP; dependency state belongs to readiness.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, healthStatus{Status: "ok", Version: h.version})
}

// Readiness builds the GET /readyz handler over the given checks. A failing
// check degrades the endpoint to 503 so load balancers stop routing here,
// while the body names the broken dependency.
func (h *Handler) Readiness(checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		ready := true
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				ready = false
				results[c.Name] = err.Error()
				continue
			}
			results[c.Name] = "ok"
		}

		status := http.StatusOK
		payload := healthStatus{Status: "ready", Version: h.version, Checks: results}
		if !ready {
			status = http.StatusServiceUnavailable
			payload.Status = "degraded"
		}
		writeEnvelope(w, status, ResponseEnvelope{Success: ready, Data: payload, Meta: newMeta(r)})
	}
}
