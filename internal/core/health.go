package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds the whole probe run. A probe still running at the
// deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one critical dependency.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type pingProbe struct {
	name string
	ping func(ctx context.Context) error
}

func (p pingProbe) Name() string                    { return p.name }
func (p pingProbe) Check(ctx context.Context) error { return p.ping(ctx) }

// NewPingProbe adapts a Ping method, such as pgxpool.Pool.Ping, into a probe.
func NewPingProbe(name string, ping func(ctx context.Context) error) HealthProbe {
	return pingProbe{name: name, ping: ping}
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently and answers 200 when all pass,
// 503 otherwise. It is mounted publicly at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	type probeResult struct {
		index int
		err   error
	}
	// Buffered so late probes never block after the handler returns.
	resultCh := make(chan probeResult, len(probes))

	var g errgroup.Group
	for i, probe := range probes {
		g.Go(func() error {
			resultCh <- probeResult{index: i, err: runProbe(ctx, probe)}
			return nil
		})
	}

	results := make(map[int]error, len(probes))
collect:
	for len(results) < len(probes) {
		select {
		case res := <-resultCh:
			results[res.index] = res.err
		case <-ctx.Done():
			break collect
		}
	}

	components := make(map[string]componentStatus, len(probes))
	allHealthy := true
	for i, probe := range probes {
		err, ok := results[i]
		switch {
		case !ok:
			allHealthy = false
			components[probe.Name()] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			allHealthy = false
			components[probe.Name()] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			components[probe.Name()] = componentStatus{Status: "healthy"}
		}
	}

	resp := healthResponse{Status: "healthy", Components: components}
	status := http.StatusOK
	if !allHealthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}

func runProbe(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
