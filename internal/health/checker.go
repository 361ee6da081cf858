// Package health provides dependency health checks and probe state for
// the opsdesk server.
//
// A Checker verifies one dependency (the identity provider, the state
// store). The Manager runs all checkers in parallel with a timeout and
// aggregates their results; the ProbeManager layers liveness, readiness,
// and startup semantics on top.
package health

import (
	"context"
	"time"
)

// Checker verifies a single dependency.
type Checker interface {
	// Name is the checker's unique name, lowercase with hyphens.
	Name() string

	// Check runs the health check. It must respect the context deadline
	// and return quickly.
	Check(ctx context.Context) *Result
}

// Status is the health of a checked component.
type Status string

const (
	// StatusHealthy means the component is fully operational.
	StatusHealthy Status = "healthy"

	// StatusDegraded means reduced functionality; the server keeps
	// serving.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy means the component is not working.
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

// Result is the outcome of one health check.
type Result struct {
	Status  Status                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
	Latency time.Duration          `json:"latency,omitempty"`
}

// NewResult creates a result with the given status and message.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a detail and returns the result for chaining.
func (r *Result) WithDetail(key string, value interface{}) *Result {
	r.Details[key] = value
	return r
}

// WithLatency sets the latency and returns the result for chaining.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

// Healthy creates a healthy result.
func Healthy(message string) *Result {
	return NewResult(StatusHealthy, message)
}

// Degraded creates a degraded result.
func Degraded(message string) *Result {
	return NewResult(StatusDegraded, message)
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string) *Result {
	return NewResult(StatusUnhealthy, message)
}
