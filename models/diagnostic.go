package models

import (
	"fmt"
	"time"
)

// DiagnosticKind classifies a non-fatal condition observed during a run.
type DiagnosticKind string

const (
	// DiagRateLimited means an origin was abandoned after exhausting its
	// rate-limit budget.
	DiagRateLimited DiagnosticKind = "rate_limited"
	// DiagOriginUnavailable covers unknown, private or banned origins.
	DiagOriginUnavailable DiagnosticKind = "origin_unavailable"
	// DiagTransport is any other transport failure that ended an origin early.
	DiagTransport DiagnosticKind = "transport"
	// DiagTailGap means the earliest record is later than the requested start.
	DiagTailGap DiagnosticKind = "tail_gap"
	// DiagClipped means the result hit the configured cap exactly.
	DiagClipped DiagnosticKind = "clipped"
	// DiagNoOrigins means nothing was configured to fetch.
	DiagNoOrigins DiagnosticKind = "no_origins"
	// DiagNoData means no records were fetched across all sources.
	DiagNoData DiagnosticKind = "no_data"
)

// Diagnostic is a typed, observable warning attached to a fetch or a run.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind"`
	Source string         `json:"source,omitempty"`
	Origin string         `json:"origin,omitempty"`
	Detail string         `json:"detail"`
	Wait   time.Duration  `json:"wait,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Origin == "" {
		return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
	}
	return fmt.Sprintf("%s [%s/%s]: %s", d.Kind, d.Source, d.Origin, d.Detail)
}

// Fatal reports whether the diagnostic ended the origin's fetch early.
func (d Diagnostic) Fatal() bool {
	switch d.Kind {
	case DiagRateLimited, DiagOriginUnavailable, DiagTransport:
		return true
	default:
		return false
	}
}
