// Package scheduler holds the periodic maintenance services of the push
// pipeline. They run from EventBridge-scheduled Lambdas.
package scheduler

import "time"

// ReclaimPayload is the EventBridge input of cmd/reclaimer:
//
//	{"reference_time": "2026-02-06T03:00:00Z"}
//
// ReferenceTime overrides "now" for manual runs. Nil means the current time.
type ReclaimPayload struct {
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Now resolves the reference time of a run.
func (p ReclaimPayload) Now(fallback time.Time) time.Time {
	if p.ReferenceTime != nil {
		return p.ReferenceTime.UTC()
	}
	return fallback
}
