package types

// ProcessMessage is the SQS envelope that triggers one worker invocation.
// An empty JobID asks the worker to pick the oldest pending job.
type ProcessMessage struct {
	JobID  string        `json:"job_id,omitempty"`
	Reason ProcessReason `json:"reason"`

	// Observability
	TraceID string `json:"trace_id,omitempty"`
}
