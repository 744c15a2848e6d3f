package types

import "time"

// Job limits applied at enqueue time.
const (
	DefaultJobPriority   = 5
	MaxJobPriority       = 100
	DefaultJobMaxRetries = 3
)

// JobTargets describes the audience of a job. At least one of UserIDs or
// SchoolCode must be present. When both are present UserIDs wins.
type JobTargets struct {
	UserIDs    []string `json:"user_ids,omitempty"`
	SchoolCode string   `json:"school_code,omitempty"`
}

// IsEmpty reports whether the targets name no audience at all.
func (t JobTargets) IsEmpty() bool {
	return len(t.UserIDs) == 0 && t.SchoolCode == ""
}

// NotificationJob is one delivery campaign.
//
// Counter invariant: SuccessCount + FailedCount == ProcessedCount <= TotalRecipients.
// The database enforces the same invariant with CHECK constraints.
type NotificationJob struct {
	ID    string  `json:"id"`
	Event string  `json:"event"`
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Data  Payload `json:"data,omitempty"`

	Targets JobTargets `json:"targets"`

	Status   JobStatus `json:"status"`
	Priority int       `json:"priority"`

	TotalRecipients int `json:"total_recipients"`
	ProcessedCount  int `json:"processed_count"`
	SuccessCount    int `json:"success_count"`
	FailedCount     int `json:"failed_count"`
	BatchOffset     int `json:"batch_offset"`

	// RetryCount and MaxRetries are only touched by the reclaimer.
	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	LastError string `json:"last_error,omitempty"`

	// Claim state.
	Version        int64      `json:"-"`
	LeaseHolder    string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasMore reports whether the cursor has not yet reached the snapshot size.
// Informational only; completion is decided by an empty resolver batch.
func (j *NotificationJob) HasMore() bool {
	return j.BatchOffset < j.TotalRecipients
}

// Progress returns the counter view of the job.
func (j *NotificationJob) Progress() JobProgress {
	return JobProgress{
		JobID:           j.ID,
		Status:          j.Status,
		TotalRecipients: j.TotalRecipients,
		ProcessedCount:  j.ProcessedCount,
		SuccessCount:    j.SuccessCount,
		FailedCount:     j.FailedCount,
		BatchOffset:     j.BatchOffset,
	}
}

// NewJobParams carries the validated fields needed to create a job row.
type NewJobParams struct {
	Event      string
	Title      string
	Body       string
	Data       Payload
	Targets    JobTargets
	Priority   int
	MaxRetries int
}

// JobProgress is the counter and status snapshot returned by the atomic
// progress operation.
type JobProgress struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	TotalRecipients int       `json:"total_recipients"`
	ProcessedCount  int       `json:"processed_count"`
	SuccessCount    int       `json:"success_count"`
	FailedCount     int       `json:"failed_count"`
	BatchOffset     int       `json:"batch_offset"`
}

// HasMore mirrors NotificationJob.HasMore.
func (p JobProgress) HasMore() bool {
	return p.BatchOffset < p.TotalRecipients
}

// ProgressDelta is the counter increment produced by one batch.
type ProgressDelta struct {
	Processed int
	Success   int
	Failed    int
}

// Valid reports whether the delta keeps success + failed == processed.
func (d ProgressDelta) Valid() bool {
	return d.Processed >= 0 && d.Success >= 0 && d.Failed >= 0 &&
		d.Success+d.Failed == d.Processed
}

// Recipient is one resolved (user, token) pair from a job's snapshot.
type Recipient struct {
	Seq    int    `json:"seq"`
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// PushToken is a device token registered by the mobile client.
type PushToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryLogEntry records one recipient outcome. Entries are append-only.
type DeliveryLogEntry struct {
	JobID     string         `json:"job_id"`
	Event     string         `json:"event"`
	UserID    string         `json:"user_id"`
	Token     string         `json:"token"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Data      Payload        `json:"data,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// PushMessage is one element of a gateway request.
type PushMessage struct {
	To    string  `json:"to"`
	Sound string  `json:"sound"`
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Data  Payload `json:"data,omitempty"`
}

// PushReceipt is one element of a gateway response, aligned by index with
// the request.
type PushReceipt struct {
	Status  ReceiptStatus   `json:"status"`
	ID      string          `json:"id,omitempty"`
	Message string          `json:"message,omitempty"`
	Details *ReceiptDetails `json:"details,omitempty"`
}

// ReceiptDetails carries the machine-readable error code for a failed receipt.
type ReceiptDetails struct {
	Error string `json:"error,omitempty"`
}

// ErrorCode returns details.error, or "" when absent.
func (r PushReceipt) ErrorCode() string {
	if r.Details == nil {
		return ""
	}
	return r.Details.Error
}

// FailureReason returns the best human-readable reason for a failed receipt.
func (r PushReceipt) FailureReason() string {
	if code := r.ErrorCode(); code != "" {
		return code
	}
	if r.Message != "" {
		return r.Message
	}
	return "unknown gateway error"
}

// ReclaimCandidate is a job that looks abandoned to the reclaimer.
type ReclaimCandidate struct {
	ID         string
	Status     JobStatus
	Version    int64
	Leased     bool
	RetryCount int
	MaxRetries int
}
