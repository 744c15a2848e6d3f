package types

// JobStatus represents the lifecycle state of a NotificationJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further work will be done for the job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsActive reports whether the worker may claim a job in this status.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// DeliveryStatus is the outcome recorded for a single recipient.
type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// ReceiptStatus is the per-message status reported by the push gateway.
type ReceiptStatus string

const (
	ReceiptStatusOK    ReceiptStatus = "ok"
	ReceiptStatusError ReceiptStatus = "error"
)

// Receipt error codes reported by the push gateway in details.error.
const (
	ReceiptErrDeviceNotRegistered = "DeviceNotRegistered"
	ReceiptErrInvalidCredentials  = "InvalidCredentials"
	ReceiptErrMessageTooBig       = "MessageTooBig"
	ReceiptErrMessageRateExceeded = "MessageRateExceeded"
)

// IsTerminalTokenError reports whether a receipt error means the token is
// permanently unusable and should be pruned from the token store.
func IsTerminalTokenError(code string) bool {
	switch code {
	case ReceiptErrDeviceNotRegistered, ReceiptErrInvalidCredentials:
		return true
	default:
		return false
	}
}

// ProcessReason records why a process message was published.
type ProcessReason string

const (
	ProcessReasonEnqueue ProcessReason = "enqueue"
	ProcessReasonChain   ProcessReason = "chain"
	ProcessReasonReclaim ProcessReason = "reclaim"
)

// DefaultPushSound is the sound setting attached to every outbound message.
const DefaultPushSound = "default"
