package types

// IdempotencyStatus is the lifecycle state of an Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is what the idempotency store keeps per key. The
// response fields are set once the first request completes.
type IdempotencyRecord struct {
	Status       IdempotencyStatus `json:"status"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody []byte            `json:"response_body,omitempty"`
}
