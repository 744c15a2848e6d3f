package core

import (
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// missingReceiptReason is recorded when the gateway returns fewer receipts
// than messages.
const missingReceiptReason = "missing receipt"

// Tally accumulates the delivery outcomes of one sub-batch or batch. Entries
// keep recipient order.
type Tally struct {
	job *types.NotificationJob
	now time.Time

	Entries []types.DeliveryLogEntry
	Success int
	Failed  int

	// Stale lists recipients whose token the gateway reported as terminally
	// dead. They are candidates for pruning.
	Stale []types.Recipient
}

// NewTally starts an empty tally for job. now stamps every log entry.
func NewTally(job *types.NotificationJob, now time.Time) *Tally {
	return &Tally{job: job, now: now}
}

// Processed is the number of recipients recorded so far.
func (t *Tally) Processed() int { return t.Success + t.Failed }

// Delta converts the tally into a progress increment.
func (t *Tally) Delta() types.ProgressDelta {
	return types.ProgressDelta{Processed: t.Processed(), Success: t.Success, Failed: t.Failed}
}

// RecordReceipts matches receipts to recipients by index.
func (t *Tally) RecordReceipts(recipients []types.Recipient, receipts []types.PushReceipt) {
	for i, r := range recipients {
		if i >= len(receipts) {
			t.fail(r, missingReceiptReason)
			continue
		}
		receipt := receipts[i]
		if receipt.Status == types.ReceiptStatusOK {
			t.Success++
			t.Entries = append(t.Entries, t.entry(r, types.DeliveryStatusSent, ""))
			continue
		}
		t.fail(r, receipt.FailureReason())
		if types.IsTerminalTokenError(receipt.ErrorCode()) {
			t.Stale = append(t.Stale, r)
		}
	}
}

// FailAll records every recipient as failed with the same reason. Used when
// the whole gateway request failed.
func (t *Tally) FailAll(recipients []types.Recipient, reason string) {
	for _, r := range recipients {
		t.fail(r, reason)
	}
}

// Merge appends other after t.
func (t *Tally) Merge(other *Tally) {
	if other == nil {
		return
	}
	t.Entries = append(t.Entries, other.Entries...)
	t.Success += other.Success
	t.Failed += other.Failed
	t.Stale = append(t.Stale, other.Stale...)
}

func (t *Tally) fail(r types.Recipient, reason string) {
	t.Failed++
	t.Entries = append(t.Entries, t.entry(r, types.DeliveryStatusFailed, reason))
}

func (t *Tally) entry(r types.Recipient, status types.DeliveryStatus, reason string) types.DeliveryLogEntry {
	return types.DeliveryLogEntry{
		JobID:     t.job.ID,
		Event:     t.job.Event,
		UserID:    r.UserID,
		Token:     r.Token,
		Title:     t.job.Title,
		Body:      t.job.Body,
		Data:      t.job.Data,
		Status:    status,
		Error:     reason,
		CreatedAt: t.now,
	}
}

// BuildMessages renders one gateway message per recipient.
func BuildMessages(job *types.NotificationJob, recipients []types.Recipient) []types.PushMessage {
	out := make([]types.PushMessage, len(recipients))
	for i, r := range recipients {
		out[i] = types.PushMessage{
			To:    r.Token,
			Sound: types.DefaultPushSound,
			Title: job.Title,
			Body:  job.Body,
			Data:  job.Data,
		}
	}
	return out
}

// SplitBatches cuts recipients into consecutive chunks of at most size.
func SplitBatches(recipients []types.Recipient, size int) [][]types.Recipient {
	if size <= 0 || len(recipients) == 0 {
		if len(recipients) == 0 {
			return nil
		}
		return [][]types.Recipient{recipients}
	}
	out := make([][]types.Recipient, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := min(start+size, len(recipients))
		out = append(out, recipients[start:end])
	}
	return out
}
