package core

import (
	"testing"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

func testJob() *types.NotificationJob {
	return &types.NotificationJob{
		ID:    "job-1",
		Event: "exam_reminder",
		Title: "Exam Tomorrow",
		Body:  "Don't forget!",
		Data:  types.Payload{"exam_id": "e1"},
	}
}

func recipients(n int) []types.Recipient {
	out := make([]types.Recipient, n)
	for i := range out {
		out[i] = types.Recipient{Seq: i + 1, UserID: "u" + string(rune('1'+i)), Token: "tok" + string(rune('1'+i))}
	}
	return out
}

func TestTally_RecordReceipts(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	tally := NewTally(testJob(), now)

	tally.RecordReceipts(recipients(4), []types.PushReceipt{
		{Status: types.ReceiptStatusOK},
		{Status: types.ReceiptStatusError, Details: &types.ReceiptDetails{Error: types.ReceiptErrDeviceNotRegistered}},
		{Status: types.ReceiptStatusError, Details: &types.ReceiptDetails{Error: types.ReceiptErrMessageTooBig}},
	})

	if tally.Success != 1 || tally.Failed != 3 {
		t.Fatalf("expected 1 success / 3 failed, got %d / %d", tally.Success, tally.Failed)
	}
	if len(tally.Entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(tally.Entries))
	}

	wantErrors := []string{"", types.ReceiptErrDeviceNotRegistered, types.ReceiptErrMessageTooBig, missingReceiptReason}
	for i, e := range tally.Entries {
		if e.Error != wantErrors[i] {
			t.Errorf("entry %d: error %q, want %q", i, e.Error, wantErrors[i])
		}
		if e.UserID != recipients(4)[i].UserID {
			t.Errorf("entry %d out of order: %s", i, e.UserID)
		}
		if e.JobID != "job-1" || e.Event != "exam_reminder" || !e.CreatedAt.Equal(now) {
			t.Errorf("entry %d missing job fields: %+v", i, e)
		}
	}
	if tally.Entries[0].Status != types.DeliveryStatusSent {
		t.Errorf("first entry should be sent, got %s", tally.Entries[0].Status)
	}

	if len(tally.Stale) != 1 || tally.Stale[0].Token != "tok2" {
		t.Errorf("only the DeviceNotRegistered token should be stale, got %+v", tally.Stale)
	}

	d := tally.Delta()
	if !d.Valid() || d.Processed != 4 {
		t.Errorf("unexpected delta %+v", d)
	}
}

func TestTally_FailAllAndMerge(t *testing.T) {
	job := testJob()
	first := NewTally(job, time.Now())
	first.RecordReceipts(recipients(2), []types.PushReceipt{{Status: types.ReceiptStatusOK}, {Status: types.ReceiptStatusOK}})

	second := NewTally(job, time.Now())
	second.FailAll(recipients(3), "gateway returned HTTP 503")

	first.Merge(second)
	first.Merge(nil)

	if first.Success != 2 || first.Failed != 3 || first.Processed() != 5 {
		t.Fatalf("unexpected totals %d/%d", first.Success, first.Failed)
	}
	if first.Entries[2].Error != "gateway returned HTTP 503" {
		t.Errorf("merged entries should follow the first tally, got %+v", first.Entries[2])
	}
	if len(first.Stale) != 0 {
		t.Errorf("whole-request failures never mark tokens stale")
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := BuildMessages(testJob(), recipients(2))
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.To != recipients(2)[i].Token {
			t.Errorf("message %d addressed to %q", i, m.To)
		}
		if m.Sound != types.DefaultPushSound || m.Title != "Exam Tomorrow" || m.Body != "Don't forget!" {
			t.Errorf("message %d has wrong content: %+v", i, m)
		}
		if m.Data["exam_id"] != "e1" {
			t.Errorf("message %d lost data", i)
		}
	}
}

func TestSplitBatches(t *testing.T) {
	tests := []struct {
		name  string
		n     int
		size  int
		sizes []int
	}{
		{"empty", 0, 100, nil},
		{"exact", 200, 100, []int{100, 100}},
		{"remainder", 250, 100, []int{100, 100, 50}},
		{"smaller than limit", 3, 100, []int{3}},
		{"non-positive size", 5, 0, []int{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := make([]types.Recipient, tt.n)
			for i := range rs {
				rs[i].Seq = i + 1
			}
			got := SplitBatches(rs, tt.size)
			if len(got) != len(tt.sizes) {
				t.Fatalf("expected %d chunks, got %d", len(tt.sizes), len(got))
			}
			next := 1
			for i, chunk := range got {
				if len(chunk) != tt.sizes[i] {
					t.Errorf("chunk %d: size %d, want %d", i, len(chunk), tt.sizes[i])
				}
				for _, r := range chunk {
					if r.Seq != next {
						t.Fatalf("chunks reordered recipients: got seq %d want %d", r.Seq, next)
					}
					next++
				}
			}
		})
	}
}
