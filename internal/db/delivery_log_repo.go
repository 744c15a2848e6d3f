package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// deliveryLogColumns is the number of bound parameters per log row.
const deliveryLogColumns = 10

// deliveryLogChunk keeps one INSERT well under the 65535 parameter limit.
const deliveryLogChunk = 500

// DeliveryLogRepository appends rows to notification_delivery_logs. Rows are
// never updated or deleted by the pipeline.
type DeliveryLogRepository struct {
	db DBTX
}

// NewDeliveryLogRepository creates a DeliveryLogRepository.
func NewDeliveryLogRepository(db DBTX) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// AppendBatch inserts entries in slice order using multi-row INSERTs. The
// bigserial id preserves that order for readers.
func (r *DeliveryLogRepository) AppendBatch(ctx context.Context, entries []types.DeliveryLogEntry) error {
	for start := 0; start < len(entries); start += deliveryLogChunk {
		end := min(start+deliveryLogChunk, len(entries))
		if err := r.insertChunk(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *DeliveryLogRepository) insertChunk(ctx context.Context, entries []types.DeliveryLogEntry) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO notification_delivery_logs
		(job_id, event, user_id, token, title, body, data, status, error, created_at) VALUES `)

	args := make([]any, 0, len(entries)*deliveryLogColumns)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * deliveryLogColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, COALESCE($%d, NOW()))",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)

		var createdAt any
		if !e.CreatedAt.IsZero() {
			createdAt = e.CreatedAt
		}
		args = append(args,
			e.JobID,
			e.Event,
			e.UserID,
			e.Token,
			e.Title,
			e.Body,
			e.Data,
			string(e.Status),
			nilIfEmpty(e.Error),
			createdAt,
		)
	}

	if _, err := r.db.Exec(ctx, sb.String(), args...); err != nil {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "failed to append delivery log", err,
			map[string]any{"entries": len(entries)})
	}
	return nil
}

// CountByStatus returns sent/failed totals for a job.
func (r *DeliveryLogRepository) CountByStatus(ctx context.Context, jobID string) (map[types.DeliveryStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM notification_delivery_logs WHERE job_id = $1 GROUP BY status`,
		jobID,
	)
	if err != nil {
		return nil, mapDBError(err, types.ErrCodeNotFoundJob, "failed to count delivery log")
	}
	defer rows.Close()

	out := make(map[types.DeliveryStatus]int, 2)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan delivery log count", err)
		}
		out[types.DeliveryStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating delivery log counts", err)
	}
	return out, nil
}
