package db

import (
	"context"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// RecipientRepository is the token resolver. It reads the job's recipient
// snapshot past the job's own batch_offset, so the cursor advances only when
// the progress store applies a delta and repeated calls before that return
// the same slice.
type RecipientRepository struct {
	db DBTX
}

// NewRecipientRepository creates a RecipientRepository.
func NewRecipientRepository(db DBTX) *RecipientRepository {
	return &RecipientRepository{db: db}
}

// Resolve returns up to batchSize recipients after the job's cursor, in seq
// order. An empty slice means the snapshot is exhausted.
func (r *RecipientRepository) Resolve(ctx context.Context, jobID string, batchSize int) ([]types.Recipient, error) {
	if batchSize <= 0 {
		return nil, types.NewAppError(types.ErrCodeInternalResolver, "resolver batch size must be positive", nil)
	}

	rows, err := r.db.Query(ctx,
		`SELECT r.seq, r.user_id, r.token
		 FROM notification_job_recipients r
		 JOIN notification_jobs j ON j.id = r.job_id
		 WHERE r.job_id = $1 AND r.seq > j.batch_offset
		 ORDER BY r.seq
		 LIMIT $2`,
		jobID, batchSize,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalResolver, "failed to resolve recipients", err)
	}
	defer rows.Close()

	out := make([]types.Recipient, 0, batchSize)
	for rows.Next() {
		var rec types.Recipient
		if err := rows.Scan(&rec.Seq, &rec.UserID, &rec.Token); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalResolver, "failed to scan recipient row", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalResolver, "error iterating recipient rows", err)
	}
	return out, nil
}
