package db

import (
	"context"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// PushTokenRepository gives the worker delete rights on push_tokens.
// Registration belongs to the mobile client.
type PushTokenRepository struct {
	db DBTX
}

// NewPushTokenRepository creates a PushTokenRepository.
func NewPushTokenRepository(db DBTX) *PushTokenRepository {
	return &PushTokenRepository{db: db}
}

// DeleteToken removes a stale token. deleted is false when the token was
// already gone.
func (r *PushTokenRepository) DeleteToken(ctx context.Context, userID, token string) (deleted bool, err error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM push_tokens WHERE user_id = $1 AND token = $2`,
		userID, token,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to delete push token", err)
	}
	return tag.RowsAffected() > 0, nil
}
