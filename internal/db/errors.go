package db

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// mapDBError converts a driver error into an AppError. notFound is the code
// used for missing rows; msg describes the failed operation.
func mapDBError(err error, notFound types.ErrorCode, msg string) error {
	if err == nil {
		return nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(notFound, msg+": not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.InvalidTextRepresentation:
			// Malformed UUID in a lookup means the row cannot exist.
			return types.NewAppError(notFound, msg+": not found", err)
		case pgerrcode.CheckViolation:
			return types.NewAppErrorWithDetails(types.ErrCodeConflictConcurrent, msg+": constraint rejected update", err,
				map[string]any{"constraint": pgErr.ConstraintName})
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return types.NewAppError(types.ErrCodeConflictConcurrent, msg+": concurrent update", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.NewAppError(types.ErrCodeInternalDB, msg+": "+err.Error(), err)
	}

	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
