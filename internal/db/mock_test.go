package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// valuesRow scans a fixed list of values into the destinations.
func valuesRow(values ...any) *mockRow {
	return &mockRow{scanFn: func(dest ...any) error {
		return assign(dest, values)
	}}
}

// --- Mock Rows ---

// mockRows implements pgx.Rows over a fixed set of value tuples.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data ...[]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return assign(dest, r.data[r.idx])
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		case **string:
			*d, _ = v.(*string)
		case **time.Time:
			*d, _ = v.(*time.Time)
		case *types.Payload:
			*d, _ = v.(types.Payload)
		case *types.JobTargets:
			*d = v.(types.JobTargets)
		default:
			return fmt.Errorf("scan: unsupported destination %T", dest[i])
		}
	}
	return nil
}

// --- Fake TxRunner ---

// fakeTxRunner runs fn directly against db and records the outcome.
type fakeTxRunner struct {
	db      DBTX
	calls   int
	lastErr error
}

func (f *fakeTxRunner) RunInTx(_ context.Context, fn func(tx DBTX) error) error {
	f.calls++
	f.lastErr = fn(f.db)
	return f.lastErr
}

// jobRowValues returns the scan tuple for jobColumns.
func jobRowValues(j types.NotificationJob) []any {
	var lastErr, holder *string
	if j.LastError != "" {
		lastErr = &j.LastError
	}
	if j.LeaseHolder != "" {
		holder = &j.LeaseHolder
	}
	return []any{
		j.ID, j.Event, j.Title, j.Body, j.Data, j.Targets, string(j.Status), j.Priority,
		j.TotalRecipients, j.ProcessedCount, j.SuccessCount, j.FailedCount, j.BatchOffset,
		j.RetryCount, j.MaxRetries, lastErr, j.Version, holder, j.LeaseExpiresAt,
		j.CreatedAt, j.StartedAt, j.CompletedAt, j.UpdatedAt,
	}
}

func progressRowValues(p types.JobProgress) []any {
	return []any{p.JobID, string(p.Status), p.TotalRecipients, p.ProcessedCount, p.SuccessCount, p.FailedCount, p.BatchOffset}
}
