package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Smalik1203/ktscb-sub006/internal/scheduler"
)

type fakeSweeper struct {
	runs []time.Time
	res  scheduler.ReclaimResult
	err  error
}

func (f *fakeSweeper) Run(_ context.Context, now time.Time) (scheduler.ReclaimResult, error) {
	f.runs = append(f.runs, now)
	return f.res, f.err
}

type fakeLock struct {
	held       bool
	acquireErr error
	released   int
}

func (f *fakeLock) Acquire(context.Context, string, string, time.Duration) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context, string, string) error {
	f.held = false
	f.released++
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

func newHandler(s Sweeper, l JobLocker) *Handler {
	h := &Handler{
		Reclaimer: s,
		WorkerID:  "w-1",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       func() time.Time { return fixedNow },
	}
	if l != nil {
		h.Lock = l
	}
	return h
}

func TestHandle_RunsSweepUnderLock(t *testing.T) {
	sweeper := &fakeSweeper{res: scheduler.ReclaimResult{RepublishedPending: 2}}
	lock := &fakeLock{}

	res, err := newHandler(sweeper, lock).Handle(context.Background(), scheduler.ReclaimPayload{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RepublishedPending)
	assert.Equal(t, []time.Time{fixedNow}, sweeper.runs)
	assert.Equal(t, 1, lock.released)
	assert.False(t, lock.held)
}

func TestHandle_SkipsWhenLockHeld(t *testing.T) {
	sweeper := &fakeSweeper{}
	lock := &fakeLock{held: true}

	res, err := newHandler(sweeper, lock).Handle(context.Background(), scheduler.ReclaimPayload{})
	require.NoError(t, err)
	assert.Equal(t, scheduler.ReclaimResult{}, res)
	assert.Empty(t, sweeper.runs)
	assert.Zero(t, lock.released)
}

func TestHandle_LockError(t *testing.T) {
	sweeper := &fakeSweeper{}
	lock := &fakeLock{acquireErr: errors.New("redis down")}

	_, err := newHandler(sweeper, lock).Handle(context.Background(), scheduler.ReclaimPayload{})
	require.Error(t, err)
	assert.Empty(t, sweeper.runs)
}

func TestHandle_WithoutLockUsesReferenceTime(t *testing.T) {
	sweeper := &fakeSweeper{}
	ref := time.Date(2026, 2, 6, 3, 0, 0, 0, time.UTC)

	_, err := newHandler(sweeper, nil).Handle(context.Background(), scheduler.ReclaimPayload{ReferenceTime: &ref})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{ref}, sweeper.runs)
}

func TestHandle_SweepErrorReleasesLock(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("list failed")}
	lock := &fakeLock{}

	_, err := newHandler(sweeper, lock).Handle(context.Background(), scheduler.ReclaimPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reclaim sweep")
	assert.Equal(t, 1, lock.released)
}
