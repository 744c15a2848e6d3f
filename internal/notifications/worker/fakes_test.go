package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Smalik1203/ktscb-sub006/internal/types"
)

// memStore is an in-memory stand-in for the Postgres repositories. It keeps
// the same lease, cursor, and counter rules as the SQL.
type memStore struct {
	mu sync.Mutex

	now     time.Time
	seq     int
	jobs    map[string]*types.NotificationJob
	tokens  map[string][]string
	snaps   map[string][]types.Recipient
	logs    []types.DeliveryLogEntry
	deleted []string

	resolveErr   error
	appendErr    error
	deleteErr    error
	applyCalls   int
	mutations    int
	invariantErr error
}

func newMemStore(now time.Time) *memStore {
	return &memStore{
		now:    now,
		jobs:   make(map[string]*types.NotificationJob),
		tokens: make(map[string][]string),
		snaps:  make(map[string][]types.Recipient),
	}
}

func (s *memStore) addTokens(userID string, tokens ...string) {
	s.tokens[userID] = append(s.tokens[userID], tokens...)
}

func (s *memStore) addJob(userIDs []string, priority int) *types.NotificationJob {
	s.seq++
	job := &types.NotificationJob{
		ID:         fmt.Sprintf("job-%d", s.seq),
		Event:      "exam_reminder",
		Title:      "Exam Tomorrow",
		Body:       "Don't forget!",
		Targets:    types.JobTargets{UserIDs: userIDs},
		Status:     types.JobStatusPending,
		Priority:   priority,
		MaxRetries: types.DefaultJobMaxRetries,
		CreatedAt:  s.now.Add(time.Duration(s.seq) * time.Second),
	}
	s.jobs[job.ID] = job
	return job
}

func (s *memStore) job(id string) types.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) checkInvariant(j *types.NotificationJob) {
	if j.SuccessCount+j.FailedCount != j.ProcessedCount || j.ProcessedCount > j.TotalRecipients {
		s.invariantErr = fmt.Errorf("counter invariant broken for %s: %+v", j.ID, j.Progress())
	}
}

func (s *memStore) Create(_ context.Context, p types.NewJobParams) (*types.NotificationJob, error) {
	return nil, fmt.Errorf("not used")
}

func (s *memStore) Get(_ context.Context, id string) (*types.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob, "not found", nil)
	}
	c := *j
	return &c, nil
}

func (s *memStore) Claim(_ context.Context, jobID, holder string, leaseUntil time.Time) (*types.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var j *types.NotificationJob
	if jobID != "" {
		c, ok := s.jobs[jobID]
		if !ok || c.Status.IsTerminal() {
			return nil, nil
		}
		if c.LeaseHolder != "" && c.LeaseExpiresAt != nil && !c.LeaseExpiresAt.Before(s.now) {
			return nil, nil
		}
		j = c
	} else {
		var pending []*types.NotificationJob
		for _, c := range s.jobs {
			if c.Status == types.JobStatusPending {
				pending = append(pending, c)
			}
		}
		if len(pending) == 0 {
			return nil, nil
		}
		sort.Slice(pending, func(a, b int) bool {
			if pending[a].Priority != pending[b].Priority {
				return pending[a].Priority < pending[b].Priority
			}
			return pending[a].CreatedAt.Before(pending[b].CreatedAt)
		})
		j = pending[0]
	}

	s.mutations++
	j.Status = types.JobStatusProcessing
	if j.StartedAt == nil {
		t := s.now
		j.StartedAt = &t
	}
	j.LeaseHolder = holder
	until := leaseUntil
	j.LeaseExpiresAt = &until
	j.Version++

	if _, ok := s.snaps[j.ID]; !ok {
		var snap []types.Recipient
		for _, u := range j.Targets.UserIDs {
			for _, tok := range s.tokens[u] {
				snap = append(snap, types.Recipient{Seq: len(snap) + 1, UserID: u, Token: tok})
			}
		}
		s.snaps[j.ID] = snap
		j.TotalRecipients = len(snap)
	}

	c := *j
	return &c, nil
}

func (s *memStore) leased(jobID, holder string) (*types.NotificationJob, error) {
	j, ok := s.jobs[jobID]
	if !ok || j.LeaseHolder != holder || j.Status != types.JobStatusProcessing {
		return nil, types.NewAppError(types.ErrCodeConflictLeaseLost, "job lease is no longer held by this worker", nil)
	}
	return j, nil
}

func (s *memStore) ApplyProgress(_ context.Context, jobID, holder string, d types.ProgressDelta, leaseUntil time.Time) (types.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	j, err := s.leased(jobID, holder)
	if err != nil {
		return types.JobProgress{}, err
	}
	if !d.Valid() || j.ProcessedCount+d.Processed > j.TotalRecipients {
		return types.JobProgress{}, types.NewAppError(types.ErrCodeConflictLeaseLost, "job lease is no longer held by this worker", nil)
	}
	s.mutations++
	j.ProcessedCount += d.Processed
	j.SuccessCount += d.Success
	j.FailedCount += d.Failed
	j.BatchOffset += d.Processed
	until := leaseUntil
	j.LeaseExpiresAt = &until
	j.Version++
	s.checkInvariant(j)
	return j.Progress(), nil
}

func (s *memStore) finish(jobID, holder string, status types.JobStatus, reason string) (types.JobProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.leased(jobID, holder)
	if err != nil {
		return types.JobProgress{}, err
	}
	s.mutations++
	j.Status = status
	j.LastError = reason
	t := s.now
	j.CompletedAt = &t
	j.LeaseHolder = ""
	j.LeaseExpiresAt = nil
	j.Version++
	return j.Progress(), nil
}

func (s *memStore) Complete(_ context.Context, jobID, holder string) (types.JobProgress, error) {
	return s.finish(jobID, holder, types.JobStatusCompleted, "")
}

func (s *memStore) Fail(_ context.Context, jobID, holder, reason string) (types.JobProgress, error) {
	return s.finish(jobID, holder, types.JobStatusFailed, reason)
}

func (s *memStore) ReleaseLease(_ context.Context, jobID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.LeaseHolder == holder {
		j.LeaseHolder = ""
		j.LeaseExpiresAt = nil
	}
	return nil
}

// stealLease simulates another invocation taking over the job.
func (s *memStore) stealLease(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].LeaseHolder = "someone-else"
}

func (s *memStore) Resolve(_ context.Context, jobID string, batchSize int) ([]types.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	snap := s.snaps[jobID]
	offset := s.jobs[jobID].BatchOffset
	if offset >= len(snap) {
		return []types.Recipient{}, nil
	}
	end := min(offset+batchSize, len(snap))
	out := make([]types.Recipient, end-offset)
	copy(out, snap[offset:end])
	return out, nil
}

func (s *memStore) AppendBatch(_ context.Context, entries []types.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.logs = append(s.logs, entries...)
	return nil
}

func (s *memStore) DeleteToken(_ context.Context, userID, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	toks := s.tokens[userID]
	for i, t := range toks {
		if t == token {
			s.tokens[userID] = append(toks[:i], toks[i+1:]...)
			s.deleted = append(s.deleted, token)
			return true, nil
		}
	}
	return false, nil
}

// fakeGateway answers each Send through respond, defaulting to all ok.
type fakeGateway struct {
	mu      sync.Mutex
	calls   [][]types.PushMessage
	respond func(call int, msgs []types.PushMessage) ([]types.PushReceipt, error)

	// expiredSends counts sends made with an already expired context.
	expiredSends int
}

func (g *fakeGateway) Send(ctx context.Context, msgs []types.PushMessage) ([]types.PushReceipt, error) {
	g.mu.Lock()
	call := len(g.calls)
	g.calls = append(g.calls, msgs)
	if ctx.Err() != nil {
		g.expiredSends++
	}
	g.mu.Unlock()

	if g.respond != nil {
		return g.respond(call, msgs)
	}
	return allOK(len(msgs)), nil
}

func allOK(n int) []types.PushReceipt {
	out := make([]types.PushReceipt, n)
	for i := range out {
		out[i] = types.PushReceipt{Status: types.ReceiptStatusOK}
	}
	return out
}

type scheduled struct {
	JobID  string
	Reason types.ProcessReason
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (f *fakeScheduler) ScheduleProcess(_ context.Context, jobID string, reason types.ProcessReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{jobID, reason})
	return f.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
