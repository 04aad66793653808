package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/config"
	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

type fakeStore struct {
	due []*action.Entry
	// unclaimable entries are silently skipped by Claim, as when another
	// worker got there first.
	unclaimable map[int64]bool

	claimCalls  [][]int64
	completed   []int64
	failed      []int64
	failReasons map[int64]string
	retried     []int64

	resetCutoff time.Time
	resetCount  int64
}

func newFakeStore(due ...*action.Entry) *fakeStore {
	return &fakeStore{
		due:         due,
		unclaimable: make(map[int64]bool),
		failReasons: make(map[int64]string),
	}
}

func (s *fakeStore) DueEntries(_ context.Context, _ time.Time, limit int) ([]*action.Entry, error) {
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeStore) Claim(_ context.Context, ids []int64, _ string) ([]int64, error) {
	s.claimCalls = append(s.claimCalls, ids)
	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !s.unclaimable[id] {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, id int64) error {
	s.completed = append(s.completed, id)
	s.removeDue(id)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, reason string) error {
	s.failed = append(s.failed, id)
	s.failReasons[id] = reason
	s.removeDue(id)
	return nil
}

// removeDue drops a terminal entry, as the repository deletes archived rows
// from the active table.
func (s *fakeStore) removeDue(id int64) {
	for i, e := range s.due {
		if e.ID == id {
			s.due = append(s.due[:i], s.due[i+1:]...)
			return
		}
	}
}

func (s *fakeStore) Retry(_ context.Context, id int64) error {
	s.retried = append(s.retried, id)
	return nil
}

func (s *fakeStore) ResetStuck(_ context.Context, claimedBefore time.Time) (int64, error) {
	s.resetCutoff = claimedBefore
	return s.resetCount, nil
}

type scriptedHandler struct {
	actionType action.Type
	errs       map[int64]error
	panics     map[int64]bool
	handled    []int64
}

func (h *scriptedHandler) Type() action.Type { return h.actionType }

func (h *scriptedHandler) Handle(_ context.Context, e *action.Entry) error {
	h.handled = append(h.handled, e.ID)
	if h.panics[e.ID] {
		panic("scripted panic")
	}
	return h.errs[e.ID]
}

func dueEntry(id int64, t action.Type, attempts int) *action.Entry {
	return &action.Entry{
		ID:          id,
		CommanderID: 1,
		Type:        t,
		Status:      action.StatusInProgress,
		Attempts:    attempts,
		Details:     []byte(`{}`),
	}
}

func queueConfig() config.QueueConfig {
	return config.QueueConfig{
		ProcessInterval: time.Minute,
		SweepInterval:   5 * time.Minute,
		BatchSize:       50,
		FetchLimit:      500,
		RetryBudget:     3,
		StuckTimeout:    5 * time.Minute,
	}
}

func newTestProcessor(t *testing.T, store *fakeStore, handlers ...Handler) *Processor {
	t.Helper()
	registry := NewRegistry()
	for _, h := range handlers {
		require.NoError(t, registry.Register(h))
	}
	return NewProcessor(store, registry, zap.NewNop(), queueConfig())
}

func TestProcessDueCompletesSuccessfulEntries(t *testing.T) {
	store := newFakeStore(
		dueEntry(1, action.TypeResearch, 0),
		dueEntry(2, action.TypeResearch, 0),
	)
	h := &scriptedHandler{actionType: action.TypeResearch}
	p := newTestProcessor(t, store, h)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, h.handled)
	assert.Equal(t, []int64{1, 2}, store.completed)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.retried)
}

func TestProcessDueSkipsEntriesClaimedElsewhere(t *testing.T) {
	store := newFakeStore(
		dueEntry(1, action.TypeResearch, 0),
		dueEntry(2, action.TypeResearch, 0),
		dueEntry(3, action.TypeResearch, 0),
	)
	store.unclaimable[2] = true
	h := &scriptedHandler{actionType: action.TypeResearch}
	p := newTestProcessor(t, store, h)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, h.handled)
	assert.NotContains(t, store.completed, int64(2))
}

func TestProcessDueRetriesTransientFailures(t *testing.T) {
	store := newFakeStore(dueEntry(1, action.TypeResearch, 0))
	h := &scriptedHandler{
		actionType: action.TypeResearch,
		errs:       map[int64]error{1: errors.New("connection refused")},
	}
	p := newTestProcessor(t, store, h)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.retried)
	assert.Empty(t, store.failed)
	assert.Empty(t, store.completed)
}

func TestProcessDueFailsWhenRetryBudgetExhausted(t *testing.T) {
	// Attempts is already at budget-1, so one more transient failure must
	// terminally fail the entry instead of retrying again.
	store := newFakeStore(dueEntry(1, action.TypeResearch, 2))
	h := &scriptedHandler{
		actionType: action.TypeResearch,
		errs:       map[int64]error{1: errors.New("connection refused")},
	}
	p := newTestProcessor(t, store, h)

	_, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, store.failed)
	assert.Empty(t, store.retried)
	assert.Contains(t, store.failReasons[1], "retry budget exhausted")
}

func TestProcessDueFailsPermanentErrorsWithoutRetry(t *testing.T) {
	store := newFakeStore(dueEntry(1, action.TypeResearch, 0))
	h := &scriptedHandler{
		actionType: action.TypeResearch,
		errs:       map[int64]error{1: Permanent(errors.New("target gone"))},
	}
	p := newTestProcessor(t, store, h)

	_, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, store.failed)
	assert.Empty(t, store.retried)
	assert.Equal(t, "target gone", store.failReasons[1])
}

func TestProcessDueRecoversFromHandlerPanics(t *testing.T) {
	store := newFakeStore(
		dueEntry(1, action.TypeResearch, 0),
		dueEntry(2, action.TypeResearch, 0),
	)
	h := &scriptedHandler{
		actionType: action.TypeResearch,
		panics:     map[int64]bool{1: true},
	}
	p := newTestProcessor(t, store, h)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	// The panicking entry is retried like any transient failure; the next
	// entry still runs.
	assert.Equal(t, []int64{1}, store.retried)
	assert.Equal(t, []int64{2}, store.completed)
}

func TestProcessDueFailsEntriesWithoutHandler(t *testing.T) {
	store := newFakeStore(dueEntry(1, action.TypeCombat, 0))
	h := &scriptedHandler{actionType: action.TypeResearch}
	p := newTestProcessor(t, store, h)

	_, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, store.failed)
	assert.Contains(t, store.failReasons[1], "no handler")
}

func TestProcessDueClaimsInBatches(t *testing.T) {
	var due []*action.Entry
	for i := int64(1); i <= 120; i++ {
		due = append(due, dueEntry(i, action.TypeResearch, 0))
	}
	store := newFakeStore(due...)
	h := &scriptedHandler{actionType: action.TypeResearch}

	cfg := queueConfig()
	cfg.BatchSize = 50
	registry := NewRegistry()
	require.NoError(t, registry.Register(h))
	p := NewProcessor(store, registry, zap.NewNop(), cfg)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 120, n)
	require.Len(t, store.claimCalls, 3)
	assert.Len(t, store.claimCalls[0], 50)
	assert.Len(t, store.claimCalls[1], 50)
	assert.Len(t, store.claimCalls[2], 20)
}

func TestProcessDueHonorsFetchLimit(t *testing.T) {
	var due []*action.Entry
	for i := int64(1); i <= 30; i++ {
		due = append(due, dueEntry(i, action.TypeResearch, 0))
	}
	store := newFakeStore(due...)
	h := &scriptedHandler{actionType: action.TypeResearch}

	cfg := queueConfig()
	cfg.FetchLimit = 10
	cfg.BatchSize = 10
	registry := NewRegistry()
	require.NoError(t, registry.Register(h))
	p := NewProcessor(store, registry, zap.NewNop(), cfg)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestProcessDueNoDueEntries(t *testing.T) {
	store := newFakeStore()
	p := newTestProcessor(t, store, &scriptedHandler{actionType: action.TypeResearch})

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.claimCalls)
}

func TestProcessDueSecondRunHasNoFurtherEffect(t *testing.T) {
	store := newFakeStore(
		dueEntry(1, action.TypeResearch, 0),
		dueEntry(2, action.TypeResearch, 0),
	)
	h := &scriptedHandler{actionType: action.TypeResearch}
	p := newTestProcessor(t, store, h)

	n, err := p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Completed entries left the active table, so a second run finds
	// nothing and touches nothing.
	n, err = p.ProcessDue(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int64{1, 2}, h.handled)
	assert.Equal(t, []int64{1, 2}, store.completed)
	assert.Len(t, store.claimCalls, 1)
}

func TestSweepUsesClaimTimeoutCutoff(t *testing.T) {
	store := newFakeStore()
	store.resetCount = 4
	s := NewSweeper(store, zap.NewNop(), 5*time.Minute)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n, err := s.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, now.Add(-5*time.Minute), store.resetCutoff)
}

func TestRegistryRejectsDuplicateAndUnknownTypes(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&scriptedHandler{actionType: action.TypeMining}))

	err := registry.Register(&scriptedHandler{actionType: action.TypeMining})
	assert.ErrorContains(t, err, "already registered")

	err = registry.Register(&scriptedHandler{actionType: action.Type("teleport")})
	assert.ErrorContains(t, err, "unknown action type")

	_, ok := registry.Get(action.TypeCombat)
	assert.False(t, ok)
	h, ok := registry.Get(action.TypeMining)
	assert.True(t, ok)
	assert.Equal(t, action.TypeMining, h.Type())
}

func TestPermanentErrorUnwraps(t *testing.T) {
	base := errors.New("gone")
	err := fmt.Errorf("resolving: %w", Permanent(base))
	assert.True(t, isPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, isPermanent(base))
}
