package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

type fakeRepository struct {
	nextID    int64
	entries   map[int64]*action.Entry
	cancelled []int64
	archive   []*action.Archived
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{entries: make(map[int64]*action.Entry)}
}

func (r *fakeRepository) Enqueue(_ context.Context, commanderID int64, t action.Type, targetID int64, duration time.Duration, details json.RawMessage) (int64, error) {
	if err := action.ValidateDetails(t, details); err != nil {
		return 0, err
	}
	r.nextID++
	now := time.Now()
	r.entries[r.nextID] = &action.Entry{
		ID:          r.nextID,
		CommanderID: commanderID,
		Type:        t,
		TargetID:    targetID,
		StartTime:   now,
		EndTime:     now.Add(duration),
		Status:      action.StatusInProgress,
		Details:     details,
	}
	return r.nextID, nil
}

func (r *fakeRepository) GetByID(_ context.Context, id int64) (*action.Entry, error) {
	return r.entries[id], nil
}

func (r *fakeRepository) GetUserQueue(_ context.Context, commanderID int64) ([]*action.Entry, error) {
	var out []*action.Entry
	for _, e := range r.entries {
		if e.CommanderID == commanderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepository) Cancel(_ context.Context, id, _ int64) error {
	r.cancelled = append(r.cancelled, id)
	return nil
}

func (r *fakeRepository) ListArchive(_ context.Context, _ int64, _ int) ([]*action.Archived, error) {
	return r.archive, nil
}

func TestServiceEnqueueReturnsStoredEntry(t *testing.T) {
	repo := newFakeRepository()
	s := NewService(repo, zap.NewNop())

	details, err := json.Marshal(action.ProductionDetails{Quantity: 5})
	require.NoError(t, err)

	e, err := s.Enqueue(context.Background(), 3, action.TypeProduction, 1, time.Hour, details)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ID)
	assert.Equal(t, action.StatusInProgress, e.Status)
	assert.WithinDuration(t, e.StartTime.Add(time.Hour), e.EndTime, time.Second)
}

func TestServiceEnqueueRejectsMalformedDetails(t *testing.T) {
	s := NewService(newFakeRepository(), zap.NewNop())

	_, err := s.Enqueue(context.Background(), 3, action.TypeProduction, 1, time.Hour, []byte(`{"points": 5}`))
	assert.ErrorIs(t, err, action.ErrInvalidDetails)
}

func TestServiceCancel(t *testing.T) {
	repo := newFakeRepository()
	s := NewService(repo, zap.NewNop())

	require.NoError(t, s.Cancel(context.Background(), 7, 3))
	assert.Equal(t, []int64{7}, repo.cancelled)
}
