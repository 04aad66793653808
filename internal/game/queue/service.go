package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

// Repository is the queue persistence surface the service depends on.
// *postgres.ActionQueueRepository satisfies it.
type Repository interface {
	Enqueue(ctx context.Context, commanderID int64, t action.Type, targetID int64, duration time.Duration, details json.RawMessage) (int64, error)
	GetByID(ctx context.Context, id int64) (*action.Entry, error)
	GetUserQueue(ctx context.Context, commanderID int64) ([]*action.Entry, error)
	Cancel(ctx context.Context, id, commanderID int64) error
	ListArchive(ctx context.Context, commanderID int64, limit int) ([]*action.Archived, error)
}

// Service is the commander-facing queue API: schedule an action, inspect the
// active queue, cancel before resolution, browse history.
type Service struct {
	repo Repository
	log  *zap.Logger
}

// NewService creates a queue Service.
func NewService(repo Repository, log *zap.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Enqueue schedules a deferred action due after duration. The repository
// validates the details payload and reserves any fleet units or research
// points the action consumes.
func (s *Service) Enqueue(
	ctx context.Context,
	commanderID int64,
	t action.Type,
	targetID int64,
	duration time.Duration,
	details json.RawMessage,
) (*action.Entry, error) {
	id, err := s.repo.Enqueue(ctx, commanderID, t, targetID, duration, details)
	if err != nil {
		return nil, err
	}
	s.log.Info("action enqueued",
		zap.Int64("entry_id", id),
		zap.Int64("commander_id", commanderID),
		zap.String("action_type", string(t)),
		zap.Int64("target_id", targetID),
		zap.Duration("duration", duration),
	)
	return s.repo.GetByID(ctx, id)
}

// UserQueue returns a commander's active entries plus inbound attacks
// targeting them, soonest due first.
func (s *Service) UserQueue(ctx context.Context, commanderID int64) ([]*action.Entry, error) {
	return s.repo.GetUserQueue(ctx, commanderID)
}

// Cancel aborts one of the commander's own entries before it is claimed,
// releasing its reservations.
func (s *Service) Cancel(ctx context.Context, id, commanderID int64) error {
	if err := s.repo.Cancel(ctx, id, commanderID); err != nil {
		return err
	}
	s.log.Info("action cancelled",
		zap.Int64("entry_id", id),
		zap.Int64("commander_id", commanderID),
	)
	return nil
}

// History returns a commander's archived actions, newest first.
func (s *Service) History(ctx context.Context, commanderID int64, limit int) ([]*action.Archived, error) {
	return s.repo.ListArchive(ctx, commanderID, limit)
}
