package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/config"
	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
)

// Store is the queue state surface the processor drives.
// *postgres.ActionQueueRepository satisfies it.
type Store interface {
	DueEntries(ctx context.Context, now time.Time, limit int) ([]*action.Entry, error)
	Claim(ctx context.Context, ids []int64, workerID string) ([]int64, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	Retry(ctx context.Context, id int64) error
	ResetStuck(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// Processor claims due queue entries in batches and dispatches each to its
// registered handler. Claiming is a conditional update keyed on the entry
// status, so any number of processors can run against the same queue and
// each due entry resolves on exactly one of them.
type Processor struct {
	store    Store
	registry *Registry
	log      *zap.Logger

	workerID    string
	fetchLimit  int
	batchSize   int
	retryBudget int
}

// NewProcessor creates a Processor with a fresh worker identity.
func NewProcessor(store Store, registry *Registry, log *zap.Logger, cfg config.QueueConfig) *Processor {
	workerID := uuid.NewString()
	return &Processor{
		store:       store,
		registry:    registry,
		log:         log.With(zap.String("worker_id", workerID)),
		workerID:    workerID,
		fetchLimit:  cfg.FetchLimit,
		batchSize:   cfg.BatchSize,
		retryBudget: cfg.RetryBudget,
	}
}

// ProcessDue resolves every entry due at now, in batches. Entries another
// worker claims first are skipped silently. Returns the number of entries
// this worker resolved (completed, retried or failed).
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.DueEntries(ctx, now, p.fetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetching due entries: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	byID := make(map[int64]*action.Entry, len(due))
	ids := make([]int64, 0, len(due))
	for _, e := range due {
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	var resolved int
	for start := 0; start < len(ids); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		end := start + p.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		claimed, err := p.store.Claim(ctx, ids[start:end], p.workerID)
		if err != nil {
			return resolved, fmt.Errorf("claiming batch: %w", err)
		}
		for _, id := range claimed {
			p.dispatch(ctx, byID[id])
			resolved++
		}
	}
	return resolved, nil
}

// dispatch runs one claimed entry to a terminal or retried state. Failures
// to record the outcome are logged, not returned: the entry stays claimed
// and the sweeper reclaims it once its claim goes stale.
func (p *Processor) dispatch(ctx context.Context, e *action.Entry) {
	log := p.log.With(
		zap.Int64("entry_id", e.ID),
		zap.String("action_type", string(e.Type)),
		zap.Int64("commander_id", e.CommanderID),
	)

	h, ok := p.registry.Get(e.Type)
	if !ok {
		log.Error("no handler registered for action type")
		p.mark(log, p.store.MarkFailed(ctx, e.ID, fmt.Sprintf("no handler for action type %q", e.Type)))
		return
	}

	err := p.run(ctx, h, e)
	switch {
	case err == nil:
		log.Info("action completed")
		p.mark(log, p.store.MarkCompleted(ctx, e.ID))
	case isPermanent(err):
		log.Warn("action failed permanently", zap.Error(err))
		p.mark(log, p.store.MarkFailed(ctx, e.ID, err.Error()))
	case e.Attempts+1 >= p.retryBudget:
		log.Warn("action failed, retry budget exhausted",
			zap.Int("attempts", e.Attempts+1), zap.Error(err))
		p.mark(log, p.store.MarkFailed(ctx, e.ID, fmt.Sprintf("retry budget exhausted: %v", err)))
	default:
		log.Warn("action failed, scheduling retry",
			zap.Int("attempts", e.Attempts+1), zap.Error(err))
		p.mark(log, p.store.Retry(ctx, e.ID))
	}
}

// run invokes the handler, converting a panic into a transient error so one
// broken entry cannot take the processor down.
func (p *Processor) run(ctx context.Context, h Handler, e *action.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, e)
}

func (p *Processor) mark(log *zap.Logger, err error) {
	if err != nil {
		log.Error("recording entry outcome failed", zap.Error(err))
	}
}

func isPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}
