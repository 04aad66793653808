package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweeper returns entries stranded in the claimed state to the queue. A
// worker that crashes mid-batch leaves its claims behind; once a claim is
// older than the timeout the entry is safe to hand to another worker.
type Sweeper struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

// NewSweeper creates a Sweeper that reclaims entries whose claim is older
// than timeout.
func NewSweeper(store Store, log *zap.Logger, timeout time.Duration) *Sweeper {
	return &Sweeper{store: store, log: log, timeout: timeout}
}

// Sweep resets every entry claimed before now minus the timeout. Returns
// the number of entries returned to the queue.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.ResetStuck(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, fmt.Errorf("sweeping stuck entries: %w", err)
	}
	if n > 0 {
		s.log.Warn("reclaimed stuck entries",
			zap.Int64("count", n),
			zap.Duration("claim_timeout", s.timeout),
		)
	}
	return n, nil
}
