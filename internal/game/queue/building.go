package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
)

// BuildingStore applies finished upgrades.
// *postgres.BuildingRepository satisfies it.
type BuildingStore interface {
	ApplyUpgrade(ctx context.Context, id int64, nextLevel int, effects map[string]int64) error
}

// BuildingHandler resolves building upgrade actions by applying the level
// and effect delta computed when the upgrade was ordered.
type BuildingHandler struct {
	buildings BuildingStore
	events    EventSink
	log       *zap.Logger
}

// NewBuildingHandler creates a BuildingHandler.
func NewBuildingHandler(buildings BuildingStore, events EventSink, log *zap.Logger) *BuildingHandler {
	return &BuildingHandler{buildings: buildings, events: events, log: log}
}

func (h *BuildingHandler) Type() action.Type { return action.TypeBuildingUpgrade }

func (h *BuildingHandler) Handle(ctx context.Context, e *action.Entry) error {
	d, err := action.DecodeBuildingUpgrade(e.Details)
	if err != nil {
		return Permanent(err)
	}

	if err := h.buildings.ApplyUpgrade(ctx, e.TargetID, d.NextLevel, d.Effects); err != nil {
		if errors.Is(err, postgres.ErrBuildingNotFound) {
			return Permanent(fmt.Errorf("building %d no longer exists", e.TargetID))
		}
		return err
	}

	h.log.Info("building upgraded",
		zap.Int64("entry_id", e.ID),
		zap.Int64("building_id", e.TargetID),
		zap.Int("level", d.NextLevel),
	)
	h.events.BuildingUpgraded(e.CommanderID, e.TargetID)
	return nil
}
