package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/game/catalog"
)

// ResearchStore unlocks new spacecraft types for a commander.
// *postgres.SpacecraftRepository satisfies it.
type ResearchStore interface {
	Unlock(ctx context.Context, commanderID, typeID int64) error
}

// ResearchHandler resolves research actions. The research points were
// deducted when the action was enqueued and are refunded automatically if
// the entry ends any way other than completed, so the handler only has to
// unlock the target type.
type ResearchHandler struct {
	fleet   ResearchStore
	catalog *catalog.Catalog
	events  EventSink
	log     *zap.Logger
}

// NewResearchHandler creates a ResearchHandler.
func NewResearchHandler(fleet ResearchStore, cat *catalog.Catalog, events EventSink, log *zap.Logger) *ResearchHandler {
	return &ResearchHandler{fleet: fleet, catalog: cat, events: events, log: log}
}

func (h *ResearchHandler) Type() action.Type { return action.TypeResearch }

func (h *ResearchHandler) Handle(ctx context.Context, e *action.Entry) error {
	if _, err := action.DecodeResearch(e.Details); err != nil {
		return Permanent(err)
	}
	if _, ok := h.catalog.Get(e.TargetID); !ok {
		return Permanent(fmt.Errorf("unknown spacecraft type %d", e.TargetID))
	}

	if err := h.fleet.Unlock(ctx, e.CommanderID, e.TargetID); err != nil {
		return err
	}

	h.log.Info("research completed",
		zap.Int64("entry_id", e.ID),
		zap.Int64("spacecraft_type_id", e.TargetID),
	)
	h.events.FleetChanged(e.CommanderID)
	return nil
}
