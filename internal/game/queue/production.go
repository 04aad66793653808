package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/game/catalog"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
)

// ShipyardStore delivers produced units into a commander's fleet.
// *postgres.SpacecraftRepository satisfies it.
type ShipyardStore interface {
	AddUnits(ctx context.Context, commanderID, typeID, quantity int64) error
}

// ProductionHandler resolves spacecraft production orders by adding the
// finished units to the commander's fleet. The target type must be unlocked
// for the commander; an order for a locked or unknown type fails without
// retrying.
type ProductionHandler struct {
	fleet   ShipyardStore
	catalog *catalog.Catalog
	events  EventSink
	log     *zap.Logger
}

// NewProductionHandler creates a ProductionHandler.
func NewProductionHandler(fleet ShipyardStore, cat *catalog.Catalog, events EventSink, log *zap.Logger) *ProductionHandler {
	return &ProductionHandler{fleet: fleet, catalog: cat, events: events, log: log}
}

func (h *ProductionHandler) Type() action.Type { return action.TypeProduction }

func (h *ProductionHandler) Handle(ctx context.Context, e *action.Entry) error {
	d, err := action.DecodeProduction(e.Details)
	if err != nil {
		return Permanent(err)
	}
	if _, ok := h.catalog.Get(e.TargetID); !ok {
		return Permanent(fmt.Errorf("unknown spacecraft type %d", e.TargetID))
	}

	if err := h.fleet.AddUnits(ctx, e.CommanderID, e.TargetID, d.Quantity); err != nil {
		if errors.Is(err, postgres.ErrSpacecraftNotFound) {
			return Permanent(fmt.Errorf("spacecraft type %d not unlocked for commander %d", e.TargetID, e.CommanderID))
		}
		return err
	}

	h.log.Info("production delivered",
		zap.Int64("entry_id", e.ID),
		zap.Int64("spacecraft_type_id", e.TargetID),
		zap.Int64("quantity", d.Quantity),
	)
	h.events.FleetChanged(e.CommanderID)
	return nil
}
