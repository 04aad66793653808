package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/game/catalog"
	"github.com/momoathome/project-browsergame-sub001/internal/game/mining"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
)

// AsteroidStore is the asteroid persistence surface the mining handler
// depends on. *postgres.AsteroidRepository satisfies it.
type AsteroidStore interface {
	Resources(ctx context.Context, id int64) (map[string]int64, error)
	SetResources(ctx context.Context, id int64, resources map[string]int64) error
	Delete(ctx context.Context, id int64) error
}

// StockpileStore credits resolved loot to a commander.
// *postgres.CommanderRepository satisfies it.
type StockpileStore interface {
	CreditResources(ctx context.Context, id int64, amounts map[string]int64) error
}

// MiningLedger records resolved explorations.
// *postgres.LogRepository satisfies it.
type MiningLedger interface {
	InsertMining(ctx context.Context, l postgres.MiningLog) (int64, error)
}

// MiningHandler resolves exploration actions: the fleet reserved at enqueue
// time extracts the asteroid's resources bounded by its cargo capacity, and
// mined-out asteroids leave the world.
type MiningHandler struct {
	asteroids  AsteroidStore
	commanders StockpileStore
	catalog    *catalog.Catalog
	ledger     MiningLedger
	events     EventSink
	log        *zap.Logger
}

// NewMiningHandler creates a MiningHandler.
func NewMiningHandler(
	asteroids AsteroidStore,
	commanders StockpileStore,
	cat *catalog.Catalog,
	ledger MiningLedger,
	events EventSink,
	log *zap.Logger,
) *MiningHandler {
	return &MiningHandler{
		asteroids:  asteroids,
		commanders: commanders,
		catalog:    cat,
		ledger:     ledger,
		events:     events,
		log:        log,
	}
}

func (h *MiningHandler) Type() action.Type { return action.TypeMining }

func (h *MiningHandler) Handle(ctx context.Context, e *action.Entry) error {
	d, err := action.DecodeMining(e.Details)
	if err != nil {
		return Permanent(err)
	}
	capacity, hasMiner := h.catalog.CargoCapacity(d.Spacecrafts)

	remaining, err := h.asteroids.Resources(ctx, e.TargetID)
	if err != nil {
		if errors.Is(err, postgres.ErrAsteroidNotFound) {
			// Someone else mined it out while this fleet was in transit.
			return Permanent(fmt.Errorf("asteroid %d no longer exists", e.TargetID))
		}
		return err
	}

	res := mining.Resolve(remaining, capacity, hasMiner)

	if res.Depleted {
		if err := h.asteroids.Delete(ctx, e.TargetID); err != nil && !errors.Is(err, postgres.ErrAsteroidNotFound) {
			return err
		}
	} else if err := h.asteroids.SetResources(ctx, e.TargetID, mining.Remaining(remaining, res)); err != nil {
		return err
	}

	if res.CargoUsed > 0 {
		if err := h.commanders.CreditResources(ctx, e.CommanderID, res.Extracted); err != nil {
			return err
		}
	}

	if _, err := h.ledger.InsertMining(ctx, postgres.MiningLog{
		CommanderID: e.CommanderID,
		AsteroidID:  e.TargetID,
		Extracted:   res.Extracted,
		CargoUsed:   res.CargoUsed,
		HadMiner:    res.HadMiner,
	}); err != nil {
		return err
	}

	h.log.Info("exploration resolved",
		zap.Int64("entry_id", e.ID),
		zap.Int64("asteroid_id", e.TargetID),
		zap.Int64("cargo_used", res.CargoUsed),
		zap.Bool("had_miner", res.HadMiner),
		zap.Bool("depleted", res.Depleted),
	)

	if res.CargoUsed > 0 {
		h.events.ResourcesChanged(e.CommanderID)
	}
	if res.Depleted {
		h.events.WorldStateChanged()
	}
	if !res.Success {
		// Empty asteroid or a fleet with no cargo hold. Retrying won't
		// change either, so fail the run and release the fleet.
		return Permanent(fmt.Errorf("nothing extracted from asteroid %d", e.TargetID))
	}
	return nil
}
