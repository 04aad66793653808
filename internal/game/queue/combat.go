package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/action"
	"github.com/momoathome/project-browsergame-sub001/internal/game/battle"
	"github.com/momoathome/project-browsergame-sub001/internal/game/catalog"
	"github.com/momoathome/project-browsergame-sub001/internal/game/rng"
	"github.com/momoathome/project-browsergame-sub001/internal/storage/postgres"
)

// FleetStore is the fleet persistence surface the combat handler depends
// on. *postgres.SpacecraftRepository satisfies it.
type FleetStore interface {
	AvailableUnits(ctx context.Context, commanderID int64) (map[int64]int64, error)
	ApplyLosses(ctx context.Context, commanderID int64, losses map[int64]int64) error
}

// ScoreStore applies post-battle plunder and influence adjustments.
// *postgres.CommanderRepository satisfies it.
type ScoreStore interface {
	Plunder(ctx context.Context, fromID, toID, capacity int64) (map[string]int64, error)
	AdjustInfluence(ctx context.Context, id, delta int64) error
}

// CombatLedger records resolved battles.
// *postgres.LogRepository satisfies it.
type CombatLedger interface {
	InsertCombat(ctx context.Context, l postgres.CombatLog) (int64, error)
}

// CombatHandler resolves attack actions. The attacker's fleet was reserved
// at enqueue time and travels with the entry; the defender engages with
// every unit not already committed elsewhere. After resolution both sides'
// losses are applied, the victor plunders up to its surviving cargo
// capacity, and both influence scores move.
type CombatHandler struct {
	fleets     FleetStore
	commanders ScoreStore
	catalog    *catalog.Catalog
	ledger     CombatLedger
	events     EventSink
	src        rng.Source
	params     battle.Params
	log        *zap.Logger

	typeByName map[string]int64
}

// NewCombatHandler creates a CombatHandler.
func NewCombatHandler(
	fleets FleetStore,
	commanders ScoreStore,
	cat *catalog.Catalog,
	ledger CombatLedger,
	events EventSink,
	src rng.Source,
	params battle.Params,
	log *zap.Logger,
) *CombatHandler {
	typeByName := make(map[string]int64, cat.Len())
	for _, st := range cat.All() {
		typeByName[st.Name] = st.ID
	}
	return &CombatHandler{
		fleets:     fleets,
		commanders: commanders,
		catalog:    cat,
		ledger:     ledger,
		events:     events,
		src:        src,
		params:     params,
		log:        log,
		typeByName: typeByName,
	}
}

func (h *CombatHandler) Type() action.Type { return action.TypeCombat }

func (h *CombatHandler) Handle(ctx context.Context, e *action.Entry) error {
	d, err := action.DecodeCombat(e.Details)
	if err != nil {
		return Permanent(err)
	}

	attackerFleet, err := h.fleetFromUnits(d.AttackerSpacecrafts)
	if err != nil {
		return Permanent(err)
	}
	defenderUnits, err := h.fleets.AvailableUnits(ctx, d.DefenderID)
	if err != nil {
		if errors.Is(err, postgres.ErrCommanderNotFound) {
			return Permanent(fmt.Errorf("defender %d no longer exists", d.DefenderID))
		}
		return err
	}
	defenderFleet, err := h.fleetFromUnits(defenderUnits)
	if err != nil {
		return Permanent(err)
	}

	attackerPower := attackerFleet.TotalCombatPower()
	defenderPower := defenderFleet.TotalCombatPower()
	result := battle.Resolve(attackerFleet, defenderFleet, h.src, h.params)

	if losses := h.lossCounts(result.AttackerLosses); len(losses) > 0 {
		if err := h.fleets.ApplyLosses(ctx, e.CommanderID, losses); err != nil {
			return err
		}
	}
	if losses := h.lossCounts(result.DefenderLosses); len(losses) > 0 {
		if err := h.fleets.ApplyLosses(ctx, d.DefenderID, losses); err != nil {
			return err
		}
	}

	plunder := map[string]int64{}
	if result.Winner == battle.WinnerAttacker {
		survivors := battle.Survivors(attackerFleet, result.AttackerLosses)
		capacity, _ := h.catalog.CargoCapacity(h.unitCounts(survivors))
		plunder, err = h.commanders.Plunder(ctx, d.DefenderID, e.CommanderID, capacity)
		if err != nil {
			// A deleted commander won't come back; retrying would only
			// re-apply fleet losses.
			if errors.Is(err, postgres.ErrCommanderNotFound) {
				return Permanent(fmt.Errorf("defender %d no longer exists", d.DefenderID))
			}
			return err
		}
	}

	deltas := battle.Influence(result, attackerPower, defenderPower)
	if err := h.commanders.AdjustInfluence(ctx, e.CommanderID, deltas.Attacker); err != nil {
		if errors.Is(err, postgres.ErrCommanderNotFound) {
			return Permanent(fmt.Errorf("attacker %d no longer exists", e.CommanderID))
		}
		return err
	}
	if err := h.commanders.AdjustInfluence(ctx, d.DefenderID, deltas.Defender); err != nil {
		if errors.Is(err, postgres.ErrCommanderNotFound) {
			return Permanent(fmt.Errorf("defender %d no longer exists", d.DefenderID))
		}
		return err
	}

	if _, err := h.ledger.InsertCombat(ctx, postgres.CombatLog{
		AttackerID:        e.CommanderID,
		DefenderID:        d.DefenderID,
		Winner:            result.Winner,
		Rounds:            result.Rounds,
		AttackerLosses:    result.AttackerLosses,
		DefenderLosses:    result.DefenderLosses,
		Plunder:           plunder,
		AttackerInfluence: deltas.Attacker,
		DefenderInfluence: deltas.Defender,
	}); err != nil {
		return err
	}

	h.log.Info("battle resolved",
		zap.Int64("entry_id", e.ID),
		zap.Int64("attacker_id", e.CommanderID),
		zap.Int64("defender_id", d.DefenderID),
		zap.String("winner", string(result.Winner)),
		zap.Int("rounds", result.Rounds),
		zap.Int64("attacker_power_lost", result.AttackerPowerLost),
		zap.Int64("defender_power_lost", result.DefenderPowerLost),
	)

	h.events.UnderAttack(CombatSummary{
		AttackerID: e.CommanderID,
		DefenderID: d.DefenderID,
		Winner:     result.Winner,
		Rounds:     result.Rounds,
		Plunder:    plunder,
	})
	h.events.FleetChanged(e.CommanderID)
	h.events.FleetChanged(d.DefenderID)
	if len(plunder) > 0 {
		h.events.ResourcesChanged(e.CommanderID)
		h.events.ResourcesChanged(d.DefenderID)
	}
	if result.Winner == battle.WinnerDraw {
		// Losses, influence and the log stand, but a battle with no victor
		// did not achieve the attack's intent.
		return Permanent(fmt.Errorf("battle against commander %d ended in a draw", d.DefenderID))
	}
	return nil
}

// fleetFromUnits expands a type-ID count map into battle stacks using the
// ship catalog.
func (h *CombatHandler) fleetFromUnits(units map[int64]int64) (battle.Fleet, error) {
	fleet := make(battle.Fleet, 0, len(units))
	for typeID, count := range units {
		if count <= 0 {
			continue
		}
		st, ok := h.catalog.Get(typeID)
		if !ok {
			return nil, fmt.Errorf("unknown spacecraft type %d", typeID)
		}
		fleet = append(fleet, battle.Stack{Type: st.Name, CombatPower: st.CombatPower, Count: count})
	}
	return fleet, nil
}

// lossCounts converts per-type battle losses back to a type-ID count map,
// dropping types that lost nothing.
func (h *CombatHandler) lossCounts(losses []battle.Losses) map[int64]int64 {
	out := make(map[int64]int64, len(losses))
	for _, l := range losses {
		if l.CountLost <= 0 {
			continue
		}
		if typeID, ok := h.typeByName[l.ShipType]; ok {
			out[typeID] = l.CountLost
		}
	}
	return out
}

func (h *CombatHandler) unitCounts(f battle.Fleet) map[int64]int64 {
	out := make(map[int64]int64, len(f))
	for _, s := range f {
		if s.Count <= 0 {
			continue
		}
		if typeID, ok := h.typeByName[s.Type]; ok {
			out[typeID] = s.Count
		}
	}
	return out
}
