// Package battle implements the combat resolution engine: a pure, bounded
// multi-round attrition simulation between two fleets. All randomness flows
// through an injected rng.Source so outcomes are replayable from a seed.
package battle

import (
	"math"

	"github.com/momoathome/project-browsergame-sub001/internal/game/rng"
)

// Winner identifies the outcome of a battle.
type Winner string

const (
	WinnerAttacker Winner = "attacker"
	WinnerDefender Winner = "defender"
	WinnerDraw     Winner = "draw"
)

// Stack is a homogeneous group of ships within a fleet.
type Stack struct {
	// Type is the ship type name, unique within a fleet.
	Type string
	// CombatPower is the strength of one unit. Must be > 0 for the stack
	// to participate in damage exchange.
	CombatPower int64
	// Count is the number of units engaged.
	Count int64
}

// Fleet is a composition of ship stacks.
type Fleet []Stack

// TotalCombatPower returns the sum of count x unit power across all stacks.
func (f Fleet) TotalCombatPower() int64 {
	var total int64
	for _, s := range f {
		total += s.Count * s.CombatPower
	}
	return total
}

// TotalCount returns the number of units in the fleet.
func (f Fleet) TotalCount() int64 {
	var total int64
	for _, s := range f {
		total += s.Count
	}
	return total
}

// Losses reports the fate of one ship type on one side.
type Losses struct {
	ShipType     string
	CountEngaged int64
	CountLost    int64
}

// Result is the outcome of a resolved battle.
//
// Invariant: for every Losses entry, CountLost <= CountEngaged.
// Invariant: per side, the combat power of lost units never exceeds the
// side's initial total combat power.
type Result struct {
	Winner         Winner
	AttackerLosses []Losses
	DefenderLosses []Losses
	// AttackerPowerLost and DefenderPowerLost are the combat power values
	// destroyed on each side.
	AttackerPowerLost int64
	DefenderPowerLost int64
	// Rounds is the number of attrition rounds fought. Zero when one side
	// started empty.
	Rounds int
}

// Params holds the tunable balance constants of the engine.
type Params struct {
	// MaxRounds caps the attrition loop.
	MaxRounds int
	// DamageFactorMin and DamageFactorMax bound the per-round random
	// modulation applied to each side's inflicted damage.
	DamageFactorMin float64
	DamageFactorMax float64
}

// DefaultParams returns the canonical balance constants.
func DefaultParams() Params {
	return Params{MaxRounds: 6, DamageFactorMin: 0.8, DamageFactorMax: 1.2}
}

// side tracks one fleet's remaining units during resolution.
type side struct {
	stacks    []Stack
	remaining []int64
}

func newSide(f Fleet) *side {
	s := &side{stacks: make([]Stack, len(f)), remaining: make([]int64, len(f))}
	copy(s.stacks, f)
	for i, st := range f {
		s.remaining[i] = st.Count
	}
	return s
}

func (s *side) combatPower() int64 {
	var total int64
	for i, st := range s.stacks {
		total += s.remaining[i] * st.CombatPower
	}
	return total
}

// applyDamage distributes damage across the side's stacks proportionally to
// each stack's share of the side's remaining combat power. Losses per stack
// are floor(share / unit power), capped at the stack's remaining count.
//
// Precondition: s.combatPower() > 0.
func (s *side) applyDamage(damage float64) {
	total := float64(s.combatPower())
	losses := make([]int64, len(s.stacks))
	for i, st := range s.stacks {
		if s.remaining[i] == 0 || st.CombatPower <= 0 {
			continue
		}
		stackPower := float64(s.remaining[i] * st.CombatPower)
		share := damage * stackPower / total
		lost := int64(math.Floor(share / float64(st.CombatPower)))
		if lost > s.remaining[i] {
			lost = s.remaining[i]
		}
		losses[i] = lost
	}
	for i, lost := range losses {
		s.remaining[i] -= lost
	}
}

func (s *side) losses() ([]Losses, int64) {
	out := make([]Losses, 0, len(s.stacks))
	var powerLost int64
	for i, st := range s.stacks {
		lost := st.Count - s.remaining[i]
		powerLost += lost * st.CombatPower
		out = append(out, Losses{
			ShipType:     st.Type,
			CountEngaged: st.Count,
			CountLost:    lost,
		})
	}
	return out, powerLost
}

// Resolve simulates a battle between attacker and defender.
//
// Each round both sides simultaneously inflict damage equal to their own
// current combat power scaled by a random factor in
// [p.DamageFactorMin, p.DamageFactorMax), clamped so that a side never
// destroys more combat power in one round than its own current rating.
// The loop stops when either side reaches zero combat power or after
// p.MaxRounds rounds. The side with strictly greater remaining combat power
// wins; equal remainders are a draw. A side that begins with zero ships
// loses immediately with zero rounds fought and no losses on either side.
//
// Precondition: src must be non-nil; p.MaxRounds >= 1.
// Postcondition: the Result invariants hold for any input and any source.
func Resolve(attacker, defender Fleet, src rng.Source, p Params) Result {
	atk := newSide(attacker)
	def := newSide(defender)

	atkStartPower := atk.combatPower()
	defStartPower := def.combatPower()

	// Walkover: one or both sides have no effective ships.
	if atkStartPower == 0 || defStartPower == 0 {
		winner := WinnerDraw
		switch {
		case atkStartPower > 0:
			winner = WinnerAttacker
		case defStartPower > 0:
			winner = WinnerDefender
		}
		atkLosses, _ := atk.losses()
		defLosses, _ := def.losses()
		return Result{
			Winner:         winner,
			AttackerLosses: atkLosses,
			DefenderLosses: defLosses,
			Rounds:         0,
		}
	}

	rounds := 0
	for rounds < p.MaxRounds {
		atkPower := atk.combatPower()
		defPower := def.combatPower()
		if atkPower == 0 || defPower == 0 {
			break
		}
		rounds++

		damageToDefender := float64(atkPower) * rng.InRange(src, p.DamageFactorMin, p.DamageFactorMax)
		damageToAttacker := float64(defPower) * rng.InRange(src, p.DamageFactorMin, p.DamageFactorMax)
		if damageToDefender > float64(atkPower) {
			damageToDefender = float64(atkPower)
		}
		if damageToAttacker > float64(defPower) {
			damageToAttacker = float64(defPower)
		}

		// Both sides take damage computed from the same pre-round state.
		atk.applyDamage(damageToAttacker)
		def.applyDamage(damageToDefender)
	}

	atkPower := atk.combatPower()
	defPower := def.combatPower()
	winner := WinnerDraw
	switch {
	case atkPower > defPower:
		winner = WinnerAttacker
	case defPower > atkPower:
		winner = WinnerDefender
	}

	atkLosses, atkLost := atk.losses()
	defLosses, defLost := def.losses()
	return Result{
		Winner:            winner,
		AttackerLosses:    atkLosses,
		DefenderLosses:    defLosses,
		AttackerPowerLost: atkLost,
		DefenderPowerLost: defLost,
		Rounds:            rounds,
	}
}

// Survivors returns the fleet remaining on one side after applying losses.
func Survivors(engaged Fleet, losses []Losses) Fleet {
	lostByType := make(map[string]int64, len(losses))
	for _, l := range losses {
		lostByType[l.ShipType] = l.CountLost
	}
	out := make(Fleet, 0, len(engaged))
	for _, s := range engaged {
		remaining := s.Count - lostByType[s.Type]
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, Stack{Type: s.Type, CombatPower: s.CombatPower, Count: remaining})
	}
	return out
}
