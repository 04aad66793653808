package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDetails is returned when an entry's details payload does not
// match the shape its action type requires.
var ErrInvalidDetails = errors.New("details do not match action type")

// MiningDetails describes the fleet sent to mine an asteroid.
type MiningDetails struct {
	// Spacecrafts maps spacecraft type ID to the number of units sent.
	Spacecrafts map[int64]int64 `json:"spacecrafts"`
}

// BuildingUpgradeDetails carries the pre-computed delta applied when the
// upgrade completes.
type BuildingUpgradeDetails struct {
	NextLevel int              `json:"next_level"`
	Effects   map[string]int64 `json:"effects"`
}

// ProductionDetails describes a spacecraft production order.
type ProductionDetails struct {
	Quantity int64 `json:"quantity"`
}

// ResearchDetails records the research points reserved at enqueue time.
type ResearchDetails struct {
	Points int64 `json:"points"`
}

// CombatDetails describes an attack: the fleet committed and the defender.
type CombatDetails struct {
	AttackerSpacecrafts map[int64]int64 `json:"attacker_spacecrafts"`
	DefenderID          int64           `json:"defender_id"`
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	return nil
}

// ValidateDetails checks that raw decodes into the payload shape required by
// t and that the payload satisfies its own invariants. Called at enqueue
// time so malformed payloads never reach a handler.
//
// Postcondition: Returns nil only if the matching Decode function will
// succeed and yield a usable payload.
func ValidateDetails(t Type, raw json.RawMessage) error {
	switch t {
	case TypeMining:
		d, err := DecodeMining(raw)
		if err != nil {
			return err
		}
		if len(d.Spacecrafts) == 0 {
			return fmt.Errorf("%w: mining requires at least one spacecraft", ErrInvalidDetails)
		}
		for typeID, n := range d.Spacecrafts {
			if n <= 0 {
				return fmt.Errorf("%w: spacecraft type %d amount must be > 0", ErrInvalidDetails, typeID)
			}
		}
	case TypeBuildingUpgrade:
		d, err := DecodeBuildingUpgrade(raw)
		if err != nil {
			return err
		}
		if d.NextLevel < 1 {
			return fmt.Errorf("%w: next_level must be >= 1", ErrInvalidDetails)
		}
	case TypeProduction:
		d, err := DecodeProduction(raw)
		if err != nil {
			return err
		}
		if d.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be > 0", ErrInvalidDetails)
		}
	case TypeResearch:
		d, err := DecodeResearch(raw)
		if err != nil {
			return err
		}
		if d.Points <= 0 {
			return fmt.Errorf("%w: points must be > 0", ErrInvalidDetails)
		}
	case TypeCombat:
		d, err := DecodeCombat(raw)
		if err != nil {
			return err
		}
		if len(d.AttackerSpacecrafts) == 0 {
			return fmt.Errorf("%w: combat requires at least one spacecraft", ErrInvalidDetails)
		}
		for typeID, n := range d.AttackerSpacecrafts {
			if n <= 0 {
				return fmt.Errorf("%w: spacecraft type %d amount must be > 0", ErrInvalidDetails, typeID)
			}
		}
		if d.DefenderID <= 0 {
			return fmt.Errorf("%w: defender_id must be > 0", ErrInvalidDetails)
		}
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidDetails, t)
	}
	return nil
}

// DecodeMining decodes raw into MiningDetails.
func DecodeMining(raw json.RawMessage) (MiningDetails, error) {
	var d MiningDetails
	err := decodeStrict(raw, &d)
	return d, err
}

// DecodeBuildingUpgrade decodes raw into BuildingUpgradeDetails.
func DecodeBuildingUpgrade(raw json.RawMessage) (BuildingUpgradeDetails, error) {
	var d BuildingUpgradeDetails
	err := decodeStrict(raw, &d)
	return d, err
}

// DecodeProduction decodes raw into ProductionDetails.
func DecodeProduction(raw json.RawMessage) (ProductionDetails, error) {
	var d ProductionDetails
	err := decodeStrict(raw, &d)
	return d, err
}

// DecodeResearch decodes raw into ResearchDetails.
func DecodeResearch(raw json.RawMessage) (ResearchDetails, error) {
	var d ResearchDetails
	err := decodeStrict(raw, &d)
	return d, err
}

// DecodeCombat decodes raw into CombatDetails.
func DecodeCombat(raw json.RawMessage) (CombatDetails, error) {
	var d CombatDetails
	err := decodeStrict(raw, &d)
	return d, err
}

// LockedUnits returns the spacecraft reservation an entry of type t with the
// given details requires, or nil when the type does not consume fleet units.
//
// Precondition: raw must have passed ValidateDetails for t.
func LockedUnits(t Type, raw json.RawMessage) (map[int64]int64, error) {
	switch t {
	case TypeMining:
		d, err := DecodeMining(raw)
		if err != nil {
			return nil, err
		}
		return d.Spacecrafts, nil
	case TypeCombat:
		d, err := DecodeCombat(raw)
		if err != nil {
			return nil, err
		}
		return d.AttackerSpacecrafts, nil
	}
	return nil, nil
}
