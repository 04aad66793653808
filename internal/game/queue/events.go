package queue

import (
	"go.uber.org/zap"

	"github.com/momoathome/project-browsergame-sub001/internal/game/battle"
)

// CombatSummary is the notification payload delivered to a defender whose
// queue resolved an inbound attack.
type CombatSummary struct {
	AttackerID int64
	DefenderID int64
	Winner     battle.Winner
	Rounds     int
	// Plunder maps resource name to the amount taken from the defender.
	// Empty unless the attacker won.
	Plunder map[string]int64
}

// EventSink receives world-change notifications emitted by handlers after an
// action resolves. Implementations fan the events out to connected clients;
// handlers call the sink after their database writes commit, so delivery is
// best effort and a lost event never loses state.
type EventSink interface {
	// ResourcesChanged signals that a commander's stockpiles changed.
	ResourcesChanged(commanderID int64)
	// FleetChanged signals that a commander's ship holdings changed.
	FleetChanged(commanderID int64)
	// BuildingUpgraded signals that one of a commander's buildings reached
	// a new level.
	BuildingUpgraded(commanderID, buildingID int64)
	// UnderAttack notifies a defender of a resolved inbound attack.
	UnderAttack(s CombatSummary)
	// WorldStateChanged signals a change visible to every commander, such
	// as an asteroid being mined out.
	WorldStateChanged()
}

// LogSink is an EventSink that records events to the server log. It serves
// as the default sink when no realtime transport is attached.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a LogSink writing to log.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) ResourcesChanged(commanderID int64) {
	s.log.Debug("resources changed", zap.Int64("commander_id", commanderID))
}

func (s *LogSink) FleetChanged(commanderID int64) {
	s.log.Debug("fleet changed", zap.Int64("commander_id", commanderID))
}

func (s *LogSink) BuildingUpgraded(commanderID, buildingID int64) {
	s.log.Debug("building upgraded",
		zap.Int64("commander_id", commanderID),
		zap.Int64("building_id", buildingID),
	)
}

func (s *LogSink) UnderAttack(sum CombatSummary) {
	s.log.Info("commander attacked",
		zap.Int64("defender_id", sum.DefenderID),
		zap.Int64("attacker_id", sum.AttackerID),
		zap.String("winner", string(sum.Winner)),
		zap.Int("rounds", sum.Rounds),
	)
}

func (s *LogSink) WorldStateChanged() {
	s.log.Debug("world state changed")
}
