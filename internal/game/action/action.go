// Package action defines the deferred-action queue entry model: the closed
// action type and status enums, the queue entry itself, and the per-type
// details payloads.
package action

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of deferred action an entry represents.
type Type string

const (
	TypeMining          Type = "mining"
	TypeBuildingUpgrade Type = "building_upgrade"
	TypeProduction      Type = "production"
	TypeResearch        Type = "research"
	TypeCombat          Type = "combat"
)

// Types lists every valid action type.
func Types() []Type {
	return []Type{TypeMining, TypeBuildingUpgrade, TypeProduction, TypeResearch, TypeCombat}
}

// Valid reports whether t is a known action type.
func (t Type) Valid() bool {
	switch t {
	case TypeMining, TypeBuildingUpgrade, TypeProduction, TypeResearch, TypeCombat:
		return true
	}
	return false
}

// ConsumesFleet reports whether enqueuing an action of this type reserves
// spacecraft via resource locks.
func (t Type) ConsumesFleet() bool {
	return t == TypeMining || t == TypeCombat
}

// Status is the lifecycle state of a queue entry.
//
// Transitions are monotonic:
//
//	pending -> in_progress -> processing -> {completed | in_progress (retry) | failed}
//	in_progress -> cancelled (explicit cancel before claim)
//
// completed, cancelled and failed are terminal; terminal entries leave the
// active table and are archived.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Cancellable reports whether an entry in status s may still be cancelled.
// Once claimed (processing) an entry must run to completion or be reclaimed
// by the sweeper.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusInProgress
}

// Entry is one deferred action in the queue.
//
// Invariant: EndTime >= StartTime.
// Invariant: for combat, at most one entry per (commander, target) pair is
// in progress at a time.
type Entry struct {
	ID          int64
	CommanderID int64
	Type        Type
	// TargetID identifies the action's object; its meaning depends on Type:
	// asteroid for mining, building for upgrades, spacecraft type for
	// production and research, defending commander for combat.
	TargetID  int64
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	// Attempts counts handler invocations that ended in a hard failure.
	Attempts int
	Details  json.RawMessage
	// AttackerName is populated on inbound combat entries returned by
	// GetUserQueue so the defender can see who is attacking.
	AttackerName string
}

// Remaining returns the time left until the entry is due, floored at zero.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if !now.Before(e.EndTime) {
		return 0
	}
	return e.EndTime.Sub(now)
}

// Due reports whether the entry's end time has passed.
func (e *Entry) Due(now time.Time) bool {
	return !e.EndTime.After(now)
}

// Archived is the immutable snapshot of a terminal entry.
type Archived struct {
	ID            int64
	ActionQueueID int64
	CommanderID   int64
	Type          Type
	TargetID      int64
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	Details       json.RawMessage
	FailureReason string
	ArchivedAt    time.Time
}

// ResourceLock reserves fleet units for the lifetime of an in-flight action.
//
// Invariant: for any (commander, spacecraft type), the sum of active lock
// amounts never exceeds the owned count.
type ResourceLock struct {
	ID               int64
	ActionQueueID    int64
	CommanderID      int64
	SpacecraftTypeID int64
	Amount           int64
}

// String implements fmt.Stringer for log output.
func (e *Entry) String() string {
	return fmt.Sprintf("entry %d type=%s commander=%d target=%d status=%s",
		e.ID, e.Type, e.CommanderID, e.TargetID, e.Status)
}
