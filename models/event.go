package models

import (
	"time"

	"gorm.io/datatypes"
)

// Event types: everything that can show up in a party feed
const (
	EventJoined          = "joined"
	EventLeft            = "left"
	EventSetCompleted    = "set_completed"
	EventPRAchieved      = "pr_achieved"
	EventExerciseStarted = "exercise_started"
	EventReaction        = "reaction"
	EventMessage         = "message"
)

// ValidEventType reports whether t belongs to the fixed enumeration.
func ValidEventType(t string) bool {
	switch t {
	case EventJoined, EventLeft, EventSetCompleted, EventPRAchieved,
		EventExerciseStarted, EventReaction, EventMessage:
		return true
	}
	return false
}

// PartyEvent is an immutable feed entry. Ordering is (created_at, id).
type PartyEvent struct {
	ID        uint64         `json:"id" gorm:"primaryKey;autoIncrement"`
	PartyID   string         `json:"party_id" gorm:"size:36;not null;index:idx_party_events_party_created,priority:1"`
	UserID    string         `json:"user_id" gorm:"not null"`
	EventType string         `json:"event_type" gorm:"type:varchar(32);not null"`
	EventData datatypes.JSON `json:"event_data"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null;index:idx_party_events_party_created,priority:2"`
}
