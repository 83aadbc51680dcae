package models

import (
	"time"
)

// Party lifecycle: waiting → active → completed, forward only.
const (
	PartyStatusWaiting   = "waiting"
	PartyStatusActive    = "active"
	PartyStatusCompleted = "completed"
)

// ValidPartyStatus reports whether s is one of the known statuses.
func ValidPartyStatus(s string) bool {
	switch s {
	case PartyStatusWaiting, PartyStatusActive, PartyStatusCompleted:
		return true
	}
	return false
}

// Party is a time-boxed shared workout session, found and joined by its Code.
type Party struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	Code            string     `json:"code" gorm:"size:6;uniqueIndex;not null"`
	Slug            string     `json:"slug"`
	HostID          string     `json:"host_id" gorm:"index;not null;uniqueIndex:idx_parties_open_host,where:status <> 'completed'"`
	Name            string     `json:"name" gorm:"not null"`
	Status          string     `json:"status" gorm:"type:varchar(16);index;not null;default:'waiting'"`
	MaxParticipants int        `json:"max_participants" gorm:"not null;default:10"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty" gorm:"index"`
	ExpiresAt       time.Time  `json:"expires_at" gorm:"index;not null"`

	// Calculated fields (not stored in DB)
	ActiveCount int64 `json:"active_count" gorm:"-"`
}

// IsOpen is true while the party still accepts members and events.
func (p *Party) IsOpen() bool {
	return p.Status == PartyStatusWaiting || p.Status == PartyStatusActive
}

// IsExpired reports a party past its expiry that nothing has completed yet.
func (p *Party) IsExpired(now time.Time) bool {
	return p.Status != PartyStatusCompleted && p.ExpiresAt.Before(now)
}
