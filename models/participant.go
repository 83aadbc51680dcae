package models

import "time"

// Participant is a user's membership in a party. Leaving only stamps LeftAt so the
// running totals survive for the final leaderboard.
type Participant struct {
	PartyID     string     `json:"party_id" gorm:"primaryKey;size:36"`
	UserID      string     `json:"user_id" gorm:"primaryKey"`
	JoinedAt    time.Time  `json:"joined_at" gorm:"not null"`
	LeftAt      *time.Time `json:"left_at,omitempty"`
	TotalSets   int64      `json:"total_sets" gorm:"not null;default:0"`
	TotalVolume float64    `json:"total_volume" gorm:"not null;default:0"`
	PRsAchieved int64      `json:"prs_achieved" gorm:"column:prs_achieved;not null;default:0"`

	// Denormalized from the user directory on read
	UserName  string  `json:"user_name,omitempty" gorm:"-"`
	AvatarURL *string `json:"avatar_url,omitempty" gorm:"-"`
}

// IsActive is true until the participant leaves.
func (p *Participant) IsActive() bool {
	return p.LeftAt == nil
}
