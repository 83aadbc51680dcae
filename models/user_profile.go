package models

import "time"

// UserProfile mirrors the profile service so feeds can show names and avatars
// without a remote call per event.
type UserProfile struct {
	ExternalUserID string    `json:"external_user_id" gorm:"primaryKey"`
	Username       string    `json:"username" gorm:"index"`
	DisplayName    string    `json:"display_name"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"index"`
}

// Name picks the friendliest label available.
func (u *UserProfile) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// AllModels is the AutoMigrate set, shared by main and the tests.
func AllModels() []interface{} {
	return []interface{}{
		&Party{},
		&Participant{},
		&PartyEvent{},
		&UserProfile{},
	}
}
