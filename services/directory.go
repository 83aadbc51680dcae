package services

import (
	"fitparty/models"

	"gorm.io/gorm"
)

const anonymousName = "Athlete"

// Profile is what feeds and participant lists show for a user.
type Profile struct {
	UserID    string  `json:"user_id"`
	Name      string  `json:"name"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// lookupProfile reads the mirrored profile; unknown users still get a display name.
func lookupProfile(db *gorm.DB, userID string) Profile {
	var u models.UserProfile
	if err := db.Where("external_user_id = ?", userID).Limit(1).Find(&u).Error; err != nil || u.ExternalUserID == "" {
		return Profile{UserID: userID, Name: anonymousName}
	}
	name := u.Name()
	if name == "" {
		name = anonymousName
	}
	return Profile{UserID: userID, Name: name, AvatarURL: u.AvatarURL}
}

// lookupProfiles resolves many users in one query.
func lookupProfiles(db *gorm.DB, userIDs []string) map[string]Profile {
	out := make(map[string]Profile, len(userIDs))
	for _, id := range userIDs {
		out[id] = Profile{UserID: id, Name: anonymousName}
	}
	if len(userIDs) == 0 {
		return out
	}

	var users []models.UserProfile
	if err := db.Where("external_user_id IN ?", userIDs).Find(&users).Error; err != nil {
		return out
	}
	for i := range users {
		u := users[i]
		if name := u.Name(); name != "" {
			out[u.ExternalUserID] = Profile{UserID: u.ExternalUserID, Name: name, AvatarURL: u.AvatarURL}
		}
	}
	return out
}
