package services

import (
	"context"
	"fmt"

	"fitparty/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Join admits userID into the party, or brings a former participant back. A rejoin
// only clears LeftAt and refreshes JoinedAt; the running totals carry over. Every
// call appends a joined event so the feed shows each (re)join.
func (s *PartyService) Join(ctx context.Context, code, userID string) (*models.Participant, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	now := s.now()
	var member models.Participant

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, code, clause.LockingStrengthUpdate)
		if err != nil {
			return err
		}
		if err := requireOpen(party, now); err != nil {
			return err
		}

		var existing []models.Participant
		if err := tx.Where("party_id = ? AND user_id = ?", party.ID, userID).
			Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("load participant: %w", err)
		}
		alreadyActive := len(existing) == 1 && existing[0].IsActive()

		if !alreadyActive {
			active, err := countActive(tx, party.ID)
			if err != nil {
				return fmt.Errorf("count participants: %w", err)
			}
			if active >= int64(party.MaxParticipants) {
				return ErrPartyFull
			}
		}

		rejoined := false
		switch {
		case len(existing) == 0:
			member = models.Participant{PartyID: party.ID, UserID: userID, JoinedAt: now}
			if err := tx.Create(&member).Error; err != nil {
				return fmt.Errorf("create participant: %w", err)
			}
		case alreadyActive:
			member = existing[0]
		default:
			rejoined = true
			member = existing[0]
			if err := tx.Model(&models.Participant{}).
				Where("party_id = ? AND user_id = ?", party.ID, userID).
				Updates(map[string]interface{}{"left_at": nil, "joined_at": now}).Error; err != nil {
				return fmt.Errorf("reactivate participant: %w", err)
			}
			member.LeftAt = nil
			member.JoinedAt = now
		}

		profile := lookupProfile(tx, userID)
		member.UserName = profile.Name
		member.AvatarURL = profile.AvatarURL
		_, err = insertEvent(tx, party.ID, userID, models.EventJoined, map[string]interface{}{
			"user_name":  profile.Name,
			"avatar_url": profile.AvatarURL,
			"is_host":    party.HostID == userID,
			"rejoined":   rejoined,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("participant joined",
		zap.String("party_id", member.PartyID),
		zap.String("user_id", userID))
	return &member, nil
}

// Leave soft-removes an active participant; the row and its stats stay for the
// final leaderboard.
func (s *PartyService) Leave(ctx context.Context, code, userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	now := s.now()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, code, clause.LockingStrengthUpdate)
		if err != nil {
			return err
		}
		if err := requireOpen(party, now); err != nil {
			return err
		}

		res := tx.Model(&models.Participant{}).
			Where("party_id = ? AND user_id = ? AND left_at IS NULL", party.ID, userID).
			Update("left_at", now)
		if res.Error != nil {
			return fmt.Errorf("mark participant left: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotAParticipant
		}

		profile := lookupProfile(tx, userID)
		_, err = insertEvent(tx, party.ID, userID, models.EventLeft, map[string]interface{}{
			"user_name": profile.Name,
		}, now)
		return err
	})
	if err != nil {
		return err
	}

	s.Log.Info("participant left", zap.String("code", NormalizeCode(code)), zap.String("user_id", userID))
	return nil
}
