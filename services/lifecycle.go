package services

import (
	"context"
	"fmt"

	"fitparty/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// legalTransitions lists the host-triggered moves; completed is terminal.
var legalTransitions = map[string][]string{
	models.PartyStatusWaiting: {models.PartyStatusActive, models.PartyStatusCompleted},
	models.PartyStatusActive:  {models.PartyStatusCompleted},
}

// CanTransition reports whether a host may move a party from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the party forward on behalf of its host. StartedAt is stamped the
// first time the party goes active, EndedAt when it completes.
func (s *PartyService) Transition(ctx context.Context, code, hostID, newStatus string) (*models.Party, error) {
	if hostID == "" {
		return nil, ErrUnauthenticated
	}
	if !models.ValidPartyStatus(newStatus) {
		return nil, validationf("unknown status %q", newStatus)
	}
	now := s.now()
	var party *models.Party

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if party, err = loadParty(tx, code, clause.LockingStrengthUpdate); err != nil {
			return err
		}
		if party.IsExpired(now) {
			return ErrGone
		}
		if party.HostID != hostID {
			return ErrForbidden
		}
		if !CanTransition(party.Status, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, party.Status, newStatus)
		}

		updates := map[string]interface{}{"status": newStatus}
		if newStatus == models.PartyStatusActive && party.StartedAt == nil {
			updates["started_at"] = now
			party.StartedAt = &now
		}
		if newStatus == models.PartyStatusCompleted {
			updates["ended_at"] = now
			party.EndedAt = &now
		}
		if err := tx.Model(party).Updates(updates).Error; err != nil {
			return fmt.Errorf("update party status: %w", err)
		}
		party.Status = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	if party.ActiveCount, err = countActive(s.DB.WithContext(ctx), party.ID); err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	s.Log.Info("party status changed",
		zap.String("party_id", party.ID),
		zap.String("code", party.Code),
		zap.String("status", newStatus))
	return party, nil
}

// EndParty completes the party for its host. Ending a party that is already
// completed changes nothing.
func (s *PartyService) EndParty(ctx context.Context, code, hostID string) error {
	if hostID == "" {
		return ErrUnauthenticated
	}
	now := s.now()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, code, clause.LockingStrengthUpdate)
		if err != nil {
			return err
		}
		if party.HostID != hostID {
			return ErrForbidden
		}
		if party.Status == models.PartyStatusCompleted {
			return nil
		}
		if err := tx.Model(party).Updates(map[string]interface{}{
			"status":   models.PartyStatusCompleted,
			"ended_at": now,
		}).Error; err != nil {
			return fmt.Errorf("end party: %w", err)
		}
		s.Log.Info("party ended by host", zap.String("party_id", party.ID), zap.String("code", party.Code))
		return nil
	})
}
