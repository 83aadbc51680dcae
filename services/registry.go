package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fitparty/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultMaxParticipants = 10
	MinParticipants        = 2
	MaxParticipants        = 50

	DefaultListLimit = 20
	maxListLimit     = 50

	defaultPartyName = "Workout Party"
	maxPartyName     = 100
)

// CreatePartyInput is the optional body of a create request.
type CreatePartyInput struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"max_participants"`
}

// ClampParticipants applies the default and keeps the limit in [2, 50].
func ClampParticipants(n int) int {
	if n == 0 {
		n = DefaultMaxParticipants
	}
	if n < MinParticipants {
		return MinParticipants
	}
	if n > MaxParticipants {
		return MaxParticipants
	}
	return n
}

// partyName trims, NFC-normalizes and caps the display name at maxPartyName runes.
func partyName(raw string) string {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if name == "" {
		return defaultPartyName
	}
	if utf8.RuneCountInString(name) > maxPartyName {
		name = string([]rune(name)[:maxPartyName])
	}
	return name
}

// CreateParty opens a new party with the host as its first participant. A host may
// only run one open party at a time; the conflict carries the existing code. The
// check runs inside the create transaction, and the partial unique index on the
// host's open parties settles two creates racing past it.
func (s *PartyService) CreateParty(ctx context.Context, hostID string, in CreatePartyInput) (*models.Party, error) {
	if hostID == "" {
		return nil, ErrUnauthenticated
	}
	db := s.DB.WithContext(ctx)
	now := s.now()

	if err := closeExpiredHostParties(db, hostID, now); err != nil {
		return nil, err
	}

	name := partyName(in.Name)
	host := lookupProfile(db, hostID)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.NewCode()
		if err != nil {
			return nil, fmt.Errorf("generate party code: %w", err)
		}
		code = NormalizeCode(code)

		var taken int64
		if err := db.Model(&models.Party{}).Where("code = ?", code).Count(&taken).Error; err != nil {
			return nil, fmt.Errorf("check party code: %w", err)
		}
		if taken > 0 {
			s.Log.Warn("party code collision", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}

		party := &models.Party{
			ID:              uuid.NewString(),
			Code:            code,
			Slug:            slug.Make(name),
			HostID:          hostID,
			Name:            name,
			Status:          models.PartyStatusWaiting,
			MaxParticipants: ClampParticipants(in.MaxParticipants),
			CreatedAt:       now,
			UpdatedAt:       now,
			ExpiresAt:       now.Add(s.TTL),
		}

		err = db.Transaction(func(tx *gorm.DB) error {
			existing, err := openPartyOf(tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), hostID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &ConflictError{ExistingCode: existing.Code}
			}

			if err := tx.Create(party).Error; err != nil {
				return err
			}
			if err := tx.Create(&models.Participant{
				PartyID:  party.ID,
				UserID:   hostID,
				JoinedAt: now,
			}).Error; err != nil {
				return err
			}
			_, err = insertEvent(tx, party.ID, hostID, models.EventJoined, map[string]interface{}{
				"user_name":  host.Name,
				"avatar_url": host.AvatarURL,
				"is_host":    true,
			}, now)
			return err
		})
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		if err != nil {
			// a concurrent create for the same host trips the open-party index
			if existing, lookupErr := openPartyOf(db, hostID); lookupErr == nil && existing != nil {
				return nil, &ConflictError{ExistingCode: existing.Code}
			}
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				s.Log.Warn("party code taken on insert", zap.String("code", code), zap.Int("attempt", attempt))
				continue
			}
			return nil, fmt.Errorf("create party: %w", err)
		}

		party.ActiveCount = 1
		s.Log.Info("party created",
			zap.String("party_id", party.ID),
			zap.String("code", party.Code),
			zap.String("host_id", hostID),
			zap.Int("max_participants", party.MaxParticipants))
		return party, nil
	}

	s.Log.Error("party code space exhausted", zap.Int("attempts", maxCodeAttempts))
	return nil, ErrCodeExhausted
}

// closeExpiredHostParties completes the host's parties that expired before the
// sweeper reached them, so they no longer hold the host's open-party slot.
func closeExpiredHostParties(db *gorm.DB, hostID string, now time.Time) error {
	res := db.Model(&models.Party{}).
		Where("host_id = ? AND status IN ? AND expires_at < ?", hostID, openStatuses, now).
		Updates(map[string]interface{}{
			"status":   models.PartyStatusCompleted,
			"ended_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("close expired parties for host %s: %w", hostID, res.Error)
	}
	return nil
}

// openPartyOf returns the host's open party, or nil when there is none.
func openPartyOf(db *gorm.DB, hostID string) (*models.Party, error) {
	var existing models.Party
	err := db.Where("host_id = ? AND status IN ?", hostID, openStatuses).
		Order("created_at DESC").
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check open parties for host %s: %w", hostID, err)
	}
	return &existing, nil
}

// GetByCode looks a party up case-insensitively. Completed parties stay readable;
// parties past expiry that nothing has closed yet are reported as gone.
func (s *PartyService) GetByCode(ctx context.Context, code string) (*models.Party, error) {
	db := s.DB.WithContext(ctx)
	party, err := loadParty(db, code, "")
	if err != nil {
		return nil, err
	}
	if party.IsExpired(s.now()) {
		return nil, ErrGone
	}
	if party.ActiveCount, err = countActive(db, party.ID); err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	return party, nil
}

// ListActive returns open, unexpired parties, newest first.
func (s *PartyService) ListActive(ctx context.Context, limit int) ([]models.Party, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	db := s.DB.WithContext(ctx)

	var parties []models.Party
	if err := db.Where("status IN ? AND expires_at > ?", openStatuses, s.now()).
		Order("created_at DESC").
		Limit(limit).
		Find(&parties).Error; err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	if len(parties) == 0 {
		return parties, nil
	}

	ids := make([]string, len(parties))
	for i := range parties {
		ids[i] = parties[i].ID
	}
	type countRow struct {
		PartyID string
		N       int64
	}
	var rows []countRow
	if err := db.Model(&models.Participant{}).
		Select("party_id, COUNT(*) AS n").
		Where("party_id IN ? AND left_at IS NULL", ids).
		Group("party_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count participants: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.PartyID] = r.N
	}
	for i := range parties {
		parties[i].ActiveCount = counts[parties[i].ID]
	}
	return parties, nil
}
