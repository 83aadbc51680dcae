package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fitparty/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPartyTTL is how long a party stays joinable before the sweeper closes it.
const DefaultPartyTTL = 4 * time.Hour

var openStatuses = []string{models.PartyStatusWaiting, models.PartyStatusActive}

// PartyService owns the party registry, membership, the event log and the host
// lifecycle. All state lives in the database; the service itself is stateless.
type PartyService struct {
	DB      *gorm.DB
	Log     *zap.Logger
	TTL     time.Duration
	Now     func() time.Time
	NewCode CodeGenerator
}

func NewPartyService(db *gorm.DB, log *zap.Logger, ttl time.Duration) *PartyService {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultPartyTTL
	}
	return &PartyService{
		DB:      db,
		Log:     log.Named("party"),
		TTL:     ttl,
		Now:     time.Now,
		NewCode: GenerateCode,
	}
}

// now is truncated to microseconds so stored and compared timestamps agree with
// Postgres precision.
func (s *PartyService) now() time.Time {
	return s.Now().UTC().Truncate(time.Microsecond)
}

// loadParty fetches a party by code. A non-empty lock strength holds the row until
// the surrounding transaction ends: joins, leaves and status changes take it FOR
// UPDATE, event appends FOR SHARE, so appends run alongside each other but never
// across a leave or a transition.
func loadParty(tx *gorm.DB, code string, lock string) (*models.Party, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, code)
	}
	q := tx
	if lock != "" {
		q = q.Clauses(clause.Locking{Strength: lock})
	}
	var party models.Party
	if err := q.Where("code = ?", code).First(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, code)
		}
		return nil, fmt.Errorf("load party %s: %w", code, err)
	}
	return &party, nil
}

// requireOpen rejects expired and completed parties.
func requireOpen(p *models.Party, now time.Time) error {
	if p.IsExpired(now) {
		return ErrGone
	}
	if !p.IsOpen() {
		return ErrInvalidState
	}
	return nil
}

func countActive(tx *gorm.DB, partyID string) (int64, error) {
	var n int64
	err := tx.Model(&models.Participant{}).
		Where("party_id = ? AND left_at IS NULL", partyID).
		Count(&n).Error
	return n, err
}

func insertEvent(tx *gorm.DB, partyID, userID, eventType string, data interface{}, at time.Time) (*models.PartyEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	ev := &models.PartyEvent{
		PartyID:   partyID,
		UserID:    userID,
		EventType: eventType,
		EventData: datatypes.JSON(payload),
		CreatedAt: at,
	}
	if err := tx.Create(ev).Error; err != nil {
		return nil, fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return ev, nil
}
