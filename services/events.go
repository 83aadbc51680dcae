package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fitparty/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 200
	maxEventDataBytes = 4 << 10
)

// EventQuery pages through a party's feed. The cursor is the (created_at, id) of
// the last event seen: with AfterID set, events at Since with a larger id are still
// returned, so a page that ends inside a run of same-timestamp events resumes where
// it stopped. Without AfterID, Since is a plain exclusive bound.
type EventQuery struct {
	Since   *time.Time
	AfterID uint64
	Limit   int
}

func (q EventQuery) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultEventLimit
	case q.Limit > MaxEventLimit:
		return MaxEventLimit
	}
	return q.Limit
}

// PartySnapshot is what a polling client receives each cycle.
type PartySnapshot struct {
	Party              *models.Party        `json:"party"`
	Events             []models.PartyEvent  `json:"events"`
	ActiveParticipants []models.Participant `json:"active_participants"`
	ParticipantStats   []models.Participant `json:"participant_stats"`
	Cursor             *time.Time           `json:"cursor,omitempty"`
	CursorID           uint64               `json:"cursor_id,omitempty"`
	ServerTime         time.Time            `json:"server_time"`
}

// AppendEvent records an in-session event for an active participant. The stat
// side effect of set_completed and pr_achieved commits in the same transaction as
// the event row, using in-place increments so concurrent appends cannot lose
// updates. The shared party lock keeps a leave or a transition from committing
// between the membership check and the insert.
func (s *PartyService) AppendEvent(ctx context.Context, code, userID, eventType string, raw json.RawMessage) (*models.PartyEvent, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !models.ValidEventType(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	data, err := decodeEventData(raw)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ev *models.PartyEvent

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, err := loadParty(tx, code, clause.LockingStrengthShare)
		if err != nil {
			return err
		}
		if err := requireOpen(party, now); err != nil {
			return err
		}

		// the member row stays locked until the stats below are bumped
		var members []models.Participant
		if err := tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
			Where("party_id = ? AND user_id = ? AND left_at IS NULL", party.ID, userID).
			Limit(1).
			Find(&members).Error; err != nil {
			return fmt.Errorf("check participant: %w", err)
		}
		if len(members) == 0 {
			return ErrNotAParticipant
		}

		if ev, err = insertEvent(tx, party.ID, userID, eventType, data, now); err != nil {
			return err
		}

		inc := statIncrements(eventType, data)
		if len(inc) == 0 {
			return nil
		}
		res := tx.Model(&models.Participant{}).
			Where("party_id = ? AND user_id = ?", party.ID, userID).
			Updates(inc)
		if res.Error != nil {
			return fmt.Errorf("update participant stats: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("update participant stats: %d rows affected", res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Debug("event appended",
		zap.String("party_id", ev.PartyID),
		zap.String("user_id", userID),
		zap.String("event_type", eventType))
	return ev, nil
}

// statIncrements maps an event to the running-total columns it bumps.
func statIncrements(eventType string, data map[string]interface{}) map[string]interface{} {
	switch eventType {
	case models.EventSetCompleted:
		return map[string]interface{}{
			"total_sets":   gorm.Expr("total_sets + ?", 1),
			"total_volume": gorm.Expr("total_volume + ?", SetVolume(data)),
		}
	case models.EventPRAchieved:
		return map[string]interface{}{
			"prs_achieved": gorm.Expr("prs_achieved + ?", 1),
		}
	}
	return nil
}

// SetVolume is weight × reps from a set_completed payload. Missing, malformed or
// negative values contribute nothing.
func SetVolume(data map[string]interface{}) float64 {
	weight := number(data["weight"])
	reps := number(data["reps"])
	if weight <= 0 || reps <= 0 {
		return 0
	}
	return weight * reps
}

func number(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func decodeEventData(raw json.RawMessage) (map[string]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]interface{}{}, nil
	}
	if len(raw) > maxEventDataBytes {
		return nil, validationf("event_data exceeds %d bytes", maxEventDataBytes)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, validationf("event_data must be a JSON object")
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

// QueryEvents returns a page of the feed in ascending order. With a cursor it walks
// forward from Since; without one it returns the newest page.
func (s *PartyService) QueryEvents(ctx context.Context, partyID string, q EventQuery) ([]models.PartyEvent, error) {
	return queryEvents(s.DB.WithContext(ctx), partyID, q)
}

func queryEvents(db *gorm.DB, partyID string, q EventQuery) ([]models.PartyEvent, error) {
	events := make([]models.PartyEvent, 0)
	tx := db.Where("party_id = ?", partyID).Limit(q.limit())

	if q.Since != nil {
		since := q.Since.UTC()
		if q.AfterID > 0 {
			tx = tx.Where("(created_at > ? OR (created_at = ? AND id > ?))", since, since, q.AfterID)
		} else {
			tx = tx.Where("created_at > ?", since)
		}
		err := tx.Order("created_at ASC").Order("id ASC").
			Find(&events).Error
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		return events, nil
	}

	if err := tx.Order("created_at DESC").Order("id DESC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// Snapshot bundles the feed page, the active roster and the leaderboard.
func (s *PartyService) Snapshot(ctx context.Context, code string, q EventQuery) (*PartySnapshot, error) {
	db := s.DB.WithContext(ctx)
	party, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	events, err := queryEvents(db, party.ID, q)
	if err != nil {
		return nil, err
	}

	var members []models.Participant
	if err := db.Where("party_id = ?", party.ID).
		Order("total_volume DESC").Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	ids := make([]string, len(members))
	for i := range members {
		ids[i] = members[i].UserID
	}
	profiles := lookupProfiles(db, ids)

	snap := &PartySnapshot{
		Party:              party,
		Events:             events,
		ActiveParticipants: make([]models.Participant, 0, len(members)),
		ParticipantStats:   make([]models.Participant, 0, len(members)),
		Cursor:             q.Since,
		CursorID:           q.AfterID,
		ServerTime:         s.now(),
	}
	for _, m := range members {
		p := profiles[m.UserID]
		m.UserName = p.Name
		m.AvatarURL = p.AvatarURL
		snap.ParticipantStats = append(snap.ParticipantStats, m)
		if m.IsActive() {
			snap.ActiveParticipants = append(snap.ActiveParticipants, m)
		}
	}
	if n := len(events); n > 0 {
		last := events[n-1]
		snap.Cursor = &last.CreatedAt
		snap.CursorID = last.ID
	}
	return snap, nil
}
