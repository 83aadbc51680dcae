package services

import (
	"context"
	"time"

	"fitparty/models"

	"go.uber.org/zap"
)

// DefaultFollowInterval is how often push streams poll the feed.
const DefaultFollowInterval = 2 * time.Second

// Follow pushes a party's feed to emit: first the newest page (or everything after
// the from cursor), then each new batch as it lands. from.Limit is ignored. emit is called on every tick, with an
// empty batch when nothing new arrived, so callers can write keepalives. Query
// errors are logged and retried on the next tick. It returns when ctx is done or
// emit fails, which is how a disconnected client ends the loop.
func (s *PartyService) Follow(ctx context.Context, partyID string, from EventQuery, interval time.Duration, emit func([]models.PartyEvent) error) error {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	db := s.DB.WithContext(ctx)
	cursor := EventQuery{Since: from.Since, AfterID: from.AfterID, Limit: MaxEventLimit}

	poll := func() error {
		events, err := queryEvents(db, partyID, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.Log.Warn("feed poll failed", zap.String("party_id", partyID), zap.Error(err))
			events = nil
		}
		if n := len(events); n > 0 {
			last := events[n-1]
			cursor.Since = &last.CreatedAt
			cursor.AfterID = last.ID
		}
		return emit(events)
	}

	if err := poll(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}
