package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fitparty/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultRetention keeps completed parties around for the history screens.
	DefaultRetention = 30 * 24 * time.Hour
	purgeBatchSize   = 100
)

// Archiver stores a final copy of a party before it is purged.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// PartyArchive is the document written for a purged party.
type PartyArchive struct {
	Party        models.Party         `json:"party"`
	Participants []models.Participant `json:"participants"`
	Events       []models.PartyEvent  `json:"events"`
	ArchivedAt   time.Time            `json:"archived_at"`
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Expired int64 `json:"expired"`
	Purged  int   `json:"purged"`
}

// SweepService closes parties past their expiry and purges old completed ones. It
// is safe to run concurrently with host actions and with itself.
type SweepService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Retention time.Duration
	Archiver  Archiver
	Now       func() time.Time
	// BatchSize caps how many parties one purge query loads.
	BatchSize int
}

func NewSweepService(db *gorm.DB, log *zap.Logger, retention time.Duration, archiver Archiver) *SweepService {
	if log == nil {
		log = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &SweepService{
		DB:        db,
		Log:       log.Named("sweeper"),
		Retention: retention,
		Archiver:  archiver,
		Now:       time.Now,
		BatchSize: purgeBatchSize,
	}
}

func (s *SweepService) now() time.Time {
	return s.Now().UTC().Truncate(time.Microsecond)
}

// Run expires stale parties, then purges the ones past retention.
func (s *SweepService) Run(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	var err error
	if out.Expired, err = s.ExpireStale(ctx); err != nil {
		return out, err
	}
	if out.Purged, err = s.PurgeCompleted(ctx); err != nil {
		return out, err
	}
	s.Log.Info("sweep finished", zap.Int64("expired", out.Expired), zap.Int("purged", out.Purged))
	return out, nil
}

// ExpireStale force-completes every open party whose expiry has passed. No feed
// event is written for it.
func (s *SweepService) ExpireStale(ctx context.Context) (int64, error) {
	now := s.now()
	res := s.DB.WithContext(ctx).
		Model(&models.Party{}).
		Where("status IN ? AND expires_at < ?", openStatuses, now).
		Updates(map[string]interface{}{
			"status":   models.PartyStatusCompleted,
			"ended_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("expire parties: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.Log.Info("expired stale parties", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// PurgeCompleted deletes completed parties that ended before the retention window,
// together with their participants and events. It walks the candidates in
// (ended_at, id) order and never revisits a row in one run, so parties that keep
// failing to archive cannot crowd out the ones behind them.
func (s *SweepService) PurgeCompleted(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.Retention)
	db := s.DB.WithContext(ctx)
	size := s.BatchSize
	if size <= 0 {
		size = purgeBatchSize
	}
	purged := 0

	var (
		afterEnded *time.Time
		afterID    string
	)
	for {
		q := db.Where("status = ? AND ended_at IS NOT NULL AND ended_at < ?", models.PartyStatusCompleted, cutoff)
		if afterEnded != nil {
			q = q.Where("(ended_at > ? OR (ended_at = ? AND id > ?))", *afterEnded, *afterEnded, afterID)
		}
		var batch []models.Party
		if err := q.Order("ended_at ASC").Order("id ASC").
			Limit(size).
			Find(&batch).Error; err != nil {
			return purged, fmt.Errorf("find parties to purge: %w", err)
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return purged, err
			}
			if err := s.purgeParty(ctx, &batch[i]); err != nil {
				s.Log.Warn("purge skipped party",
					zap.String("party_id", batch[i].ID),
					zap.String("code", batch[i].Code),
					zap.Error(err))
				continue
			}
			purged++
		}

		if len(batch) < size {
			return purged, nil
		}
		last := batch[len(batch)-1]
		afterEnded, afterID = last.EndedAt, last.ID
	}
}

func (s *SweepService) purgeParty(ctx context.Context, party *models.Party) error {
	db := s.DB.WithContext(ctx)

	if s.Archiver != nil {
		doc := PartyArchive{Party: *party, ArchivedAt: s.now()}
		if err := db.Where("party_id = ?", party.ID).Find(&doc.Participants).Error; err != nil {
			return fmt.Errorf("load participants: %w", err)
		}
		if err := db.Where("party_id = ?", party.ID).Order("created_at ASC").Order("id ASC").Find(&doc.Events).Error; err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode archive: %w", err)
		}
		if err := s.Archiver.Archive(ctx, ArchiveKey(party), body); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("party_id = ?", party.ID).Delete(&models.PartyEvent{}).Error; err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		if err := tx.Where("party_id = ?", party.ID).Delete(&models.Participant{}).Error; err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}
		res := tx.Where("id = ? AND status = ?", party.ID, models.PartyStatusCompleted).Delete(&models.Party{})
		if res.Error != nil {
			return fmt.Errorf("delete party: %w", res.Error)
		}
		return nil
	})
}

// ArchiveKey is the object key a purged party is stored under.
func ArchiveKey(p *models.Party) string {
	ended := p.CreatedAt
	if p.EndedAt != nil {
		ended = *p.EndedAt
	}
	return fmt.Sprintf("parties/%s/%s-%s.json", ended.UTC().Format("2006/01"), p.Code, p.ID)
}
