// workers/profile_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fitparty/models"
	"fitparty/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultProfilesPath is the profile service's change feed.
const DefaultProfilesPath = "/api/v1/public/profiles"

// RemoteProfile matches one entry of the profile service's change feed.
type RemoteProfile struct {
	ExternalID        string    `json:"external_id"`
	Username          string    `json:"username"`
	FirstName         *string   `json:"first_name,omitempty"`
	LastName          *string   `json:"last_name,omitempty"`
	ProfilePictureURL *string   `json:"profile_picture_url,omitempty"`
	AccountStatus     string    `json:"account_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProfileChangesResponse is the top-level structure of the feed.
type ProfileChangesResponse struct {
	Users []RemoteProfile `json:"users"`
}

// ProfileSyncWorker keeps user_profiles in step with the profile service so party
// feeds can show names and avatars.
type ProfileSyncWorker struct {
	db           *gorm.DB
	log          *zap.Logger
	interval     time.Duration
	baseURL      string // e.g. "http://localhost:8500"
	endpointPath string
	serviceToken string
	httpClient   *http.Client
}

func NewProfileSyncWorker(db *gorm.DB, log *zap.Logger, baseURL, serviceToken string, interval time.Duration) *ProfileSyncWorker {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ProfileSyncWorker{
		db:           db,
		log:          log.Named("profile_sync"),
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: DefaultProfilesPath,
		serviceToken: serviceToken,
		httpClient:   utils.HTTPClient,
	}
}

// Run backfills once and then syncs incrementally until ctx is done.
func (w *ProfileSyncWorker) Run(ctx context.Context) error {
	w.log.Info("profile sync worker started", zap.Duration("interval", w.interval))

	if _, err := w.SyncOnce(ctx); err != nil {
		w.log.Warn("initial profile sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				w.log.Error("profile sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("profile sync worker stopped")
			return nil
		}
	}
}

// SyncOnce pulls every change newer than the newest local profile and upserts it.
// It returns how many profiles were written.
func (w *ProfileSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since := w.lastSyncTime(ctx)
	users, err := w.fetch(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		w.log.Debug("no profile changes", zap.Time("since", since))
		return 0, nil
	}

	var upserted, failed int
	for _, remote := range users {
		if remote.ExternalID == "" {
			failed++
			continue
		}
		local := models.UserProfile{
			ExternalUserID: remote.ExternalID,
			Username:       remote.Username,
			DisplayName:    displayName(remote.FirstName, remote.LastName),
			AvatarURL:      remote.ProfilePictureURL,
			CreatedAt:      remote.CreatedAt.UTC(),
			UpdatedAt:      remote.UpdatedAt.UTC(),
		}

		if err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"username", "display_name", "avatar_url", "updated_at",
			}),
		}).Create(&local).Error; err != nil {
			failed++
			w.log.Warn("profile upsert failed",
				zap.String("external_id", remote.ExternalID),
				zap.String("username", remote.Username),
				zap.Error(err))
			continue
		}
		upserted++
	}

	w.log.Info("profiles synced",
		zap.Int("received", len(users)),
		zap.Int("upserted", upserted),
		zap.Int("failed", failed))
	return upserted, nil
}

// lastSyncTime is the newest UpdatedAt already mirrored, or the epoch.
func (w *ProfileSyncWorker) lastSyncTime(ctx context.Context) time.Time {
	var latest models.UserProfile
	err := w.db.WithContext(ctx).Order("updated_at DESC").Limit(1).Find(&latest).Error
	if err != nil || latest.UpdatedAt.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return latest.UpdatedAt
}

func (w *ProfileSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteProfile, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid profile service URL %q: %w", w.baseURL, err)
	}
	endpoint := base.JoinPath(w.endpointPath)
	q := endpoint.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ProfileChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profile changes: %w", err)
	}
	return out.Users, nil
}

func displayName(first, last *string) string {
	var parts []string
	for _, p := range []*string{first, last} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	return strings.Join(parts, " ")
}
