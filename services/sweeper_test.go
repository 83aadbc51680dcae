package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fitparty/models"
	"fitparty/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	// failing rejects keys containing any of these party codes
	failing []string
}

func (a *memArchiver) Archive(_ context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	for _, code := range a.failing {
		if strings.Contains(key, code) {
			return errors.New("upload rejected")
		}
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[key] = body
	return nil
}

func newTestSweeper(svc *PartyService, clock *testutil.Clock, archiver Archiver) *SweepService {
	sw := NewSweepService(svc.DB, zap.NewNop(), 0, archiver)
	sw.Now = clock.Now
	return sw
}

func countRows(t *testing.T, svc *PartyService, model interface{}, partyCol, partyID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, svc.DB.Model(model).Where(partyCol+" = ?", partyID).Count(&n).Error)
	return n
}

func TestExpireStale(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	sw := newTestSweeper(svc, clock, nil)

	stale := mustCreate(t, svc, "host-a", CreatePartyInput{})
	_, err := svc.Transition(ctx, stale.Code, "host-a", models.PartyStatusActive)
	require.NoError(t, err)
	clock.Advance(3 * time.Hour)
	fresh := mustCreate(t, svc, "host-b", CreatePartyInput{})
	clock.Advance(90 * time.Minute)
	eventsBefore := countRows(t, svc, &models.PartyEvent{}, "party_id", stale.ID)

	n, err := sw.ExpireStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var got models.Party
	require.NoError(t, svc.DB.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, models.PartyStatusCompleted, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, got.EndedAt.Equal(clock.Now()))
	assert.Equal(t, eventsBefore, countRows(t, svc, &models.PartyEvent{}, "party_id", stale.ID))

	still, err := svc.GetByCode(ctx, fresh.Code)
	require.NoError(t, err)
	assert.Equal(t, models.PartyStatusWaiting, still.Status)

	n, err = sw.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the expired party reads as completed now, and the host is free again
	_, err = svc.GetByCode(ctx, stale.Code)
	require.NoError(t, err)
	mustCreate(t, svc, "host-a", CreatePartyInput{})
}

func TestPurgeCompleted_ArchivesThenDeletes(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	archive := &memArchiver{}
	sw := newTestSweeper(svc, clock, archive)

	old := mustCreate(t, svc, "host-a", CreatePartyInput{Name: "old"})
	mustJoin(t, svc, old.Code, "user-b")
	mustAppend(t, svc, old.Code, "user-b", models.EventSetCompleted, map[string]int{"weight": 40, "reps": 8})
	require.NoError(t, svc.EndParty(ctx, old.Code, "host-a"))

	clock.Advance(DefaultRetention - 24*time.Hour)
	recent := mustCreate(t, svc, "host-b", CreatePartyInput{Name: "recent"})
	require.NoError(t, svc.EndParty(ctx, recent.Code, "host-b"))
	open := mustCreate(t, svc, "host-c", CreatePartyInput{Name: "open"})

	clock.Advance(48 * time.Hour)
	purged, err := sw.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	assert.Zero(t, countRows(t, svc, &models.Party{}, "id", old.ID))
	assert.Zero(t, countRows(t, svc, &models.Participant{}, "party_id", old.ID))
	assert.Zero(t, countRows(t, svc, &models.PartyEvent{}, "party_id", old.ID))
	assert.EqualValues(t, 1, countRows(t, svc, &models.Party{}, "id", recent.ID))
	assert.EqualValues(t, 1, countRows(t, svc, &models.Party{}, "id", open.ID))

	old.EndedAt = &testutil.Epoch
	body, ok := archive.objects[ArchiveKey(old)]
	require.True(t, ok, "archive written under %s", ArchiveKey(old))
	var doc PartyArchive
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, old.Code, doc.Party.Code)
	assert.Len(t, doc.Participants, 2)
	assert.Equal(t, []string{models.EventJoined, models.EventJoined, models.EventSetCompleted}, eventTypes(doc.Events))
}

func TestPurgeCompleted_ArchiveFailureKeepsParty(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	sw := newTestSweeper(svc, clock, &memArchiver{err: errors.New("bucket unavailable")})

	party := mustCreate(t, svc, "host-a", CreatePartyInput{})
	require.NoError(t, svc.EndParty(ctx, party.Code, "host-a"))
	clock.Advance(DefaultRetention + time.Hour)

	purged, err := sw.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
	assert.EqualValues(t, 1, countRows(t, svc, &models.Party{}, "id", party.ID))
	assert.EqualValues(t, 1, countRows(t, svc, &models.PartyEvent{}, "party_id", party.ID))
}

func TestPurgeCompleted_FailingPartiesDoNotStarveTheRest(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	archive := &memArchiver{}
	sw := newTestSweeper(svc, clock, archive)
	sw.BatchSize = 2

	var parties []*models.Party
	for i := 0; i < 5; i++ {
		p := mustCreate(t, svc, "host-a", CreatePartyInput{})
		require.NoError(t, svc.EndParty(ctx, p.Code, "host-a"))
		parties = append(parties, p)
		clock.Advance(time.Minute)
	}
	// the two oldest fill the first batch and keep failing
	archive.failing = []string{parties[0].Code, parties[1].Code}
	clock.Advance(DefaultRetention)

	purged, err := sw.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, purged)
	for i, p := range parties {
		want := int64(0)
		if i < 2 {
			want = 1
		}
		assert.Equal(t, want, countRows(t, svc, &models.Party{}, "id", p.ID), "party %d", i)
	}

	// the next run still gets nowhere with them, and does not loop
	purged, err = sw.PurgeCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestSweepRun(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	sw := newTestSweeper(svc, clock, nil)

	mustCreate(t, svc, "host-a", CreatePartyInput{})
	clock.Advance(DefaultPartyTTL + time.Minute)

	res, err := sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 1, Purged: 0}, res)

	clock.Advance(DefaultRetention + time.Minute)
	res, err = sw.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Expired: 0, Purged: 1}, res)
}

func TestArchiveKey(t *testing.T) {
	ended := time.Date(2026, time.July, 4, 9, 30, 0, 0, time.UTC)
	p := &models.Party{ID: "0b7e", Code: "K7M3PQ", CreatedAt: testutil.Epoch, EndedAt: &ended}
	assert.Equal(t, "parties/2026/07/K7M3PQ-0b7e.json", ArchiveKey(p))

	p.EndedAt = nil
	assert.Equal(t, "parties/2026/03/K7M3PQ-0b7e.json", ArchiveKey(p))
}
