package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fitparty/models"
	"fitparty/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin_FullPartyAndFreedSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	svc.NewCode = fixedCodes("K7M3PQ")

	party := mustCreate(t, svc, "host-a", CreatePartyInput{MaxParticipants: 2})
	require.Equal(t, "K7M3PQ", party.Code)

	mustJoin(t, svc, "k7m3pq", "user-b")

	_, err := svc.Join(ctx, "K7M3PQ", "user-c")
	require.ErrorIs(t, err, ErrPartyFull)
	assert.Equal(t, KindInvalidState, AsError(err).Kind)

	// an active member joining again is not blocked by the limit
	mustJoin(t, svc, "K7M3PQ", "user-b")

	require.NoError(t, svc.Leave(ctx, "K7M3PQ", "user-b"))
	mustJoin(t, svc, "K7M3PQ", "user-c")

	got, err := svc.GetByCode(ctx, "K7M3PQ")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ActiveCount)
}

func TestJoin_ConcurrentJoinersNeverOverfill(t *testing.T) {
	svc, _ := newTestService(t)
	party := mustCreate(t, svc, "host-a", CreatePartyInput{MaxParticipants: 2})

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Join(context.Background(), party.Code, fmt.Sprintf("user-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	joined, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			joined++
		case errors.Is(err, ErrPartyFull):
			full++
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}
	assert.Equal(t, 1, joined, "one slot next to the host")
	assert.Equal(t, n-1, full)

	got, err := svc.GetByCode(context.Background(), party.Code)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.ActiveCount)
}

func TestJoinAndLeave_LockThePartyRow(t *testing.T) {
	svc, _ := newTestService(t)
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})
	locks := recordLocks(t, svc.DB)

	mustJoin(t, svc, party.Code, "user-b")
	assert.Equal(t, []string{"parties FOR UPDATE"}, locks())
	require.NoError(t, svc.Leave(context.Background(), party.Code, "user-b"))
	assert.Equal(t, []string{"parties FOR UPDATE"}, locks())
}

func TestJoin_IsIdempotentForActiveMembers(t *testing.T) {
	svc, clock := newTestService(t)
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})

	first := mustJoin(t, svc, party.Code, "user-b")
	clock.Advance(time.Minute)
	second := mustJoin(t, svc, party.Code, "user-b")

	assert.True(t, first.JoinedAt.Equal(second.JoinedAt), "joined_at must not move")

	var rows int64
	require.NoError(t, svc.DB.Model(&models.Participant{}).Where("party_id = ?", party.ID).Count(&rows).Error)
	assert.EqualValues(t, 2, rows)
	assert.Equal(t, []string{models.EventJoined, models.EventJoined, models.EventJoined}, eventTypes(feed(t, svc.DB, party.ID)))
}

func TestLeaveAndRejoin_KeepsStats(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()
	testutil.SeedProfile(t, svc.DB, "user-b", "Bea")
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})

	mustJoin(t, svc, party.Code, "user-b")
	mustAppend(t, svc, party.Code, "user-b", models.EventSetCompleted, map[string]int{"weight": 50, "reps": 10})
	mustAppend(t, svc, party.Code, "user-b", models.EventPRAchieved, map[string]string{"exercise": "squat"})

	clock.Advance(time.Minute)
	require.NoError(t, svc.Leave(ctx, party.Code, "user-b"))
	left := participant(t, svc.DB, party.ID, "user-b")
	require.NotNil(t, left.LeftAt)

	clock.Advance(time.Minute)
	back := mustJoin(t, svc, party.Code, "user-b")
	assert.Nil(t, back.LeftAt)
	assert.Equal(t, clock.Now(), back.JoinedAt)
	assert.Equal(t, "Bea", back.UserName)

	stored := participant(t, svc.DB, party.ID, "user-b")
	assert.True(t, stored.IsActive())
	assert.EqualValues(t, 1, stored.TotalSets)
	assert.InDelta(t, 500, stored.TotalVolume, 1e-9)
	assert.EqualValues(t, 1, stored.PRsAchieved)

	events := feed(t, svc.DB, party.ID)
	assert.Equal(t, []string{
		models.EventJoined,
		models.EventJoined,
		models.EventSetCompleted,
		models.EventPRAchieved,
		models.EventLeft,
		models.EventJoined,
	}, eventTypes(events))

	leftData := eventData(t, events[4])
	assert.Equal(t, "Bea", leftData["user_name"])
	rejoin := eventData(t, events[5])
	assert.Equal(t, true, rejoin["rejoined"])
	assert.Equal(t, false, rejoin["is_host"])
}

func TestJoin_UnknownUserGetsDefaultName(t *testing.T) {
	svc, _ := newTestService(t)
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})

	member := mustJoin(t, svc, party.Code, "stranger")
	assert.Equal(t, anonymousName, member.UserName)

	events := feed(t, svc.DB, party.ID)
	assert.Equal(t, anonymousName, eventData(t, events[len(events)-1])["user_name"])
}

func TestJoin_RejectsClosedParties(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	ended := mustCreate(t, svc, "host-a", CreatePartyInput{})
	require.NoError(t, svc.EndParty(ctx, ended.Code, "host-a"))
	_, err := svc.Join(ctx, ended.Code, "user-b")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Join(ctx, "ZZZZZZ", "user-b")
	assert.ErrorIs(t, err, ErrNotFound)

	open := mustCreate(t, svc, "host-b", CreatePartyInput{})
	clock.Advance(DefaultPartyTTL + time.Second)
	_, err = svc.Join(ctx, open.Code, "user-b")
	assert.ErrorIs(t, err, ErrGone)

	_, err = svc.Join(ctx, open.Code, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLeave_RequiresActiveMembership(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})

	err := svc.Leave(ctx, party.Code, "user-b")
	assert.ErrorIs(t, err, ErrNotAParticipant)
	assert.Equal(t, KindForbidden, AsError(err).Kind)

	mustJoin(t, svc, party.Code, "user-b")
	require.NoError(t, svc.Leave(ctx, party.Code, "user-b"))
	assert.ErrorIs(t, svc.Leave(ctx, party.Code, "user-b"), ErrNotAParticipant)
}

func TestLeave_HostMayLeave(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	party := mustCreate(t, svc, "host-a", CreatePartyInput{})

	require.NoError(t, svc.Leave(ctx, party.Code, "host-a"))
	got, err := svc.GetByCode(ctx, party.Code)
	require.NoError(t, err)
	assert.Zero(t, got.ActiveCount)
	assert.Equal(t, models.PartyStatusWaiting, got.Status)
}
