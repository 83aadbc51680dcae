package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"fitparty/models"
	"fitparty/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func newTestService(t *testing.T) (*PartyService, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(testutil.Epoch)
	svc := NewPartyService(testutil.NewDB(t), zap.NewNop(), 0)
	svc.Now = clock.Now
	return svc, clock
}

// fixedCodes hands out seq in order and then keeps repeating the last entry.
func fixedCodes(seq ...string) CodeGenerator {
	i := 0
	return func() (string, error) {
		code := seq[len(seq)-1]
		if i < len(seq) {
			code = seq[i]
		}
		i++
		return code, nil
	}
}

func mustCreate(t *testing.T, svc *PartyService, hostID string, in CreatePartyInput) *models.Party {
	t.Helper()
	party, err := svc.CreateParty(context.Background(), hostID, in)
	require.NoError(t, err)
	return party
}

func mustJoin(t *testing.T, svc *PartyService, code, userID string) *models.Participant {
	t.Helper()
	p, err := svc.Join(context.Background(), code, userID)
	require.NoError(t, err)
	return p
}

func mustAppend(t *testing.T, svc *PartyService, code, userID, eventType string, data interface{}) *models.PartyEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	ev, err := svc.AppendEvent(context.Background(), code, userID, eventType, raw)
	require.NoError(t, err)
	return ev
}

func participant(t *testing.T, db *gorm.DB, partyID, userID string) models.Participant {
	t.Helper()
	var p models.Participant
	require.NoError(t, db.Where("party_id = ? AND user_id = ?", partyID, userID).First(&p).Error)
	return p
}

func feed(t *testing.T, db *gorm.DB, partyID string) []models.PartyEvent {
	t.Helper()
	var events []models.PartyEvent
	require.NoError(t, db.Where("party_id = ?", partyID).Order("created_at ASC").Order("id ASC").Find(&events).Error)
	return events
}

func eventTypes(events []models.PartyEvent) []string {
	out := make([]string, len(events))
	for i := range events {
		out[i] = events[i].EventType
	}
	return out
}

func eventData(t *testing.T, ev models.PartyEvent) map[string]interface{} {
	t.Helper()
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(ev.EventData, &data))
	return data
}

// recordLocks captures the row locks queries ask for as "table FOR strength". SQLite
// drops the clause from the SQL, so this is how tests see what Postgres would lock.
func recordLocks(t *testing.T, db *gorm.DB) func() []string {
	t.Helper()
	var (
		mu    sync.Mutex
		locks []string
	)
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:record_locks", func(tx *gorm.DB) {
		c, ok := tx.Statement.Clauses["FOR"]
		if !ok {
			return
		}
		if l, ok := c.Expression.(clause.Locking); ok {
			mu.Lock()
			locks = append(locks, tx.Statement.Table+" FOR "+l.Strength)
			mu.Unlock()
		}
	}))
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := locks
		locks = nil
		return out
	}
}
