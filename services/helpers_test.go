package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"sidequests/clock"
	"sidequests/models"
	"sidequests/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type publishedEvent struct {
	QuestID uuid.UUID
	Type    string
	Payload interface{}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (r *eventRecorder) Publish(questID uuid.UUID, eventType string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, publishedEvent{QuestID: questID, Type: eventType, Payload: payload})
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) last() publishedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type testEnv struct {
	db           *gorm.DB
	store        *store.QuestStore
	clock        *clock.FakeClock
	events       *eventRecorder
	quests       *QuestService
	participants *ParticipantService
	logger       *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clk := clock.Fake(testStart)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:        clk.Now,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, store.Migrate(db))

	st := store.New(db)
	events := &eventRecorder{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := Options{
		Events:          events,
		Logger:          log,
		DefaultDuration: 7 * 24 * time.Hour,
		StartTimeSkew:   30 * time.Second,
	}
	return &testEnv{
		db:           db,
		store:        st,
		clock:        clk,
		events:       events,
		quests:       NewQuestService(st, clk, opts),
		participants: NewParticipantService(st, clk, opts),
		logger:       log,
	}
}

func (e *testEnv) user(t *testing.T, name string) Principal {
	t.Helper()
	u := models.User{ID: uuid.New(), Name: name}
	require.NoError(t, e.db.Create(&u).Error)
	return Principal{UserID: u.ID, Verified: true}
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func (e *testEnv) questRequest(capacity int, approval bool) *CreateQuestRequest {
	return &CreateQuestRequest{
		Category:         "gym",
		Activity:         "Leg day",
		Location:         "Tait McKenzie",
		StartTime:        e.clock.Now().Add(24 * time.Hour),
		MaxParticipants:  intPtr(capacity),
		RequiresApproval: boolPtr(approval),
	}
}

func (e *testEnv) quest(t *testing.T, host Principal, capacity int, approval bool) *models.Quest {
	t.Helper()
	q, err := e.quests.CreateQuest(context.Background(), host, e.questRequest(capacity, approval))
	require.NoError(t, err)
	return q
}

func (e *testEnv) reload(t *testing.T, questID uuid.UUID) *models.Quest {
	t.Helper()
	q, err := e.store.GetQuest(context.Background(), questID)
	require.NoError(t, err)
	return q
}

// checkInvariants asserts the capacity rules that must hold after every
// mutation.
func (e *testEnv) checkInvariants(t *testing.T, questID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	q := e.reload(t, questID)
	accepted, err := e.store.CountParticipants(ctx, questID, models.ParticipantAccepted)
	require.NoError(t, err)

	require.Equal(t, int(accepted)+1, q.CurrentParticipants, "counter must equal host plus accepted")
	require.GreaterOrEqual(t, q.CurrentParticipants, 1)
	require.LessOrEqual(t, q.CurrentParticipants, q.MaxParticipants)
	if q.Status == models.QuestOpen || q.Status == models.QuestFull {
		require.Equal(t, q.AtCapacity(), q.Status == models.QuestFull, "full iff at capacity")
	}
}
