package store

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"sidequests/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) (*QuestStore, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:        func() time.Time { return baseTime },
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return New(db), db
}

func createUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{ID: uuid.New(), Name: name}
	require.NoError(t, db.Create(&u).Error)
	return u
}

type questOpt func(*models.Quest)

func createQuest(t *testing.T, s *QuestStore, host uuid.UUID, opts ...questOpt) *models.Quest {
	t.Helper()
	end := baseTime.Add(48 * time.Hour)
	q := &models.Quest{
		Category:            mustCategory(t, models.CategoryGym),
		Activity:            "Leg day",
		Location:            "Tait McKenzie",
		VibeLevel:           models.DefaultVibe(),
		StartTime:           baseTime.Add(24 * time.Hour),
		EndTime:             &end,
		MaxParticipants:     3,
		CurrentParticipants: 1,
		RequiresApproval:    false,
		Status:              models.QuestOpen,
		HostID:              host,
		CreatedAt:           baseTime,
		UpdatedAt:           baseTime,
	}
	for _, opt := range opts {
		opt(q)
	}
	require.NoError(t, s.CreateQuest(context.Background(), q))
	return q
}

func mustCategory(t *testing.T, kind models.CategoryKind) models.Category {
	t.Helper()
	c, err := models.NewCategory(kind, "")
	require.NoError(t, err)
	return c
}

func TestClaimSlotFillsQuest(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID)
	allowed := []models.QuestStatus{models.QuestOpen}

	ok, err := s.ClaimSlot(ctx, q.ID, allowed, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentParticipants)
	assert.Equal(t, models.QuestOpen, got.Status)

	ok, err = s.ClaimSlot(ctx, q.ID, allowed, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentParticipants)
	assert.Equal(t, models.QuestFull, got.Status)
	assert.Equal(t, "host", got.Host.Name)

	ok, err = s.ClaimSlot(ctx, q.ID, []models.QuestStatus{models.QuestOpen, models.QuestFull}, baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "claim past capacity must not succeed")
	got, err = s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentParticipants)
}

func TestClaimSlotRespectsStatus(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID, func(q *models.Quest) { q.Status = models.QuestCompleted })

	ok, err := s.ClaimSlot(ctx, q.ID, []models.QuestStatus{models.QuestOpen, models.QuestInProgress}, baseTime)
	require.NoError(t, err)
	assert.False(t, ok)

	inProgress := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.Status = models.QuestInProgress
		q.MaxParticipants = 2
	})
	ok, err = s.ClaimSlot(ctx, inProgress.ID, []models.QuestStatus{models.QuestOpen, models.QuestInProgress}, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.GetQuest(ctx, inProgress.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestInProgress, got.Status, "in_progress is kept at capacity")
}

func TestReleaseSlot(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.MaxParticipants = 2
		q.CurrentParticipants = 2
		q.Status = models.QuestFull
	})

	require.NoError(t, s.ReleaseSlot(ctx, q.ID, baseTime))
	got, err := s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentParticipants)
	assert.Equal(t, models.QuestOpen, got.Status)

	require.NoError(t, s.ReleaseSlot(ctx, q.ID, baseTime))
	got, err = s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentParticipants, "host slot is never released")

	assert.ErrorIs(t, s.ReleaseSlot(ctx, uuid.New(), baseTime), ErrNotFound)
}

func TestUpdateQuestDetailsKeepsStoredCounter(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID)

	// q is a snapshot taken before another writer claims a slot.
	stale := *q
	ok, err := s.ClaimSlot(ctx, q.ID, []models.QuestStatus{models.QuestOpen}, baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	stale.Activity = "Arm day"
	stale.MaxParticipants = 2
	ok, err = s.UpdateQuestDetails(ctx, &stale, baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetQuestForUpdate(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Arm day", got.Activity)
	assert.Equal(t, 2, got.CurrentParticipants, "counter comes from the row, not the snapshot")
	assert.Equal(t, models.QuestFull, got.Status, "status follows the stored counter")
	assert.Equal(t, "host", got.Host.Name)

	stale.MaxParticipants = 1
	ok, err = s.UpdateQuestDetails(ctx, &stale, baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "capacity below the stored counter is refused")

	stale.MaxParticipants = 3
	stale.Status = models.QuestInProgress
	ok, err = s.UpdateQuestDetails(ctx, &stale, baseTime)
	require.NoError(t, err)
	require.True(t, ok)
	got, err = s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestInProgress, got.Status)
	assert.Equal(t, 3, got.MaxParticipants)
}

func TestGetQuestNotFound(t *testing.T) {
	s, _ := setupTestStore(t)
	_, err := s.GetQuest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatusGuardsFrom(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID, func(q *models.Quest) { q.Status = models.QuestCancelled })

	changed, err := s.SetStatus(ctx, q.ID, []models.QuestStatus{models.QuestOpen, models.QuestFull}, models.QuestCompleted, baseTime)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestExpireDueIsIdempotent(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	past := baseTime.Add(-time.Minute)

	overdue := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.StartTime = baseTime.Add(-time.Hour)
		q.EndTime = &past
	})
	overdueFull := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.StartTime = baseTime.Add(-time.Hour)
		q.EndTime = &past
		q.Status = models.QuestFull
	})
	cancelled := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.EndTime = &past
		q.Status = models.QuestCancelled
	})
	future := createQuest(t, s, host.ID)

	n, err := s.ExpireDue(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.ExpireDue(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	for id, want := range map[uuid.UUID]models.QuestStatus{
		overdue.ID:     models.QuestCompleted,
		overdueFull.ID: models.QuestCompleted,
		cancelled.ID:   models.QuestCancelled,
		future.ID:      models.QuestOpen,
	} {
		got, err := s.GetQuest(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}

func TestPurgeTerminal(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	guest := createUser(t, db, "guest")
	cutoff := baseTime.Add(-7 * 24 * time.Hour)

	old := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.Status = models.QuestCompleted
		q.UpdatedAt = baseTime.Add(-8 * 24 * time.Hour)
	})
	recent := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.Status = models.QuestCompleted
		q.UpdatedAt = baseTime.Add(-2 * 24 * time.Hour)
	})
	oldCancelled := createQuest(t, s, host.ID, func(q *models.Quest) {
		q.Status = models.QuestCancelled
		q.UpdatedAt = baseTime.Add(-30 * 24 * time.Hour)
	})
	var ancientOpen []*models.Quest
	for _, st := range []models.QuestStatus{models.QuestOpen, models.QuestInProgress, models.QuestFull} {
		st := st
		ancientOpen = append(ancientOpen, createQuest(t, s, host.ID, func(q *models.Quest) {
			q.Status = st
			q.UpdatedAt = baseTime.Add(-365 * 24 * time.Hour)
		}))
	}
	require.NoError(t, s.CreateParticipant(ctx, &models.Participant{
		QuestID: old.ID, UserID: guest.ID, Status: models.ParticipantAccepted,
	}))
	// Pin the ages without touching updated_at hooks.
	require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", old.ID).UpdateColumn("updated_at", baseTime.Add(-8*24*time.Hour)).Error)
	require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", recent.ID).UpdateColumn("updated_at", baseTime.Add(-2*24*time.Hour)).Error)
	require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", oldCancelled.ID).UpdateColumn("updated_at", baseTime.Add(-30*24*time.Hour)).Error)
	for _, q := range ancientOpen {
		require.NoError(t, db.Model(&models.Quest{}).Where("id = ?", q.ID).UpdateColumn("updated_at", baseTime.Add(-365*24*time.Hour)).Error)
	}

	n, err := s.PurgeTerminal(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.GetQuest(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetQuest(ctx, oldCancelled.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetQuest(ctx, recent.ID)
	assert.NoError(t, err)
	for _, q := range ancientOpen {
		_, err := s.GetQuest(ctx, q.ID)
		assert.NoError(t, err, "purge must never delete %s quests", q.Status)
	}

	remaining, err := s.ListParticipants(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestParticipantUniquePerQuestUser(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	guest := createUser(t, db, "guest")
	q := createQuest(t, s, host.ID)

	first := &models.Participant{QuestID: q.ID, UserID: guest.ID, Status: models.ParticipantPending}
	require.NoError(t, s.CreateParticipant(ctx, first))

	err := s.CreateParticipant(ctx, &models.Participant{QuestID: q.ID, UserID: guest.ID, Status: models.ParticipantPending})
	assert.ErrorIs(t, err, ErrDuplicate)

	found, err := s.FindParticipant(ctx, q.ID, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, "guest", found.User.Name)
}

func TestTransitionParticipant(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	guest := createUser(t, db, "guest")
	q := createQuest(t, s, host.ID)
	p := &models.Participant{QuestID: q.ID, UserID: guest.ID, Status: models.ParticipantCancelled, Message: "old"}
	require.NoError(t, s.CreateParticipant(ctx, p))

	msg := "back again"
	ok, err := s.TransitionParticipant(ctx, p.ID, models.ParticipantCancelled, models.ParticipantPending, &msg, baseTime)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.TransitionParticipant(ctx, p.ID, models.ParticipantCancelled, models.ParticipantAccepted, nil, baseTime)
	require.NoError(t, err)
	assert.False(t, ok, "row already left cancelled")

	got, err := s.GetParticipant(ctx, q.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantPending, got.Status)
	assert.Equal(t, "back again", got.Message)

	_, err = s.GetParticipant(ctx, uuid.New(), p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectPendingAndDelete(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID)
	a := createUser(t, db, "a")
	b := createUser(t, db, "b")
	pa := &models.Participant{QuestID: q.ID, UserID: a.ID, Status: models.ParticipantPending}
	pb := &models.Participant{QuestID: q.ID, UserID: b.ID, Status: models.ParticipantAccepted}
	require.NoError(t, s.CreateParticipant(ctx, pa))
	require.NoError(t, s.CreateParticipant(ctx, pb))

	n, err := s.RejectPending(ctx, q.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	accepted, err := s.ListParticipants(ctx, q.ID, models.ParticipantAccepted)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, b.ID, accepted[0].UserID)

	rejected, err := s.CountParticipants(ctx, q.ID, models.ParticipantRejected)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rejected)

	deleted, err := s.DeleteParticipant(ctx, pb.ID, models.ParticipantPending)
	require.NoError(t, err)
	assert.False(t, deleted, "status guard keeps an accepted row")

	deleted, err = s.DeleteParticipant(ctx, pb.ID, models.ParticipantAccepted)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteParticipant(ctx, pb.ID, models.ParticipantAccepted)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTransactionRollsBack(t *testing.T) {
	s, db := setupTestStore(t)
	ctx := context.Background()
	host := createUser(t, db, "host")
	q := createQuest(t, s, host.ID)

	boom := fmt.Errorf("boom")
	err := s.Transaction(ctx, func(tx *QuestStore) error {
		if _, err := tx.ClaimSlot(ctx, q.ID, []models.QuestStatus{models.QuestOpen}, baseTime); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetQuest(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentParticipants)
}
