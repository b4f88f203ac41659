// Package store persists quests and participants and owns the SQL that keeps
// the capacity counters consistent under concurrent writers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sidequests/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a quest or participant id does not resolve.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a (quest, user) participant row already exists.
	ErrDuplicate = errors.New("duplicate record")
)

type QuestStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *QuestStore {
	return &QuestStore{db: db}
}

// Migrate creates or updates the tables owned by the store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Quest{},
		&models.Participant{},
	)
}

// Transaction runs fn against a store bound to a single database
// transaction. Any error returned by fn rolls everything back.
func (s *QuestStore) Transaction(ctx context.Context, fn func(tx *QuestStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&QuestStore{db: tx})
	})
}

func (s *QuestStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

// Users

// EnsureUser inserts user unless a row with its id already exists. An
// existing row is left as it is.
func (s *QuestStore) EnsureUser(ctx context.Context, user *models.User) error {
	err := s.conn(ctx).Where(models.User{ID: user.ID}).
		Attrs(models.User{Name: user.Name, AvatarURL: user.AvatarURL}).
		FirstOrCreate(user).Error
	if err != nil {
		return fmt.Errorf("ensure user: %w", translate(err))
	}
	return nil
}

// Quests

func (s *QuestStore) CreateQuest(ctx context.Context, quest *models.Quest) error {
	if err := s.conn(ctx).Omit(clause.Associations).Create(quest).Error; err != nil {
		return fmt.Errorf("create quest: %w", translate(err))
	}
	return nil
}

// GetQuest loads a quest with its host.
func (s *QuestStore) GetQuest(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	var quest models.Quest
	if err := s.conn(ctx).Preload("Host").Where("id = ?", id).First(&quest).Error; err != nil {
		return nil, translate(err)
	}
	return &quest, nil
}

// GetQuestForUpdate loads a quest like GetQuest and locks its row until the
// surrounding transaction ends. SQLite has no row locks; its single writer
// serializes the transaction instead.
func (s *QuestStore) GetQuestForUpdate(ctx context.Context, id uuid.UUID) (*models.Quest, error) {
	var quest models.Quest
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&quest).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := s.conn(ctx).Where("id = ?", quest.HostID).First(&quest.Host).Error; err != nil {
		return nil, fmt.Errorf("load quest host: %w", translate(err))
	}
	return &quest, nil
}

// UpdateQuestDetails writes the host-editable columns of quest. The
// participant counter is never written. An open or full status is
// recomputed from the stored counter in the same statement; any other
// status is written as given. It reports false when the stored counter
// exceeds the new capacity.
func (s *QuestStore) UpdateQuestDetails(ctx context.Context, quest *models.Quest, now time.Time) (bool, error) {
	var status interface{} = string(quest.Status)
	if quest.Status == models.QuestOpen || quest.Status == models.QuestFull {
		status = gorm.Expr("CASE WHEN current_participants >= ? THEN ? ELSE ? END",
			quest.MaxParticipants, string(models.QuestFull), string(models.QuestOpen))
	}
	res := s.conn(ctx).Model(&models.Quest{}).
		Where("id = ? AND current_participants <= ?", quest.ID, quest.MaxParticipants).
		Updates(map[string]interface{}{
			"activity":          quest.Activity,
			"description":       quest.Description,
			"location":          quest.Location,
			"latitude":          quest.Latitude,
			"longitude":         quest.Longitude,
			"vibe_level":        quest.VibeLevel,
			"start_time":        quest.StartTime,
			"end_time":          quest.EndTime,
			"max_participants":  quest.MaxParticipants,
			"requires_approval": quest.RequiresApproval,
			"status":            status,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("update quest: %w", translate(res.Error))
	}
	return res.RowsAffected == 1, nil
}

// ClaimSlot takes one slot on the quest if it is below capacity and in one
// of the allowed statuses, flipping open to full when the last slot goes.
// The check and the increment are a single UPDATE, so two writers racing
// for the last slot cannot both succeed. It reports whether a slot was taken.
func (s *QuestStore) ClaimSlot(ctx context.Context, questID uuid.UUID, allowed []models.QuestStatus, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Quest{}).
		Where("id = ? AND current_participants < max_participants AND status IN ?", questID, statusStrings(allowed)).
		Updates(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants + 1"),
			"status": gorm.Expr("CASE WHEN status = ? AND current_participants + 1 >= max_participants THEN ? ELSE status END",
				string(models.QuestOpen), string(models.QuestFull)),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim slot: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseSlot gives back one slot, never dropping below the host's, and
// reopens a full quest.
func (s *QuestStore) ReleaseSlot(ctx context.Context, questID uuid.UUID, now time.Time) error {
	res := s.conn(ctx).Model(&models.Quest{}).
		Where("id = ?", questID).
		Updates(map[string]interface{}{
			"current_participants": gorm.Expr("CASE WHEN current_participants > 1 THEN current_participants - 1 ELSE 1 END"),
			"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				string(models.QuestFull), string(models.QuestOpen)),
			"updated_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("release slot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus moves the quest to status when its current status is one of
// from. It reports whether the row changed.
func (s *QuestStore) SetStatus(ctx context.Context, questID uuid.UUID, from []models.QuestStatus, status models.QuestStatus, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Quest{}).
		Where("id = ? AND status IN ?", questID, statusStrings(from)).
		Updates(map[string]interface{}{"status": string(status), "updated_at": now})
	if res.Error != nil {
		return false, fmt.Errorf("set quest status: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Sweep

// ExpireDue completes every non-terminal quest whose end time has passed.
func (s *QuestStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.Quest{}).
		Where("status IN ? AND end_time IS NOT NULL AND end_time <= ?", models.ExpirableStatuses, now).
		Updates(map[string]interface{}{"status": string(models.QuestCompleted), "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("expire quests: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PurgeTerminal hard-deletes completed and cancelled quests last updated at
// or before cutoff, together with their participants.
func (s *QuestStore) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.Transaction(ctx, func(tx *QuestStore) error {
		stale := tx.db.Model(&models.Quest{}).Select("id").
			Where("status IN ? AND updated_at <= ?", models.TerminalStatuses, cutoff)
		if err := tx.db.Where("quest_id IN (?)", stale).Delete(&models.Participant{}).Error; err != nil {
			return fmt.Errorf("purge participants: %w", err)
		}
		res := tx.db.Where("status IN ? AND updated_at <= ?", models.TerminalStatuses, cutoff).Delete(&models.Quest{})
		if res.Error != nil {
			return fmt.Errorf("purge quests: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}

func statusStrings(statuses []models.QuestStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}
