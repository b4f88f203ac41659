package store

import (
	"context"
	"fmt"
	"time"

	"sidequests/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sort orders accepted by ListQuests.
const (
	SortStartingSoon = "starting_soon"
	SortNewest       = "newest"
	SortMostSpots    = "most_spots"
)

// QuestFilter narrows ListQuests. Zero fields do not filter.
type QuestFilter struct {
	Category *models.CategoryKind
	Vibe     *models.VibeKind
	// Status nil means open quests that have not started yet at Now.
	Status   *models.QuestStatus
	DateFrom *time.Time
	DateTo   *time.Time
	Now      time.Time
	Sort     string
	Offset   int
	Limit    int
}

// Roles accepted by ListUserQuests.
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
	RolePending     = "pending"
	RoleAll         = "all"
)

// ListQuests returns one page of quests matching filter and the total number
// of matches.
func (s *QuestStore) ListQuests(ctx context.Context, filter QuestFilter) ([]models.Quest, int64, error) {
	q := s.conn(ctx).Model(&models.Quest{})

	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	} else {
		q = q.Where("status = ? AND start_time > ?", string(models.QuestOpen), filter.Now)
	}
	if filter.Category != nil {
		q = whereVariant(q, "category", string(*filter.Category))
	}
	if filter.Vibe != nil {
		q = whereVariant(q, "vibe_level", string(*filter.Vibe))
	}
	if filter.DateFrom != nil {
		q = q.Where("start_time >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		q = q.Where("start_time <= ?", *filter.DateTo)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count quests: %w", err)
	}

	switch filter.Sort {
	case SortNewest:
		q = q.Order("created_at DESC")
	case SortMostSpots:
		q = q.Order("(max_participants - current_participants) DESC").Order("start_time ASC")
	default:
		q = q.Order("start_time ASC")
	}

	var quests []models.Quest
	if err := q.Preload("Host").Offset(filter.Offset).Limit(filter.Limit).Find(&quests).Error; err != nil {
		return nil, 0, fmt.Errorf("list quests: %w", err)
	}
	return quests, total, nil
}

// ListUserQuests returns the quests a user hosts or takes part in, newest
// start first. Cancelled quests are left out.
func (s *QuestStore) ListUserQuests(ctx context.Context, userID uuid.UUID, role string, offset, limit int) ([]models.Quest, int64, error) {
	db := s.conn(ctx)
	joined := func(status models.ParticipantStatus) *gorm.DB {
		return db.Model(&models.Participant{}).Select("quest_id").
			Where("user_id = ? AND status = ?", userID, string(status))
	}

	q := db.Model(&models.Quest{}).Where("status <> ?", string(models.QuestCancelled))
	switch role {
	case RoleHost:
		q = q.Where("host_id = ?", userID)
	case RoleParticipant:
		q = q.Where("id IN (?)", joined(models.ParticipantAccepted))
	case RolePending:
		q = q.Where("id IN (?)", joined(models.ParticipantPending))
	default:
		q = q.Where("(host_id = ? OR id IN (?))", userID, joined(models.ParticipantAccepted))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count user quests: %w", err)
	}

	var quests []models.Quest
	err := q.Preload("Host").Order("start_time DESC").Offset(offset).Limit(limit).Find(&quests).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list user quests: %w", err)
	}
	return quests, total, nil
}

func whereVariant(q *gorm.DB, column, kind string) *gorm.DB {
	if kind == "custom" {
		return q.Where(column+" LIKE ?", "custom:%")
	}
	return q.Where(column+" = ?", kind)
}
