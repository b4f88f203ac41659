package store

import (
	"context"
	"fmt"
	"time"

	"sidequests/models"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

func (s *QuestStore) CreateParticipant(ctx context.Context, p *models.Participant) error {
	if err := s.conn(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("create participant: %w", translate(err))
	}
	return nil
}

// FindParticipant returns the row for (quest, user), whatever its status.
func (s *QuestStore) FindParticipant(ctx context.Context, questID, userID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	err := s.conn(ctx).Preload("User").
		Where("quest_id = ? AND user_id = ?", questID, userID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// GetParticipant loads a participant by id, scoped to its quest.
func (s *QuestStore) GetParticipant(ctx context.Context, questID, participantID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	err := s.conn(ctx).Preload("User").
		Where("id = ? AND quest_id = ?", participantID, questID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// TransitionParticipant moves a participant from one status to another.
// A non-nil message replaces the stored one. It reports false when the row
// was no longer in status from.
func (s *QuestStore) TransitionParticipant(ctx context.Context, id uuid.UUID, from, to models.ParticipantStatus, message *string, now time.Time) (bool, error) {
	values := map[string]interface{}{"status": string(to), "updated_at": now}
	if message != nil {
		values["message"] = *message
	}
	res := s.conn(ctx).Model(&models.Participant{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("update participant: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetParticipantForUpdate loads a participant like GetParticipant and locks
// its row until the surrounding transaction ends.
func (s *QuestStore) GetParticipantForUpdate(ctx context.Context, questID, participantID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	err := s.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND quest_id = ?", participantID, questID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := s.conn(ctx).Where("id = ?", p.UserID).First(&p.User).Error; err != nil {
		return nil, fmt.Errorf("load participant user: %w", translate(err))
	}
	return &p, nil
}

// DeleteParticipant deletes the participant only while it is still in
// status. It reports false when the row is gone or has moved on.
func (s *QuestStore) DeleteParticipant(ctx context.Context, id uuid.UUID, status models.ParticipantStatus) (bool, error) {
	res := s.conn(ctx).Where("id = ? AND status = ?", id, string(status)).Delete(&models.Participant{})
	if res.Error != nil {
		return false, fmt.Errorf("delete participant: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RejectPending rejects every pending request of a quest.
func (s *QuestStore) RejectPending(ctx context.Context, questID uuid.UUID, now time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.Participant{}).
		Where("quest_id = ? AND status = ?", questID, string(models.ParticipantPending)).
		Updates(map[string]interface{}{"status": string(models.ParticipantRejected), "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("reject pending participants: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListParticipants returns the participants of a quest, oldest first. With
// statuses set, only rows in those statuses are returned.
func (s *QuestStore) ListParticipants(ctx context.Context, questID uuid.UUID, statuses ...models.ParticipantStatus) ([]models.Participant, error) {
	q := s.conn(ctx).Preload("User").Where("quest_id = ?", questID)
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}
	var participants []models.Participant
	if err := q.Order("created_at ASC").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// CountParticipants counts the rows of a quest in the given status.
func (s *QuestStore) CountParticipants(ctx context.Context, questID uuid.UUID, status models.ParticipantStatus) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&models.Participant{}).
		Where("quest_id = ? AND status = ?", questID, string(status)).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return n, nil
}
