package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantAccepted  ParticipantStatus = "accepted"
	ParticipantRejected  ParticipantStatus = "rejected"
	ParticipantCancelled ParticipantStatus = "cancelled"
)

// Participant is a non-host user's request or membership in a quest.
// There is at most one row per (quest, user); a cancelled row is reused
// when the user joins again.
type Participant struct {
	ID      uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	QuestID uuid.UUID         `json:"quest_id" gorm:"type:uuid;not null;uniqueIndex:idx_participant_quest_user"`
	UserID  uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;uniqueIndex:idx_participant_quest_user;index"`
	Status  ParticipantStatus `json:"status" gorm:"size:16;not null;default:'pending';index"`
	Message string            `json:"message" gorm:"size:500"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	User User `json:"user,omitempty" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Active reports whether the row still blocks a new join request.
func (p *Participant) Active() bool {
	return p.Status != ParticipantCancelled
}
