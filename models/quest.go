package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QuestStatus values. Completed and cancelled are terminal.
type QuestStatus string

const (
	QuestOpen       QuestStatus = "open"
	QuestInProgress QuestStatus = "in_progress"
	QuestFull       QuestStatus = "full"
	QuestCompleted  QuestStatus = "completed"
	QuestCancelled  QuestStatus = "cancelled"
)

// Terminal reports whether no capacity-increasing change may happen anymore.
func (s QuestStatus) Terminal() bool {
	return s == QuestCompleted || s == QuestCancelled
}

// Valid reports whether s is a known quest status.
func (s QuestStatus) Valid() bool {
	switch s {
	case QuestOpen, QuestInProgress, QuestFull, QuestCompleted, QuestCancelled:
		return true
	}
	return false
}

// ExpirableStatuses are moved to completed once end_time passes.
var ExpirableStatuses = []string{string(QuestOpen), string(QuestInProgress), string(QuestFull)}

// TerminalStatuses are eligible for purge after the grace period.
var TerminalStatuses = []string{string(QuestCompleted), string(QuestCancelled)}

// Quest is a time-bounded group activity hosted by one user. The host
// occupies one slot, so CurrentParticipants starts at 1.
type Quest struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Category    Category  `json:"-" gorm:"type:varchar(64);not null;index"`
	Activity    string    `json:"activity" gorm:"size:200;not null"`
	Description string    `json:"description"`
	Location    string    `json:"location" gorm:"size:200;not null"`
	Latitude    *float64  `json:"latitude" gorm:"index"`
	Longitude   *float64  `json:"longitude" gorm:"index"`
	VibeLevel   Vibe      `json:"-" gorm:"type:varchar(64);not null"`

	StartTime time.Time  `json:"start_time" gorm:"not null;index"`
	EndTime   *time.Time `json:"end_time" gorm:"index"`

	MaxParticipants     int         `json:"max_participants" gorm:"not null"`
	CurrentParticipants int         `json:"current_participants" gorm:"not null"`
	RequiresApproval    bool        `json:"requires_approval" gorm:"not null"`
	Status              QuestStatus `json:"status" gorm:"size:16;not null;default:'open';index"`

	HostID uuid.UUID `json:"host_id" gorm:"type:uuid;not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`

	// Relationships
	Host         User          `json:"host,omitempty" gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE"`
	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:QuestID;constraint:OnDelete:CASCADE"`
}

func (q *Quest) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

// AtCapacity reports whether every slot, including the host's, is taken.
func (q *Quest) AtCapacity() bool {
	return q.CurrentParticipants >= q.MaxParticipants
}

// IsHost reports whether userID hosts the quest.
func (q *Quest) IsHost(userID uuid.UUID) bool {
	return q.HostID == userID
}

// SpotsLeft is the number of slots still free.
func (q *Quest) SpotsLeft() int {
	if left := q.MaxParticipants - q.CurrentParticipants; left > 0 {
		return left
	}
	return 0
}

// ReconcileStatus flips between open and full to match the counters.
// Other statuses are left untouched.
func (q *Quest) ReconcileStatus() {
	switch q.Status {
	case QuestOpen, QuestFull:
		if q.AtCapacity() {
			q.Status = QuestFull
		} else {
			q.Status = QuestOpen
		}
	}
}
