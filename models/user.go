package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal identity record owned by the accounts subsystem.
// Quest code inserts a row only for a caller the table does not know yet
// and never overwrites one.
type User struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	AvatarURL string    `json:"avatar_url" gorm:"size:512"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
