package services

import (
	"time"

	"sidequests/models"

	"github.com/google/uuid"
)

type CreateQuestRequest struct {
	Category         string     `json:"category" binding:"required,oneof=gym food game commute study custom"`
	CustomCategory   string     `json:"custom_category" binding:"max=50"`
	Activity         string     `json:"activity" binding:"required,min=3,max=200"`
	Description      string     `json:"description" binding:"max=1000"`
	StartTime        time.Time  `json:"start_time" binding:"required"`
	EndTime          *time.Time `json:"end_time"`
	Location         string     `json:"location" binding:"required,min=2,max=200"`
	Latitude         *float64   `json:"latitude" binding:"omitempty,gte=-90,lte=90"`
	Longitude        *float64   `json:"longitude" binding:"omitempty,gte=-180,lte=180"`
	VibeLevel        string     `json:"vibe_level" binding:"omitempty,oneof=chill intermediate high_energy intense custom"`
	CustomVibeLevel  string     `json:"custom_vibe_level" binding:"max=50"`
	MaxParticipants  *int       `json:"max_participants"`
	RequiresApproval *bool      `json:"requires_approval"`
}

// UpdateQuestRequest is a partial update. Nil fields are left unchanged.
type UpdateQuestRequest struct {
	Activity         *string    `json:"activity" binding:"omitempty,min=3,max=200"`
	Description      *string    `json:"description" binding:"omitempty,max=1000"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Location         *string    `json:"location" binding:"omitempty,min=2,max=200"`
	Latitude         *float64   `json:"latitude" binding:"omitempty,gte=-90,lte=90"`
	Longitude        *float64   `json:"longitude" binding:"omitempty,gte=-180,lte=180"`
	VibeLevel        *string    `json:"vibe_level" binding:"omitempty,oneof=chill intermediate high_energy intense custom"`
	CustomVibeLevel  *string    `json:"custom_vibe_level" binding:"omitempty,max=50"`
	MaxParticipants  *int       `json:"max_participants"`
	RequiresApproval *bool      `json:"requires_approval"`
	Status           *string    `json:"status" binding:"omitempty,oneof=open in_progress full completed cancelled"`
}

type JoinQuestRequest struct {
	Message string `json:"message" binding:"max=500"`
}

type ParticipantActionRequest struct {
	Action string `json:"action" binding:"required,oneof=accept reject"`
}

// ListQuestsRequest carries the query string of the public quest feed.
type ListQuestsRequest struct {
	Category string     `form:"category" binding:"omitempty,oneof=gym food game commute study custom"`
	Vibe     string     `form:"vibe_level" binding:"omitempty,oneof=chill intermediate high_energy intense custom"`
	Status   string     `form:"status" binding:"omitempty,oneof=open in_progress full completed cancelled"`
	DateFrom *time.Time `form:"date_from" time_format:"2006-01-02T15:04:05Z07:00"`
	DateTo   *time.Time `form:"date_to" time_format:"2006-01-02T15:04:05Z07:00"`
	Sort     string     `form:"sort" binding:"omitempty,oneof=newest starting_soon most_spots"`
	Page     int        `form:"page" binding:"omitempty,min=1"`
	PerPage  int        `form:"per_page" binding:"omitempty,min=1,max=50"`
}

type MyQuestsRequest struct {
	Role    string `form:"role" binding:"omitempty,oneof=host participant pending all"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=50"`
}

const (
	defaultPerPage = 20
	maxPerPage     = 50
)

func pageBounds(page, perPage int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	return page, perPage, (page - 1) * perPage
}

// Responses

type UserMinimal struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url"`
}

type QuestResponse struct {
	ID                  uuid.UUID   `json:"id"`
	Category            string      `json:"category"`
	CustomCategory      *string     `json:"custom_category"`
	Activity            string      `json:"activity"`
	Description         *string     `json:"description"`
	StartTime           time.Time   `json:"start_time"`
	EndTime             *time.Time  `json:"end_time"`
	Location            string      `json:"location"`
	Latitude            *float64    `json:"latitude"`
	Longitude           *float64    `json:"longitude"`
	VibeLevel           string      `json:"vibe_level"`
	CustomVibeLevel     *string     `json:"custom_vibe_level"`
	MaxParticipants     int         `json:"max_participants"`
	CurrentParticipants int         `json:"current_participants"`
	SpotsLeft           int         `json:"spots_left"`
	RequiresApproval    bool        `json:"requires_approval"`
	Status              string      `json:"status"`
	Host                UserMinimal `json:"host"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

type QuestListResponse struct {
	Items   []QuestResponse `json:"items"`
	Total   int64           `json:"total"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	HasMore bool            `json:"has_more"`
}

type ParticipantResponse struct {
	ID        uuid.UUID   `json:"id"`
	User      UserMinimal `json:"user"`
	Status    string      `json:"status"`
	Message   *string     `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

type ParticipantListResponse struct {
	Items []ParticipantResponse `json:"items"`
	Total int                   `json:"total"`
}

// RosterResponse lists who may take part in the quest's group chat.
type RosterResponse struct {
	QuestID uuid.UUID     `json:"quest_id"`
	Host    UserMinimal   `json:"host"`
	Members []UserMinimal `json:"members"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func NewUserMinimal(u models.User) UserMinimal {
	return UserMinimal{ID: u.ID, Name: u.Name, AvatarURL: optional(u.AvatarURL)}
}

func NewQuestResponse(q *models.Quest) QuestResponse {
	return QuestResponse{
		ID:                  q.ID,
		Category:            string(q.Category.Kind()),
		CustomCategory:      optional(q.Category.Label()),
		Activity:            q.Activity,
		Description:         optional(q.Description),
		StartTime:           q.StartTime,
		EndTime:             q.EndTime,
		Location:            q.Location,
		Latitude:            q.Latitude,
		Longitude:           q.Longitude,
		VibeLevel:           string(q.VibeLevel.Kind()),
		CustomVibeLevel:     optional(q.VibeLevel.Label()),
		MaxParticipants:     q.MaxParticipants,
		CurrentParticipants: q.CurrentParticipants,
		SpotsLeft:           q.SpotsLeft(),
		RequiresApproval:    q.RequiresApproval,
		Status:              string(q.Status),
		Host:                NewUserMinimal(q.Host),
		CreatedAt:           q.CreatedAt,
		UpdatedAt:           q.UpdatedAt,
	}
}

func NewParticipantResponse(p *models.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:        p.ID,
		User:      NewUserMinimal(p.User),
		Status:    string(p.Status),
		Message:   optional(p.Message),
		CreatedAt: p.CreatedAt,
	}
}
