package services

import (
	"github.com/google/uuid"
)

// Event types streamed to a quest room.
const (
	EventParticipantRequested = "participant_requested"
	EventParticipantJoined    = "participant_joined"
	EventParticipantAccepted  = "participant_accepted"
	EventParticipantRejected  = "participant_rejected"
	EventParticipantLeft      = "participant_left"
	EventParticipantRemoved   = "participant_removed"
	EventQuestUpdated         = "quest_updated"
	EventQuestCompleted       = "quest_completed"
	EventQuestCancelled       = "quest_cancelled"
)

// EventPublisher receives lifecycle events after the change is committed.
// Publish must not block the caller.
type EventPublisher interface {
	Publish(questID uuid.UUID, eventType string, payload interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(uuid.UUID, string, interface{}) {}

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

// ParticipantGone is the payload of participant_left and participant_removed.
// The hub drops the user's room connections when it sees one.
type ParticipantGone struct {
	ParticipantID uuid.UUID   `json:"participant_id"`
	User          UserMinimal `json:"user"`
}
