package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"sidequests/clock"
	"sidequests/models"
	"sidequests/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// removeAttempts bounds how often RemoveParticipant re-reads a row whose
// status changed under it.
const removeAttempts = 3

// ParticipantService runs the join/approve/leave state machine. Every
// operation reads and writes the quest counters inside one transaction, and
// slot claims are conditional updates, so concurrent joins cannot overfill
// a quest.
type ParticipantService struct {
	store    *store.QuestStore
	clock    clock.Clock
	validate *validator.Validate
	events   EventPublisher
	log      *slog.Logger
}

func NewParticipantService(st *store.QuestStore, clk clock.Clock, opts Options) *ParticipantService {
	opts = opts.withDefaults()
	return &ParticipantService{
		store:    st,
		clock:    clk,
		validate: newValidator(),
		events:   opts.Events,
		log:      opts.Logger.With("component", "participants"),
	}
}

// JoinQuest files a join request. Without host approval the request is
// accepted at once and takes a slot. A user who left earlier rejoins through
// their old row.
func (s *ParticipantService) JoinQuest(ctx context.Context, user Principal, questID uuid.UUID, req *JoinQuestRequest) (*models.Participant, error) {
	if !user.Verified {
		return nil, ErrNotVerified
	}
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	var participantID uuid.UUID
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		quest, err := tx.GetQuest(ctx, questID)
		if err != nil {
			return questErr(err)
		}
		if err := tx.EnsureUser(ctx, user.record()); err != nil {
			return err
		}
		if quest.IsHost(user.UserID) {
			return ErrCannotJoinOwnQuest
		}
		switch quest.Status {
		case models.QuestOpen:
		case models.QuestFull:
			return ErrQuestFull
		default:
			return ErrQuestNotOpen
		}

		existing, err := tx.FindParticipant(ctx, questID, user.UserID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			existing = nil
		case err != nil:
			return err
		case existing.Active():
			return ErrAlreadyRequested
		}

		if quest.AtCapacity() {
			return ErrQuestFull
		}
		status := models.ParticipantPending
		if !quest.RequiresApproval {
			status = models.ParticipantAccepted
			claimed, err := tx.ClaimSlot(ctx, questID, []models.QuestStatus{models.QuestOpen}, now)
			if err != nil {
				return err
			}
			if !claimed {
				return ErrQuestFull
			}
		}

		if existing != nil {
			ok, err := tx.TransitionParticipant(ctx, existing.ID, models.ParticipantCancelled, status, &req.Message, now)
			if err != nil {
				return err
			}
			if !ok {
				return ErrAlreadyRequested
			}
			participantID = existing.ID
			return nil
		}

		p := &models.Participant{
			QuestID: questID,
			UserID:  user.UserID,
			Status:  status,
			Message: req.Message,
		}
		if err := tx.CreateParticipant(ctx, p); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyRequested
			}
			return err
		}
		participantID = p.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	p, err := s.store.GetParticipant(ctx, questID, participantID)
	if err != nil {
		return nil, participantErr(err)
	}
	event := EventParticipantRequested
	if p.Status == models.ParticipantAccepted {
		event = EventParticipantJoined
	}
	s.log.Info("join request", "quest_id", questID, "user_id", user.UserID, "status", p.Status)
	s.events.Publish(questID, event, NewParticipantResponse(p))
	return p, nil
}

// AcceptParticipant approves a pending request. Capacity is checked again
// here since the quest may have filled up while the request waited.
func (s *ParticipantService) AcceptParticipant(ctx context.Context, questID, participantID, hostID uuid.UUID) (*models.Participant, error) {
	now := s.clock.Now()
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		quest, err := hostedQuest(ctx, tx, questID, hostID)
		if err != nil {
			return err
		}
		if quest.Status.Terminal() {
			return ErrQuestClosed
		}
		p, err := tx.GetParticipantForUpdate(ctx, questID, participantID)
		if err != nil {
			return participantErr(err)
		}
		if p.Status != models.ParticipantPending {
			return ErrNotPending
		}
		claimed, err := tx.ClaimSlot(ctx, questID, []models.QuestStatus{models.QuestOpen, models.QuestInProgress}, now)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrQuestFull
		}
		ok, err := tx.TransitionParticipant(ctx, participantID, models.ParticipantPending, models.ParticipantAccepted, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterHostAction(ctx, questID, participantID, EventParticipantAccepted)
}

func (s *ParticipantService) RejectParticipant(ctx context.Context, questID, participantID, hostID uuid.UUID) (*models.Participant, error) {
	now := s.clock.Now()
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		if _, err := hostedQuest(ctx, tx, questID, hostID); err != nil {
			return err
		}
		if _, err := tx.GetParticipantForUpdate(ctx, questID, participantID); err != nil {
			return participantErr(err)
		}
		ok, err := tx.TransitionParticipant(ctx, participantID, models.ParticipantPending, models.ParticipantRejected, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotPending
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterHostAction(ctx, questID, participantID, EventParticipantRejected)
}

func (s *ParticipantService) afterHostAction(ctx context.Context, questID, participantID uuid.UUID, event string) (*models.Participant, error) {
	p, err := s.store.GetParticipant(ctx, questID, participantID)
	if err != nil {
		return nil, participantErr(err)
	}
	s.log.Info("participant "+string(p.Status), "quest_id", questID, "participant_id", participantID)
	s.events.Publish(questID, event, NewParticipantResponse(p))
	return p, nil
}

// LeaveQuest withdraws the caller's request or membership, whatever its
// status and whether or not the quest is still live. Leaving as an accepted
// member frees the slot and reopens a full quest. A rejected user who
// leaves may join again later.
func (s *ParticipantService) LeaveQuest(ctx context.Context, questID, userID uuid.UUID) error {
	now := s.clock.Now()
	var left *models.Participant
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		if _, err := tx.GetQuestForUpdate(ctx, questID); err != nil {
			return questErr(err)
		}
		p, err := tx.FindParticipant(ctx, questID, userID)
		if err != nil {
			return participantErr(err)
		}
		if p.Status == models.ParticipantCancelled {
			return ErrParticipantNotFound
		}
		ok, err := tx.TransitionParticipant(ctx, p.ID, p.Status, models.ParticipantCancelled, nil, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrParticipantNotFound
		}
		if p.Status == models.ParticipantAccepted {
			if err := tx.ReleaseSlot(ctx, questID, now); err != nil {
				return questErr(err)
			}
		}
		left = p
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("participant left", "quest_id", questID, "user_id", userID, "was", left.Status)
	s.events.Publish(questID, EventParticipantLeft, ParticipantGone{
		ParticipantID: left.ID,
		User:          NewUserMinimal(left.User),
	})
	return nil
}

// RemoveParticipant deletes the participant's row. Removing an accepted
// member frees the slot like LeaveQuest.
func (s *ParticipantService) RemoveParticipant(ctx context.Context, questID, participantID, hostID uuid.UUID) error {
	now := s.clock.Now()
	var removed *models.Participant
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		if _, err := hostedQuest(ctx, tx, questID, hostID); err != nil {
			return err
		}
		// The delete is guarded by the status just read. If the row moved on
		// in between, read it again so an accepted slot is never lost.
		for attempt := 0; attempt < removeAttempts; attempt++ {
			p, err := tx.GetParticipantForUpdate(ctx, questID, participantID)
			if err != nil {
				return participantErr(err)
			}
			deleted, err := tx.DeleteParticipant(ctx, participantID, p.Status)
			if err != nil {
				return err
			}
			if !deleted {
				continue
			}
			if p.Status == models.ParticipantAccepted {
				if err := tx.ReleaseSlot(ctx, questID, now); err != nil {
					return questErr(err)
				}
			}
			removed = p
			return nil
		}
		return fmt.Errorf("remove participant %s: status kept changing", participantID)
	})
	if err != nil {
		return err
	}

	s.log.Info("participant removed", "quest_id", questID, "participant_id", participantID, "was", removed.Status)
	s.events.Publish(questID, EventParticipantRemoved, ParticipantGone{
		ParticipantID: removed.ID,
		User:          NewUserMinimal(removed.User),
	})
	return nil
}

// ListParticipants shows the host every request and everyone else the
// accepted members only.
func (s *ParticipantService) ListParticipants(ctx context.Context, questID, viewerID uuid.UUID) ([]models.Participant, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return nil, questErr(err)
	}
	if quest.IsHost(viewerID) {
		return s.store.ListParticipants(ctx, questID)
	}
	return s.store.ListParticipants(ctx, questID, models.ParticipantAccepted)
}

// Roster is the host plus every accepted member.
func (s *ParticipantService) Roster(ctx context.Context, questID uuid.UUID) (*RosterResponse, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return nil, questErr(err)
	}
	accepted, err := s.store.ListParticipants(ctx, questID, models.ParticipantAccepted)
	if err != nil {
		return nil, err
	}
	members := make([]UserMinimal, len(accepted))
	for i, p := range accepted {
		members[i] = NewUserMinimal(p.User)
	}
	return &RosterResponse{QuestID: questID, Host: NewUserMinimal(quest.Host), Members: members}, nil
}

// CanAccessRoom reports whether the user is the host or an accepted member.
func (s *ParticipantService) CanAccessRoom(ctx context.Context, questID, userID uuid.UUID) (bool, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return false, questErr(err)
	}
	if quest.IsHost(userID) {
		return true, nil
	}
	p, err := s.store.FindParticipant(ctx, questID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Status == models.ParticipantAccepted, nil
}

// hostedQuest loads and locks a quest that the caller hosts.
func hostedQuest(ctx context.Context, tx *store.QuestStore, questID, hostID uuid.UUID) (*models.Quest, error) {
	quest, err := tx.GetQuestForUpdate(ctx, questID)
	if err != nil {
		return nil, questErr(err)
	}
	if !quest.IsHost(hostID) {
		return nil, ErrNotHost
	}
	return quest, nil
}

func participantErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrParticipantNotFound
	}
	return err
}
