package services

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"sidequests/clock"
	"sidequests/models"
	"sidequests/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	defaultMaxParticipants = 2
	minParticipants        = 1
	maxParticipants        = 100
)

// Principal is the caller as resolved by the identity layer.
type Principal struct {
	UserID   uuid.UUID
	Name     string
	Verified bool
}

// record is the user row created for a caller seen for the first time.
func (p Principal) record() *models.User {
	return &models.User{ID: p.UserID, Name: p.Name}
}

// Options are shared by the quest and participant services.
type Options struct {
	Events          EventPublisher
	Logger          *slog.Logger
	DefaultDuration time.Duration
	StartTimeSkew   time.Duration
}

func (o Options) withDefaults() Options {
	o.Events = publisherOrNoop(o.Events)
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DefaultDuration <= 0 {
		o.DefaultDuration = 7 * 24 * time.Hour
	}
	if o.StartTimeSkew < 0 {
		o.StartTimeSkew = 0
	}
	return o
}

type QuestService struct {
	store    *store.QuestStore
	clock    clock.Clock
	validate *validator.Validate
	opts     Options
	log      *slog.Logger
}

func NewQuestService(st *store.QuestStore, clk clock.Clock, opts Options) *QuestService {
	opts = opts.withDefaults()
	return &QuestService{
		store:    st,
		clock:    clk,
		validate: newValidator(),
		opts:     opts,
		log:      opts.Logger.With("component", "quests"),
	}
}

func (s *QuestService) CreateQuest(ctx context.Context, host Principal, req *CreateQuestRequest) (*models.Quest, error) {
	if !host.Verified {
		return nil, ErrNotVerified
	}
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	category, err := models.NewCategory(models.CategoryKind(req.Category), req.CustomCategory)
	if err != nil {
		return nil, Validation("%v", err)
	}
	vibeKind := models.VibeKind(req.VibeLevel)
	if vibeKind == "" {
		vibeKind = models.VibeChill
	}
	vibe, err := models.NewVibe(vibeKind, req.CustomVibeLevel)
	if err != nil {
		return nil, Validation("%v", err)
	}

	now := s.clock.Now()
	start := req.StartTime.UTC()
	if start.Before(now.Add(-s.opts.StartTimeSkew)) {
		return nil, Validation("start_time must be in the future")
	}
	end := start.Add(s.opts.DefaultDuration)
	if req.EndTime != nil {
		end = req.EndTime.UTC()
	}
	if !end.After(start) {
		return nil, Validation("end_time must be after start_time")
	}

	capacity := defaultMaxParticipants
	if req.MaxParticipants != nil {
		capacity = *req.MaxParticipants
	}
	if capacity < minParticipants || capacity > maxParticipants {
		return nil, Validation("max_participants must be between %d and %d", minParticipants, maxParticipants)
	}
	requiresApproval := true
	if req.RequiresApproval != nil {
		requiresApproval = *req.RequiresApproval
	}

	quest := &models.Quest{
		Category:            category,
		Activity:            req.Activity,
		Description:         req.Description,
		Location:            req.Location,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		VibeLevel:           vibe,
		StartTime:           start,
		EndTime:             &end,
		MaxParticipants:     capacity,
		CurrentParticipants: 1,
		RequiresApproval:    requiresApproval,
		Status:              models.QuestOpen,
		HostID:              host.UserID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	// A single-slot quest is full from the start.
	quest.ReconcileStatus()

	err = s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		if err := tx.EnsureUser(ctx, host.record()); err != nil {
			return err
		}
		return tx.CreateQuest(ctx, quest)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("quest created", "quest_id", quest.ID, "host_id", host.UserID, "status", quest.Status)
	return s.GetQuest(ctx, quest.ID)
}

func (s *QuestService) GetQuest(ctx context.Context, questID uuid.UUID) (*models.Quest, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return nil, questErr(err)
	}
	return quest, nil
}

// ListQuests returns the public feed. Without a status filter only open
// quests that have not started yet are listed.
func (s *QuestService) ListQuests(ctx context.Context, req *ListQuestsRequest) (*QuestListResponse, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	page, perPage, offset := pageBounds(req.Page, req.PerPage)

	filter := store.QuestFilter{
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
		Now:      s.clock.Now(),
		Sort:     req.Sort,
		Offset:   offset,
		Limit:    perPage,
	}
	if req.Category != "" {
		kind := models.CategoryKind(req.Category)
		filter.Category = &kind
	}
	if req.Vibe != "" {
		kind := models.VibeKind(req.Vibe)
		filter.Vibe = &kind
	}
	if req.Status != "" {
		status := models.QuestStatus(req.Status)
		filter.Status = &status
	}

	quests, total, err := s.store.ListQuests(ctx, filter)
	if err != nil {
		return nil, err
	}
	return newQuestList(quests, total, page, perPage), nil
}

// MyQuests lists the quests the user hosts or takes part in.
func (s *QuestService) MyQuests(ctx context.Context, userID uuid.UUID, req *MyQuestsRequest) (*QuestListResponse, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	role := req.Role
	if role == "" {
		role = store.RoleAll
	}
	page, perPage, offset := pageBounds(req.Page, req.PerPage)

	quests, total, err := s.store.ListUserQuests(ctx, userID, role, offset, perPage)
	if err != nil {
		return nil, err
	}
	return newQuestList(quests, total, page, perPage), nil
}

func (s *QuestService) UpdateQuest(ctx context.Context, questID, hostID uuid.UUID, req *UpdateQuestRequest) (*models.Quest, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		quest, err := tx.GetQuestForUpdate(ctx, questID)
		if err != nil {
			return questErr(err)
		}
		if !quest.IsHost(hostID) {
			return ErrNotHost
		}
		if quest.Status.Terminal() {
			return ErrQuestClosed
		}
		if err := applyUpdate(quest, req); err != nil {
			return err
		}
		// Joins and leaves own the counter; only the edited columns are written.
		ok, err := tx.UpdateQuestDetails(ctx, quest, now)
		if err != nil {
			return err
		}
		if !ok {
			return Validation("max_participants cannot be lower than the current participants")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}

	s.log.Info("quest updated", "quest_id", questID, "status", updated.Status)
	s.opts.Events.Publish(questID, EventQuestUpdated, NewQuestResponse(updated))
	return updated, nil
}

func applyUpdate(q *models.Quest, req *UpdateQuestRequest) error {
	// omitempty lets an explicit empty string through the tag rules.
	if req.Activity != nil {
		if utf8.RuneCountInString(*req.Activity) < 3 {
			return Validation("activity must be at least 3")
		}
		q.Activity = *req.Activity
	}
	if req.Description != nil {
		q.Description = *req.Description
	}
	if req.Location != nil {
		if utf8.RuneCountInString(*req.Location) < 2 {
			return Validation("location must be at least 2")
		}
		q.Location = *req.Location
	}
	if req.Latitude != nil {
		q.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		q.Longitude = req.Longitude
	}

	switch {
	case req.VibeLevel != nil:
		label := ""
		if req.CustomVibeLevel != nil {
			label = *req.CustomVibeLevel
		}
		vibe, err := models.NewVibe(models.VibeKind(*req.VibeLevel), label)
		if err != nil {
			return Validation("%v", err)
		}
		q.VibeLevel = vibe
	case req.CustomVibeLevel != nil:
		vibe, err := models.NewVibe(q.VibeLevel.Kind(), *req.CustomVibeLevel)
		if err != nil {
			return Validation("%v", err)
		}
		q.VibeLevel = vibe
	}

	if req.StartTime != nil {
		q.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		end := req.EndTime.UTC()
		q.EndTime = &end
	}
	if q.EndTime != nil && !q.EndTime.After(q.StartTime) {
		return Validation("end_time must be after start_time")
	}

	if req.MaxParticipants != nil {
		capacity := *req.MaxParticipants
		if capacity < minParticipants || capacity > maxParticipants {
			return Validation("max_participants must be between %d and %d", minParticipants, maxParticipants)
		}
		if capacity < q.CurrentParticipants {
			return Validation("max_participants cannot be lower than the %d current participants", q.CurrentParticipants)
		}
		q.MaxParticipants = capacity
	}
	if req.RequiresApproval != nil {
		q.RequiresApproval = *req.RequiresApproval
	}

	if req.Status != nil {
		switch status := models.QuestStatus(*req.Status); status {
		case models.QuestOpen, models.QuestInProgress:
			q.Status = status
		case models.QuestFull:
			return Validation("full is set automatically when the quest reaches capacity")
		default:
			return Validation("use complete or cancel to close a quest")
		}
	}
	q.ReconcileStatus()
	return nil
}

// CompleteQuest closes the quest. Participants keep their statuses.
func (s *QuestService) CompleteQuest(ctx context.Context, questID, hostID uuid.UUID) (*models.Quest, error) {
	now := s.clock.Now()
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		quest, err := tx.GetQuest(ctx, questID)
		if err != nil {
			return questErr(err)
		}
		if !quest.IsHost(hostID) {
			return ErrNotHost
		}
		if quest.Status.Terminal() {
			return ErrQuestClosed
		}
		changed, err := tx.SetStatus(ctx, questID, openStatuses, models.QuestCompleted, now)
		if err != nil {
			return err
		}
		if !changed {
			return ErrQuestClosed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	quest, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	s.log.Info("quest completed", "quest_id", questID)
	s.opts.Events.Publish(questID, EventQuestCompleted, NewQuestResponse(quest))
	return quest, nil
}

// CancelQuest cancels the quest and rejects every pending request. Accepted
// participants are kept. Cancelling a cancelled quest succeeds without
// changes.
func (s *QuestService) CancelQuest(ctx context.Context, questID, hostID uuid.UUID) (*models.Quest, error) {
	now := s.clock.Now()
	var (
		changed  bool
		rejected int64
	)
	err := s.store.Transaction(ctx, func(tx *store.QuestStore) error {
		quest, err := tx.GetQuest(ctx, questID)
		if err != nil {
			return questErr(err)
		}
		if !quest.IsHost(hostID) {
			return ErrNotHost
		}
		switch quest.Status {
		case models.QuestCancelled:
			return nil
		case models.QuestCompleted:
			return ErrQuestClosed
		}
		if changed, err = tx.SetStatus(ctx, questID, openStatuses, models.QuestCancelled, now); err != nil {
			return err
		}
		if !changed {
			return ErrQuestClosed
		}
		rejected, err = tx.RejectPending(ctx, questID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	quest, err := s.GetQuest(ctx, questID)
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("quest cancelled", "quest_id", questID, "rejected_pending", rejected)
		s.opts.Events.Publish(questID, EventQuestCancelled, NewQuestResponse(quest))
	}
	return quest, nil
}

var openStatuses = []models.QuestStatus{models.QuestOpen, models.QuestInProgress, models.QuestFull}

func newQuestList(quests []models.Quest, total int64, page, perPage int) *QuestListResponse {
	items := make([]QuestResponse, len(quests))
	for i := range quests {
		items[i] = NewQuestResponse(&quests[i])
	}
	return &QuestListResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: int64(page*perPage) < total,
	}
}

func questErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrQuestNotFound
	}
	return err
}
