package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"sidequests/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type ParticipantHandler struct {
	participantService *services.ParticipantService
	hub                *services.Hub
	upgrader           websocket.Upgrader
	logger             *slog.Logger
}

// NewParticipantHandler builds the participant endpoints. Websocket
// handshakes are accepted from allowedOrigins, or from anywhere when the
// list contains "*".
func NewParticipantHandler(participantService *services.ParticipantService, hub *services.Hub, allowedOrigins []string, logger *slog.Logger) *ParticipantHandler {
	return &ParticipantHandler{
		participantService: participantService,
		hub:                hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func (h *ParticipantHandler) JoinQuest(c *gin.Context) {
	user, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	// The message is optional, so an empty body is fine.
	var req services.JoinQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, h.logger, bindError(err))
		return
	}

	p, err := h.participantService.JoinQuest(c.Request.Context(), user, questID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, services.NewParticipantResponse(p))
}

func (h *ParticipantHandler) LeaveQuest(c *gin.Context) {
	user, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.participantService.LeaveQuest(c.Request.Context(), questID, user.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ParticipantHandler) ListParticipants(c *gin.Context) {
	viewer, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	participants, err := h.participantService.ListParticipants(c.Request.Context(), questID, viewer.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	items := make([]services.ParticipantResponse, len(participants))
	for i := range participants {
		items[i] = services.NewParticipantResponse(&participants[i])
	}
	c.JSON(http.StatusOK, services.ParticipantListResponse{Items: items, Total: len(items)})
}

// UpdateParticipant handles PATCH with {"action": "accept"|"reject"}.
func (h *ParticipantHandler) UpdateParticipant(c *gin.Context) {
	var req services.ParticipantActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}
	h.hostAction(c, req.Action)
}

func (h *ParticipantHandler) AcceptParticipant(c *gin.Context) {
	h.hostAction(c, "accept")
}

func (h *ParticipantHandler) RejectParticipant(c *gin.Context) {
	h.hostAction(c, "reject")
}

func (h *ParticipantHandler) hostAction(c *gin.Context, action string) {
	host, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}
	participantID, ok := parseID(c, "pid")
	if !ok {
		return
	}

	act := h.participantService.AcceptParticipant
	if action == "reject" {
		act = h.participantService.RejectParticipant
	}
	p, err := act(c.Request.Context(), questID, participantID, host.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.NewParticipantResponse(p))
}

func (h *ParticipantHandler) RemoveParticipant(c *gin.Context) {
	host, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}
	participantID, ok := parseID(c, "pid")
	if !ok {
		return
	}

	if err := h.participantService.RemoveParticipant(c.Request.Context(), questID, participantID, host.UserID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *ParticipantHandler) Roster(c *gin.Context) {
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	roster, err := h.participantService.Roster(c.Request.Context(), questID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, roster)
}

// QuestEvents upgrades to a websocket streaming the quest's lifecycle
// events. Only the host and accepted members may subscribe.
func (h *ParticipantHandler) QuestEvents(c *gin.Context) {
	user, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	allowed, err := h.participantService.CanAccessRoom(c.Request.Context(), questID, user.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the host and accepted members can join the room", "code": string(services.KindUnauthorized)})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "quest_id", questID, "user_id", user.UserID, "error", err)
		return
	}

	h.logger.Info("websocket connected", "quest_id", questID, "user_id", user.UserID)
	h.hub.RegisterClient(conn, questID, user.UserID)
}
