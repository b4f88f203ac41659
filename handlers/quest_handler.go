package handlers

import (
	"log/slog"
	"net/http"

	"sidequests/services"

	"github.com/gin-gonic/gin"
)

type QuestHandler struct {
	questService *services.QuestService
	logger       *slog.Logger
}

func NewQuestHandler(questService *services.QuestService, logger *slog.Logger) *QuestHandler {
	return &QuestHandler{
		questService: questService,
		logger:       logger,
	}
}

func (h *QuestHandler) CreateQuest(c *gin.Context) {
	host, ok := principal(c)
	if !ok {
		return
	}

	var req services.CreateQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}

	quest, err := h.questService.CreateQuest(c.Request.Context(), host, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, services.NewQuestResponse(quest))
}

func (h *QuestHandler) ListQuests(c *gin.Context) {
	var req services.ListQuestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}

	list, err := h.questService.ListQuests(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *QuestHandler) GetQuest(c *gin.Context) {
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	quest, err := h.questService.GetQuest(c.Request.Context(), questID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.NewQuestResponse(quest))
}

func (h *QuestHandler) UpdateQuest(c *gin.Context) {
	host, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req services.UpdateQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}

	quest, err := h.questService.UpdateQuest(c.Request.Context(), questID, host.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.NewQuestResponse(quest))
}

func (h *QuestHandler) CompleteQuest(c *gin.Context) {
	host, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	quest, err := h.questService.CompleteQuest(c.Request.Context(), questID, host.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.NewQuestResponse(quest))
}

// CancelQuest backs DELETE /quests/:id. Quests are never hard-deleted by a
// host; the sweep purges them later.
func (h *QuestHandler) CancelQuest(c *gin.Context) {
	host, ok := principal(c)
	if !ok {
		return
	}
	questID, ok := parseID(c, "id")
	if !ok {
		return
	}

	quest, err := h.questService.CancelQuest(c.Request.Context(), questID, host.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, services.NewQuestResponse(quest))
}

func (h *QuestHandler) MyQuests(c *gin.Context) {
	user, ok := principal(c)
	if !ok {
		return
	}

	var req services.MyQuestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, h.logger, bindError(err))
		return
	}

	list, err := h.questService.MyQuests(c.Request.Context(), user.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, list)
}
