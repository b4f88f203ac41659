package routes

import (
	"net/http"

	"sidequests/handlers"
	"sidequests/middleware"
	"sidequests/services"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// Handlers groups everything SetupRoutes mounts.
type Handlers struct {
	Quests       *handlers.QuestHandler
	Participants *handlers.ParticipantHandler
	Admin        *handlers.AdminHandler
}

func SetupRoutes(router *gin.Engine, h Handlers, jwtSecret, adminToken string) {
	binding.Validator = services.NewStructValidator()
	auth := middleware.AuthMiddleware(jwtSecret)

	api := router.Group("/api")
	{
		// Public quest feed
		api.GET("/quests", h.Quests.ListQuests)
		api.GET("/quests/:id", h.Quests.GetQuest)

		protected := api.Group("/")
		protected.Use(auth)
		{
			protected.GET("/me/quests", h.Quests.MyQuests)

			quests := protected.Group("/quests")
			{
				quests.POST("", middleware.RequireVerified(), h.Quests.CreateQuest)
				quests.PUT("/:id", h.Quests.UpdateQuest)
				quests.PATCH("/:id", h.Quests.UpdateQuest)
				quests.DELETE("/:id", h.Quests.CancelQuest)
				quests.POST("/:id/complete", h.Quests.CompleteQuest)
				quests.POST("/:id/cancel", h.Quests.CancelQuest)

				quests.POST("/:id/join", middleware.RequireVerified(), h.Participants.JoinQuest)
				quests.POST("/:id/leave", h.Participants.LeaveQuest)
				quests.GET("/:id/roster", h.Participants.Roster)
				quests.GET("/:id/participants", h.Participants.ListParticipants)
				quests.PATCH("/:id/participants/:pid", h.Participants.UpdateParticipant)
				quests.POST("/:id/participants/:pid/accept", h.Participants.AcceptParticipant)
				quests.POST("/:id/participants/:pid/reject", h.Participants.RejectParticipant)
				quests.DELETE("/:id/participants/:pid", h.Participants.RemoveParticipant)
			}
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminToken(adminToken))
		{
			admin.POST("/quests/sweep", h.Admin.Sweep)
			admin.GET("/quests/sweep", h.Admin.LastSweep)
			admin.POST("/quests/expire", h.Admin.Expire)
		}
	}

	// Quest event stream. The token may travel as ?token= on the handshake.
	router.GET("/ws/quests/:id", auth, h.Participants.QuestEvents)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
