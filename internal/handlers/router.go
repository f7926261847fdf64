package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/workshop-progress/internal/auth"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Sessions    *services.SessionManager
	Sync        *services.ProgressSyncClient
	Stats       services.StatsService
	Resolver    auth.IdentityResolver
	CookieStore sessions.Store
	Logger      utils.Logger
}

type HandlerManager struct {
	sessionHandler  *SessionHandler
	workshopHandler *WorkshopHandler
	statsHandler    *StatsHandler

	sessions *services.SessionManager
	sync     *services.ProgressSyncClient
}

func NewHandlerManager(deps Dependencies) *HandlerManager {
	return &HandlerManager{
		sessionHandler:  NewSessionHandler(deps.CookieStore, deps.Resolver, deps.Sessions, deps.Logger),
		workshopHandler: NewWorkshopHandler(deps.Sessions, deps.Sync, deps.Logger),
		statsHandler:    NewStatsHandler(deps.Stats, deps.Logger),
		sessions:        deps.Sessions,
		sync:            deps.Sync,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.GET("/health", hm.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/sessions", hm.sessionHandler.Login)

		authed := v1.Group("", hm.sessionHandler.RequireSession())
		authed.DELETE("/sessions", hm.sessionHandler.Logout)

		workshops := authed.Group("/workshops/:id")
		{
			workshops.POST("/start", hm.workshopHandler.StartWorkshop)
			workshops.GET("/view", hm.workshopHandler.GetView)
			workshops.POST("/modules/:module_id/select", hm.workshopHandler.SelectModule)
			workshops.POST("/steps/:index/activate", hm.workshopHandler.ActivateStep)
			workshops.POST("/answer", hm.workshopHandler.SubmitAnswer)
			workshops.POST("/complete", hm.workshopHandler.CompleteStep)
			workshops.POST("/finish", hm.workshopHandler.FinishLastModule)
			workshops.POST("/final-quiz", hm.workshopHandler.SubmitFinalQuiz)
			workshops.POST("/feedback", hm.workshopHandler.SubmitFeedback)

			// Trainer screens
			workshops.GET("/stats", hm.statsHandler.GetWorkshopStats)
			workshops.GET("/analytics", hm.statsHandler.GetAnalytics)
			workshops.GET("/stats/export", hm.statsHandler.ExportStats)
		}

		authed.GET("/sync/commands", hm.workshopHandler.ListCommands)
	}
}

func (hm *HandlerManager) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"service":          "workshop-progress",
		"sessions":         hm.sessions.Count(),
		"pending_commands": hm.sync.Pending(),
	})
}
