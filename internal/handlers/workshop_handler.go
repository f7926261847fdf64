package handlers

import (
	"net/http"

	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/gin-gonic/gin"
)

// ===== REQUEST STRUCTURES =====

type AnswerRequest struct {
	QuestionID uint   `json:"question_id" binding:"required"`
	Answer     string `json:"answer"`
}

type FinalQuizRequest struct {
	Answers map[uint]string `json:"answers"`
}

type FeedbackRequest struct {
	Stars    int    `json:"stars"`
	Comments string `json:"comments"`
}

// StartWorkshopResponse is the first screen of a workshop plus what
// reconciliation changed.
type StartWorkshopResponse struct {
	View      services.NavigatorView    `json:"view"`
	Reconcile *services.ReconcileReport `json:"reconcile,omitempty"`
}

type WorkshopHandler struct {
	BaseHandler
	sessions *services.SessionManager
	sync     *services.ProgressSyncClient
}

func NewWorkshopHandler(
	sessions *services.SessionManager,
	sync *services.ProgressSyncClient,
	logger utils.Logger,
) *WorkshopHandler {
	return &WorkshopHandler{
		BaseHandler: NewBaseHandler(logger),
		sessions:    sessions,
		sync:        sync,
	}
}

// StartWorkshop fetches the workshop, reconciles progress and opens a navigator
// @Router /workshops/{id}/start [post]
func (h *WorkshopHandler) StartWorkshop(c *gin.Context) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	nav, report, err := h.sessions.StartWorkshop(ctx, currentSession(c).ID, workshopID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, StartWorkshopResponse{View: nav.View(ctx), Reconcile: report})
}

// GetView renders the current screen
// @Router /workshops/{id}/view [get]
func (h *WorkshopHandler) GetView(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, nav.View(c.Request.Context()))
}

// SelectModule opens a module; locked modules are ignored
// @Router /workshops/{id}/modules/{module_id}/select [post]
func (h *WorkshopHandler) SelectModule(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	moduleID, ok := ParseUintParam(c, "module_id")
	if !ok {
		return
	}

	selected, err := nav.SelectModule(moduleID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"selected": selected,
		"view":     nav.View(c.Request.Context()),
	})
}

// ActivateStep opens a step of the current module; locked steps are ignored
// @Router /workshops/{id}/steps/{index}/activate [post]
func (h *WorkshopHandler) ActivateStep(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	index, ok := ParseIntParam(c, "index")
	if !ok {
		return
	}

	activated := nav.Activate(index)
	c.JSON(http.StatusOK, gin.H{
		"activated": activated,
		"view":      nav.View(c.Request.Context()),
	})
}

// SubmitAnswer answers the current question of the step quiz
// @Router /workshops/{id}/answer [post]
func (h *WorkshopHandler) SubmitAnswer(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	out, err := nav.SubmitStepAnswer(c.Request.Context(), req.QuestionID, req.Answer)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CompleteStep completes the current step when it has no quiz
// @Router /workshops/{id}/complete [post]
func (h *WorkshopHandler) CompleteStep(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	out, err := nav.CompleteStep(c.Request.Context())
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// FinishLastModule enters the final assessment
// @Router /workshops/{id}/finish [post]
func (h *WorkshopHandler) FinishLastModule(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	if err := nav.FinishLastModule(); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, nav.View(c.Request.Context()))
}

// SubmitFinalQuiz scores and submits the final quiz. When the submission
// fails the local score is returned in the error details.
// @Router /workshops/{id}/final-quiz [post]
func (h *WorkshopHandler) SubmitFinalQuiz(c *gin.Context) {
	nav, ok := h.navigator(c)
	if !ok {
		return
	}
	var req FinalQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}
	if req.Answers == nil {
		req.Answers = map[uint]string{}
	}

	out, err := nav.SubmitFinalQuiz(c.Request.Context(), req.Answers)
	if err != nil {
		if out != nil {
			h.HandleServiceError(c, err, out.Local)
			return
		}
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SubmitFeedback posts a star rating for the workshop
// @Router /workshops/{id}/feedback [post]
func (h *WorkshopHandler) SubmitFeedback(c *gin.Context) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return
	}
	var req FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.RespondWithError(c, http.StatusBadRequest, "Invalid request payload", err, err.Error())
		return
	}

	session := currentSession(c)
	feedback := models.Feedback{
		UserID:     session.UserID,
		WorkshopID: workshopID,
		Stars:      req.Stars,
		Comments:   req.Comments,
	}
	if err := h.sync.SubmitFeedback(c.Request.Context(), session.Token, feedback); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusCreated, "Feedback submitted", feedback, "workshop_id", workshopID)
}

// ListCommands reports the delivery status of the user's progress writes
// @Router /sync/commands [get]
func (h *WorkshopHandler) ListCommands(c *gin.Context) {
	commands := h.sync.Commands(currentSession(c).UserID)
	c.JSON(http.StatusOK, gin.H{
		"commands": commands,
		"count":    len(commands),
	})
}

func (h *WorkshopHandler) navigator(c *gin.Context) (*services.Navigator, bool) {
	workshopID, ok := ParseUintParam(c, "id")
	if !ok {
		return nil, false
	}
	nav, err := h.sessions.Navigator(currentSession(c).ID, workshopID)
	if err != nil {
		h.HandleServiceError(c, err)
		return nil, false
	}
	return nav, true
}
