package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/service"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

// PreferenceHandler exposes preference intake endpoints. All routes act on
// behalf of the authenticated student.
type PreferenceHandler struct {
	preferences *service.PreferenceService
	students    *service.StudentService
}

// NewPreferenceHandler constructs handler.
func NewPreferenceHandler(preferences *service.PreferenceService, students *service.StudentService) *PreferenceHandler {
	return &PreferenceHandler{preferences: preferences, students: students}
}

type preferencePayload struct {
	Term    string                           `json:"term" binding:"required"`
	Entries []service.PreferenceEntryRequest `json:"entries" binding:"required"`
}

// Submit godoc
// @Summary Submit ranked course preferences
// @Tags Preferences
// @Accept json
// @Produce json
// @Param payload body preferencePayload true "Ranked preferences"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /preferences [post]
func (h *PreferenceHandler) Submit(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload preferencePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	list, err := h.preferences.Submit(c.Request.Context(), service.SubmitPreferencesRequest{
		StudentID: actor.StudentID,
		Term:      payload.Term,
		Entries:   payload.Entries,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, list)
}

// Get godoc
// @Summary Get my active preference list for a term
// @Tags Preferences
// @Produce json
// @Param term path string true "Term"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /preferences/{term} [get]
func (h *PreferenceHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.preferences.Get(c.Request.Context(), actor.StudentID, c.Param("term"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Update godoc
// @Summary Replace ranked preferences while still pending
// @Tags Preferences
// @Accept json
// @Produce json
// @Param payload body preferencePayload true "Ranked preferences"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /preferences [put]
func (h *PreferenceHandler) Update(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload preferencePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	list, err := h.preferences.Update(c.Request.Context(), service.SubmitPreferencesRequest{
		StudentID: actor.StudentID,
		Term:      payload.Term,
		Entries:   payload.Entries,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Withdraw godoc
// @Summary Withdraw preferences for a term
// @Tags Preferences
// @Produce json
// @Param term path string true "Term"
// @Success 204 {object} nil
// @Security BearerAuth
// @Router /preferences/{term} [delete]
func (h *PreferenceHandler) Withdraw(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.preferences.Withdraw(c.Request.Context(), actor.StudentID, c.Param("term")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
