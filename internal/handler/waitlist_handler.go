package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/pkg/response"
)

type waitlistService interface {
	List(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
	Promote(ctx context.Context, courseID string, maxCount int) (int, error)
}

// WaitlistHandler exposes per-course waitlist queries and manual promotion.
type WaitlistHandler struct {
	waitlist waitlistService
}

// NewWaitlistHandler constructs handler.
func NewWaitlistHandler(waitlist waitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

// List godoc
// @Summary List the FIFO waitlist for a course
// @Tags Waitlist
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/waitlist [get]
func (h *WaitlistHandler) List(c *gin.Context) {
	waitlist, err := h.waitlist.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, waitlist, nil)
}

type promotePayload struct {
	Count int `json:"count"`
}

// Promote godoc
// @Summary Promote waitlisted students into free seats
// @Tags Waitlist
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body promotePayload false "Max promotions, default 1"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/waitlist/promote [post]
func (h *WaitlistHandler) Promote(c *gin.Context) {
	var payload promotePayload
	_ = c.ShouldBindJSON(&payload)
	promoted, err := h.waitlist.Promote(c.Request.Context(), c.Param("id"), payload.Count)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"promoted": promoted}, nil)
}
