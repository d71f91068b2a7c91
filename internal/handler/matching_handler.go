package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/service"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

// MatchingHandler exposes the matching pass to staff.
type MatchingHandler struct {
	matching *service.MatchingService
}

// NewMatchingHandler constructs handler.
func NewMatchingHandler(matching *service.MatchingService) *MatchingHandler {
	return &MatchingHandler{matching: matching}
}

type runMatchingPayload struct {
	Term string `json:"term" binding:"required"`
}

// Run godoc
// @Summary Run a matching pass over pending enrollments
// @Tags Matching
// @Accept json
// @Produce json
// @Param payload body runMatchingPayload true "Term to match"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /matching/run [post]
func (h *MatchingHandler) Run(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var payload runMatchingPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.matching.Run(c.Request.Context(), payload.Term, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Runs godoc
// @Summary List past matching runs for a term
// @Tags Matching
// @Produce json
// @Param term query string true "Term"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /matching/runs [get]
func (h *MatchingHandler) Runs(c *gin.Context) {
	term := c.Query("term")
	if term == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term is required"))
		return
	}
	runs, err := h.matching.Runs(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, nil)
}
