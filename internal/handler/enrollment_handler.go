package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-select-api/internal/models"
	"github.com/noah-isme/course-select-api/internal/service"
	appErrors "github.com/noah-isme/course-select-api/pkg/errors"
	"github.com/noah-isme/course-select-api/pkg/response"
)

// EnrollmentHandler exposes the enrollment lifecycle and query endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	students    *service.StudentService
}

// NewEnrollmentHandler constructs handler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, students *service.StudentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, students: students}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param term query string false "Term"
// @Param course_id query string false "Course"
// @Param student_id query string false "Student"
// @Param status query string false "Status"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.EnrollmentFilter{
		StudentID: c.Query("student_id"),
		CourseID:  c.Query("course_id"),
		Term:      c.Query("term"),
		Status:    models.EnrollmentStatus(c.Query("status")),
		Page:      1,
		PageSize:  20,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", filter.Status)))
		return
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil && size > 0 {
		filter.PageSize = size
	}

	list, total, err := h.enrollments.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total})
}

// Mine godoc
// @Summary List my enrollments across terms
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/mine [get]
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.enrollments.MyEnrollments(c.Request.Context(), actor.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Get godoc
// @Summary Get one enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	detail, err := h.enrollments.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Confirm godoc
// @Summary Confirm a granted seat
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/confirm [post]
func (h *EnrollmentHandler) Confirm(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	detail, err := h.enrollments.Confirm(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

type dropPayload struct {
	Reason string `json:"reason"`
}

// Drop godoc
// @Summary Drop an enrollment, freeing the seat when one was held
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dropPayload false "Drop reason"
// @Success 204 {object} nil
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload dropPayload
	_ = c.ShouldBindJSON(&payload)
	if err := h.enrollments.Drop(c.Request.Context(), actor, c.Param("id"), payload.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

type reviewPayload struct {
	Approved *bool  `json:"approved" binding:"required"`
	Comment  string `json:"comment"`
}

// Review godoc
// @Summary Record a professor decision on a selected enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body reviewPayload true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/review [post]
func (h *EnrollmentHandler) Review(c *gin.Context) {
	actor, err := actorFromContext(c, h.students)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload reviewPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	detail, err := h.enrollments.Review(c.Request.Context(), actor, c.Param("id"), *payload.Approved, payload.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// PendingReviews godoc
// @Summary List selected enrollments awaiting my decision
// @Tags Enrollments
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/pending-review [get]
func (h *EnrollmentHandler) PendingReviews(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	list, err := h.enrollments.PendingReviews(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// SeatCounts godoc
// @Summary Per-course seat counters for a term
// @Tags Capacity
// @Produce json
// @Param term query string true "Term"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /capacity/seats [get]
func (h *EnrollmentHandler) SeatCounts(c *gin.Context) {
	term := c.Query("term")
	if term == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term is required"))
		return
	}
	snapshot, err := h.enrollments.SeatCounts(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// CapacityAudit godoc
// @Summary Audit seat counters against enrollment rows
// @Tags Capacity
// @Produce json
// @Param term query string true "Term"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /capacity/audit [get]
func (h *EnrollmentHandler) CapacityAudit(c *gin.Context) {
	term := c.Query("term")
	if term == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term is required"))
		return
	}
	drifts, err := h.enrollments.CapacityAudit(c.Request.Context(), term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, drifts, nil)
}

// Export godoc
// @Summary Export a term's enrollments as CSV or PDF
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param term query string true "Term"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} byte
// @Security BearerAuth
// @Router /enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	term := c.Query("term")
	if term == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term is required"))
		return
	}
	format := c.DefaultQuery("format", "csv")
	out, contentType, err := h.enrollments.Export(c.Request.Context(), term, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if format == "pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="enrollments-%s.%s"`, term, ext))
	c.Data(http.StatusOK, contentType, out)
}
