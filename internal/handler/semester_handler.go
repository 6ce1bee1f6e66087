package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/response"
	"github.com/edutrack/edutrack-backend/internal/service"
	"github.com/edutrack/edutrack-backend/internal/validator"
)

// SemesterHandler handles semester submission, deletion, listing and
// student aggregate reconciliation.
type SemesterHandler struct {
	academicService *service.AcademicService
	log             zerolog.Logger
}

// NewSemesterHandler creates a new SemesterHandler.
func NewSemesterHandler(academicService *service.AcademicService, log zerolog.Logger) *SemesterHandler {
	return &SemesterHandler{
		academicService: academicService,
		log:             log.With().Str("component", "semester_handler").Logger(),
	}
}

// ListStudentSemesters godoc
// GET /api/v1/admin/students/:id/semesters
func (h *SemesterHandler) ListStudentSemesters(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	semesters, err := h.academicService.ListStudentSemesters(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"semesters": semesters})
}

// SubmitSemester godoc
// PUT /api/v1/admin/students/:id/semesters/:num
// Replaces the whole subject list of a semester and updates the student's
// CGPA and arrears.
func (h *SemesterHandler) SubmitSemester(c *gin.Context) {
	studentID, num, ok := semesterParams(c)
	if !ok {
		return
	}

	var req model.SubmitSemesterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if validator.OnlyTag(err, "grade") {
			response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrUnknownGrade, validator.TranslateErrors(err))
			return
		}
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}

	subjects := make([]model.Subject, len(req.Subjects))
	for i, in := range req.Subjects {
		subjects[i] = in.ToSubject()
	}

	result, err := h.academicService.SubmitSemester(c.Request.Context(), studentID, num, subjects)
	if err != nil {
		if result != nil && !errors.Is(err, service.ErrConcurrencyConflict) && errors.Is(err, service.ErrReconcileDeferred) {
			response.PartialSuccess(c, http.StatusAccepted, gin.H{"semester": result.Semester}, response.ErrReconcileDeferred)
			return
		}
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"semester": result.Semester, "student": result.Student})
}

// DeleteSemester godoc
// DELETE /api/v1/admin/students/:id/semesters/:num
func (h *SemesterHandler) DeleteSemester(c *gin.Context) {
	studentID, num, ok := semesterParams(c)
	if !ok {
		return
	}

	student, err := h.academicService.DeleteSemester(c.Request.Context(), studentID, num)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// ReconcileStudent godoc
// POST /api/v1/admin/students/:id/reconcile
func (h *SemesterHandler) ReconcileStudent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.academicService.ReconcileStudent(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reconcile": result})
}

// ReconcileAll godoc
// POST /api/v1/admin/reconcile
func (h *SemesterHandler) ReconcileAll(c *gin.Context) {
	summary, err := h.academicService.ReconcileAll(c.Request.Context())
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"summary": summary})
}

// ListSemesters godoc
// GET /api/v1/admin/semesters?page=1&per_page=50
// Lists every semester with its student resolved.
func (h *SemesterHandler) ListSemesters(c *gin.Context) {
	page, perPage := pageParams(c)

	listings, total, err := h.academicService.ListAllSemesters(c.Request.Context(), page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"semesters": listings},
		response.NewPagination(page, perPage, total))
}

// Grades godoc
// GET /api/v1/admin/grades
// Lists the grade scale in use.
func (h *SemesterHandler) Grades(c *gin.Context) {
	scale := h.academicService.Scale()

	type gradeEntry struct {
		Grade   string  `json:"grade"`
		Points  float64 `json:"points"`
		Failing bool    `json:"failing"`
	}
	symbols := scale.Symbols()
	out := make([]gradeEntry, 0, len(symbols))
	for _, sym := range symbols {
		pts, _ := scale.PointsOf(sym)
		out = append(out, gradeEntry{Grade: sym, Points: pts, Failing: scale.IsFailing(sym)})
	}

	response.Success(c, http.StatusOK, gin.H{"grades": out})
}

// semesterParams parses :id and :num, writing a 400 response on failure.
func semesterParams(c *gin.Context) (studentID, num int, ok bool) {
	studentID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, 0, false
	}
	num, err = strconv.Atoi(c.Param("num"))
	if err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"num": "must be a number"})
		return 0, 0, false
	}
	return studentID, num, true
}
