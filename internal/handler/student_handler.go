package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/response"
	"github.com/edutrack/edutrack-backend/internal/service"
	"github.com/edutrack/edutrack-backend/internal/validator"
)

// StudentHandler handles the admin-facing student registry.
type StudentHandler struct {
	academicService *service.AcademicService
	log             zerolog.Logger
}

// NewStudentHandler creates a new StudentHandler.
func NewStudentHandler(academicService *service.AcademicService, log zerolog.Logger) *StudentHandler {
	return &StudentHandler{
		academicService: academicService,
		log:             log.With().Str("component", "student_handler").Logger(),
	}
}

// CreateStudent godoc
// POST /api/v1/admin/students
// Registers a student. CGPA and arrears start at zero.
func (h *StudentHandler) CreateStudent(c *gin.Context) {
	var req model.CreateStudentRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	student, err := h.academicService.CreateStudent(c.Request.Context(), req)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"student": student})
}

// GetStudent godoc
// GET /api/v1/admin/students/:id
func (h *StudentHandler) GetStudent(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	student, err := h.academicService.GetStudent(c.Request.Context(), id)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// GetStudentByRegisterNumber godoc
// GET /api/v1/admin/students/by-register/:register_number
func (h *StudentHandler) GetStudentByRegisterNumber(c *gin.Context) {
	student, err := h.academicService.GetStudentByRegisterNumber(c.Request.Context(), c.Param("register_number"))
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// Stats godoc
// GET /api/v1/admin/stats
func (h *StudentHandler) Stats(c *gin.Context) {
	stats, err := h.academicService.Stats(c.Request.Context())
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// SearchStudents godoc
// GET /api/v1/admin/students?q=&department=&has_arrears=&min_cgpa=&page=1&per_page=50
// q matches name or register number, case-insensitively.
func (h *StudentHandler) SearchStudents(c *gin.Context) {
	var query model.SearchStudentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, validator.TranslateErrors(err))
		return
	}
	page, perPage := pageParams(c)

	students, total, err := h.academicService.SearchStudents(c.Request.Context(), query.ToSearch(), page, perPage)
	if err != nil {
		failService(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"students": students},
		response.NewPagination(page, perPage, total))
}
