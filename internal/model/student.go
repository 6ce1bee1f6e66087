package model

import (
	"strings"
	"time"
)

// Department enumerates the departments a student can be enrolled in.
type Department string

const (
	DeptComputerScience   Department = "Computer Science"
	DeptInformationTech   Department = "Information Technology"
	DeptElectronicsComm   Department = "Electronics & Communication"
	DeptElectrical        Department = "Electrical Engineering"
	DeptMechanical        Department = "Mechanical Engineering"
	DeptCivil             Department = "Civil Engineering"
	DeptBioTechnology     Department = "Bio Technology"
	DeptFoodTechnology    Department = "Food Technology"
	DeptAgricultural      Department = "Agricultural Engineering"
	DeptAIDataScience     Department = "Artificial Intelligence and Data Science"
	DeptAIMachineLearning Department = "Artificial Intelligence and Machine Learning"
	DeptDataScience       Department = "Data Science"
)

// Student is the aggregate root for a student's academic identity.
// CGPA and Arrears are derived from the student's semesters and are only
// written by the academic service.
type Student struct {
	ID              int        `json:"id"`
	RegisterNumber  string     `json:"register_number"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Department      Department `json:"department"`
	CurrentSemester int        `json:"current_semester"`
	CGPA            float64    `json:"cgpa"`
	Arrears         int        `json:"arrears"`

	// AggregateVersion increases on every CGPA/arrears write.
	AggregateVersion int64     `json:"aggregate_version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Aggregate returns the derived fields of the student.
func (s *Student) Aggregate() StudentAggregate {
	return StudentAggregate{CGPA: s.CGPA, Arrears: s.Arrears}
}

// StudentAggregate holds the derived per-student values.
type StudentAggregate struct {
	CGPA    float64 `json:"cgpa"`
	Arrears int     `json:"arrears"`
}

// StudentSummary is the subset of student identity shown next to semesters.
type StudentSummary struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	RegisterNumber string `json:"register_number"`
}

// CreateStudentRequest is the payload for registering a student record.
type CreateStudentRequest struct {
	RegisterNumber  string     `json:"register_number" binding:"required,min=4,max=32"`
	Name            string     `json:"name" binding:"required,min=2,max=100"`
	Email           string     `json:"email" binding:"required,email,max=254"`
	Department      Department `json:"department" binding:"required,max=100"`
	CurrentSemester int        `json:"current_semester" binding:"required,min=1,max=8"`
}

// StudentSearch filters the student listing. Zero values mean no filter.
type StudentSearch struct {
	// Query matches name or register number, case-insensitively.
	Query      string
	Department Department
	HasArrears bool
	MinCGPA    *float64
}

// SearchStudentsQuery is the query string of the student listing.
type SearchStudentsQuery struct {
	Q          string   `form:"q" binding:"max=100"`
	Department string   `form:"department" binding:"max=100"`
	HasArrears bool     `form:"has_arrears"`
	MinCGPA    *float64 `form:"min_cgpa" binding:"omitempty,gte=0,lte=10"`
}

// ToSearch converts the query string into a search filter.
func (q SearchStudentsQuery) ToSearch() StudentSearch {
	return StudentSearch{
		Query:      strings.TrimSpace(q.Q),
		Department: Department(strings.TrimSpace(q.Department)),
		HasArrears: q.HasArrears,
		MinCGPA:    q.MinCGPA,
	}
}

// AcademicStats summarises aggregate values across all students.
type AcademicStats struct {
	TotalStudents       int     `json:"total_students"`
	AverageCGPA         float64 `json:"average_cgpa"`
	TotalArrears        int     `json:"total_arrears"`
	StudentsWithArrears int     `json:"students_with_arrears"`
}
