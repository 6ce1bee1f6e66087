package model

import (
	"encoding/json"
	"time"
)

// Semester numbers are 1..8.
const (
	MinSemesterNum = 1
	MaxSemesterNum = 8
)

// Semester is one student's record for a numbered term. SGPA and
// TotalCredits are derived from Subjects.
type Semester struct {
	ID           int       `json:"id"`
	StudentID    int       `json:"student_id"`
	Num          int       `json:"num"`
	Subjects     []Subject `json:"subjects"`
	SGPA         float64   `json:"sgpa"`
	TotalCredits float64   `json:"total_credits"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SemesterData is what gets written for a (student, num) key.
type SemesterData struct {
	Subjects     []Subject
	SGPA         float64
	TotalCredits float64
}

// SubmitSemesterRequest replaces the full subject list of a semester.
type SubmitSemesterRequest struct {
	Subjects []SubjectInput `json:"subjects" binding:"omitempty,max=40,dive"`
}

// StudentRef points at the owning student of a semester. It is either
// unresolved (ID only) or resolved (ID plus summary), never both shapes at once.
type StudentRef struct {
	ID      int
	summary *StudentSummary
}

// ResolvedStudent builds a reference carrying the student summary.
func ResolvedStudent(s StudentSummary) StudentRef {
	return StudentRef{ID: s.ID, summary: &s}
}

// Resolved returns the summary when the reference has been resolved.
func (r StudentRef) Resolved() (StudentSummary, bool) {
	if r.summary == nil {
		return StudentSummary{}, false
	}
	return *r.summary, true
}

// MarshalJSON emits an object when resolved and a bare id otherwise.
func (r StudentRef) MarshalJSON() ([]byte, error) {
	if s, ok := r.Resolved(); ok {
		return json.Marshal(s)
	}
	return json.Marshal(r.ID)
}

// SemesterListing is a semester with its owning student.
type SemesterListing struct {
	Semester
	Student StudentRef `json:"student"`
}
