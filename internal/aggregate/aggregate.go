// Package aggregate computes derived academic values (SGPA, CGPA, arrears)
// from raw subject records. Results are kept at full float64 precision;
// rounding is left to the presentation layer.
package aggregate

import (
	"fmt"

	"github.com/edutrack/edutrack-backend/internal/grade"
	"github.com/edutrack/edutrack-backend/internal/model"
)

// SemesterResult is the derived state of one semester.
type SemesterResult struct {
	SGPA         float64 `json:"sgpa"`
	TotalCredits float64 `json:"total_credits"`
}

// StudentResult is the derived state of one student.
type StudentResult struct {
	CGPA         float64 `json:"cgpa"`
	Arrears      int     `json:"arrears"`
	TotalCredits float64 `json:"total_credits"`
}

// ToModel converts the result into the stored student aggregate.
func (r StudentResult) ToModel() model.StudentAggregate {
	return model.StudentAggregate{CGPA: r.CGPA, Arrears: r.Arrears}
}

// tally accumulates credit-weighted points over a run of subjects.
type tally struct {
	points  float64
	credits float64
	failing int
}

func (t *tally) add(scale *grade.Scale, sub model.Subject) error {
	pts, err := scale.PointsOf(sub.Grade)
	if err != nil {
		return fmt.Errorf("subject %s: %w", sub.Code, err)
	}
	t.points += pts * sub.Credits
	t.credits += sub.Credits
	if scale.IsFailing(sub.Grade) {
		t.failing++
	}
	return nil
}

func (t *tally) mean() float64 {
	if t.credits == 0 {
		return 0
	}
	return t.points / t.credits
}

// Semester computes total credits and SGPA for one semester's subjects.
// An empty list, or one whose credits sum to zero, yields SGPA 0.
// An unknown grade aborts the whole computation.
func Semester(scale *grade.Scale, subjects []model.Subject) (SemesterResult, error) {
	var t tally
	for _, sub := range subjects {
		if err := t.add(scale, sub); err != nil {
			return SemesterResult{}, err
		}
	}
	return SemesterResult{SGPA: t.mean(), TotalCredits: t.credits}, nil
}

// Student computes CGPA and arrears across all semesters. CGPA is the
// credit-weighted mean over the union of every subject, not a mean of the
// per-semester SGPA values. Semesters without subjects contribute nothing.
func Student(scale *grade.Scale, semesters []model.Semester) (StudentResult, error) {
	var t tally
	for _, sem := range semesters {
		for _, sub := range sem.Subjects {
			if err := t.add(scale, sub); err != nil {
				return StudentResult{}, fmt.Errorf("semester %d: %w", sem.Num, err)
			}
		}
	}
	return StudentResult{CGPA: t.mean(), Arrears: t.failing, TotalCredits: t.credits}, nil
}
