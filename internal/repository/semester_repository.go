package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edutrack/edutrack-backend/internal/model"
)

const semesterColumns = `id, student_id, num, subjects, sgpa, total_credits, created_at, updated_at`

// SemesterRepository handles normalized semester records. Subjects are
// embedded in the row as JSONB; they have no identity of their own.
type SemesterRepository struct {
	pool *pgxpool.Pool
}

// NewSemesterRepository creates a new SemesterRepository.
func NewSemesterRepository(pool *pgxpool.Pool) *SemesterRepository {
	return &SemesterRepository{pool: pool}
}

func scanSemester(row pgx.Row) (*model.Semester, error) {
	s := &model.Semester{}
	err := row.Scan(&s.ID, &s.StudentID, &s.Num, &s.Subjects, &s.SGPA, &s.TotalCredits, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.Subjects == nil {
		s.Subjects = []model.Subject{}
	}
	return s, nil
}

// GetSemestersByStudent returns all semesters of a student ordered by number.
func (r *SemesterRepository) GetSemestersByStudent(ctx context.Context, studentID int) ([]model.Semester, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+semesterColumns+` FROM semesters WHERE student_id = $1 ORDER BY num`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	semesters := []model.Semester{}
	for rows.Next() {
		s, err := scanSemester(rows)
		if err != nil {
			return nil, err
		}
		semesters = append(semesters, *s)
	}
	return semesters, rows.Err()
}

// GetSemester retrieves one semester by its (student, num) key.
func (r *SemesterRepository) GetSemester(ctx context.Context, studentID, num int) (*model.Semester, error) {
	return scanSemester(r.pool.QueryRow(ctx,
		`SELECT `+semesterColumns+` FROM semesters WHERE student_id = $1 AND num = $2`, studentID, num))
}

// UpsertSemester replaces the semester at (studentID, num), creating it if needed.
func (r *SemesterRepository) UpsertSemester(ctx context.Context, studentID, num int, data model.SemesterData) (*model.Semester, error) {
	subjects := data.Subjects
	if subjects == nil {
		subjects = []model.Subject{}
	}
	raw, err := json.Marshal(subjects)
	if err != nil {
		return nil, fmt.Errorf("encode subjects: %w", err)
	}

	s, err := scanSemester(r.pool.QueryRow(ctx,
		`INSERT INTO semesters (student_id, num, subjects, sgpa, total_credits)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (student_id, num) DO UPDATE
		 SET subjects = EXCLUDED.subjects,
		     sgpa = EXCLUDED.sgpa,
		     total_credits = EXCLUDED.total_credits,
		     updated_at = NOW()
		 RETURNING `+semesterColumns,
		studentID, num, raw, data.SGPA, data.TotalCredits))
	if err != nil {
		if foreignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// DeleteSemesterRecord removes the semester at (studentID, num).
func (r *SemesterRepository) DeleteSemesterRecord(ctx context.Context, studentID, num int) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM semesters WHERE student_id = $1 AND num = $2`, studentID, num)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSemesters returns one page of semesters with their owning student
// resolved, ordered by register number then semester number, plus the total
// number of semesters.
func (r *SemesterRepository) ListSemesters(ctx context.Context, limit, offset int) ([]model.SemesterListing, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM semesters`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.student_id, s.num, s.subjects, s.sgpa, s.total_credits, s.created_at, s.updated_at,
		        st.name, st.register_number
		 FROM semesters s
		 JOIN students st ON st.id = s.student_id
		 ORDER BY st.register_number, s.num
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	listings := []model.SemesterListing{}
	for rows.Next() {
		var l model.SemesterListing
		var summary model.StudentSummary
		if err := rows.Scan(&l.ID, &l.StudentID, &l.Num, &l.Subjects, &l.SGPA, &l.TotalCredits, &l.CreatedAt, &l.UpdatedAt,
			&summary.Name, &summary.RegisterNumber); err != nil {
			return nil, 0, err
		}
		if l.Subjects == nil {
			l.Subjects = []model.Subject{}
		}
		summary.ID = l.StudentID
		l.Student = model.ResolvedStudent(summary)
		listings = append(listings, l)
	}
	return listings, total, rows.Err()
}
