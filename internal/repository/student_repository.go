package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edutrack/edutrack-backend/internal/model"
)

const studentColumns = `id, register_number, name, email, department, current_semester,
	cgpa, arrears, aggregate_version, created_at, updated_at`

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func scanStudent(row pgx.Row) (*model.Student, error) {
	s := &model.Student{}
	err := row.Scan(&s.ID, &s.RegisterNumber, &s.Name, &s.Email, &s.Department, &s.CurrentSemester,
		&s.CGPA, &s.Arrears, &s.AggregateVersion, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// GetStudent retrieves a student by ID.
func (r *StudentRepository) GetStudent(ctx context.Context, id int) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
}

// GetStudentByRegisterNumber retrieves a student by their unique register number.
func (r *StudentRepository) GetStudentByRegisterNumber(ctx context.Context, registerNumber string) (*model.Student, error) {
	return scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE register_number = $1`, registerNumber))
}

// CreateStudent inserts a new student. Derived fields start at zero.
func (r *StudentRepository) CreateStudent(ctx context.Context, s *model.Student) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (register_number, name, email, department, current_semester)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, cgpa, arrears, aggregate_version, created_at, updated_at`,
		s.RegisterNumber, s.Name, s.Email, s.Department, s.CurrentSemester,
	).Scan(&s.ID, &s.CGPA, &s.Arrears, &s.AggregateVersion, &s.CreatedAt, &s.UpdatedAt)

	if constraint, ok := uniqueViolation(err); ok {
		if constraint == "students_email_key" {
			return ErrDuplicateEmail
		}
		return ErrDuplicateRegisterNumber
	}
	return err
}

// ListStudentIDs returns every student ID in ascending order.
func (r *StudentRepository) ListStudentIDs(ctx context.Context) ([]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM students ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

// UpdateStudentAggregate writes CGPA and arrears if the stored aggregate
// version still equals expectedVersion, and bumps the version.
func (r *StudentRepository) UpdateStudentAggregate(ctx context.Context, id int, agg model.StudentAggregate, expectedVersion int64) (*model.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx,
		`UPDATE students
		 SET cgpa = $1, arrears = $2, aggregate_version = aggregate_version + 1, updated_at = NOW()
		 WHERE id = $3 AND aggregate_version = $4
		 RETURNING `+studentColumns,
		agg.CGPA, agg.Arrears, id, expectedVersion))
	if errors.Is(err, ErrNotFound) {
		// Either the student is gone or the version moved on.
		var exists bool
		if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM students WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("check student %d: %w", id, qerr)
		}
		if exists {
			return nil, ErrVersionConflict
		}
	}
	return s, err
}

// SearchStudents returns one page of students matching f, ordered by
// register number, plus the total number of matches.
func (r *StudentRepository) SearchStudents(ctx context.Context, f model.StudentSearch, limit, offset int) ([]model.Student, int, error) {
	var where []string
	var args []interface{}
	argIdx := 1

	if f.Query != "" {
		where = append(where, `(name ILIKE $`+strconv.Itoa(argIdx)+` ESCAPE '\' OR register_number ILIKE $`+strconv.Itoa(argIdx)+` ESCAPE '\')`)
		args = append(args, "%"+escapeLike(f.Query)+"%")
		argIdx++
	}
	if f.Department != "" {
		where = append(where, `department = $`+strconv.Itoa(argIdx))
		args = append(args, f.Department)
		argIdx++
	}
	if f.HasArrears {
		where = append(where, `arrears > 0`)
	}
	if f.MinCGPA != nil {
		where = append(where, `cgpa >= $`+strconv.Itoa(argIdx))
		args = append(args, *f.MinCGPA)
		argIdx++
	}

	filter := ""
	if len(where) > 0 {
		filter = ` WHERE ` + strings.Join(where, ` AND `)
	}

	// 1. Count matches
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM students`+filter, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// 2. Get the page
	query := `SELECT ` + studentColumns + ` FROM students` + filter +
		` ORDER BY register_number LIMIT $` + strconv.Itoa(argIdx) + ` OFFSET $` + strconv.Itoa(argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	students := []model.Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, 0, err
		}
		students = append(students, *s)
	}
	return students, total, rows.Err()
}

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Stats aggregates CGPA and arrears over all students.
func (r *StudentRepository) Stats(ctx context.Context) (*model.AcademicStats, error) {
	st := &model.AcademicStats{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(AVG(cgpa), 0),
		        COALESCE(SUM(arrears), 0),
		        COUNT(*) FILTER (WHERE arrears > 0)
		 FROM students`,
	).Scan(&st.TotalStudents, &st.AverageCGPA, &st.TotalArrears, &st.StudentsWithArrears)
	if err != nil {
		return nil, err
	}
	return st, nil
}
