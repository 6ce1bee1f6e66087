package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LegacyStudent is a student row that still carries the old embedded
// semesters array. Semesters is the raw JSON as stored.
type LegacyStudent struct {
	StudentID      int
	RegisterNumber string
	Semesters      json.RawMessage
}

// LegacyRepository reads and strips the legacy embedded semesters column.
// Nothing outside the shape migration should use it.
type LegacyRepository struct {
	pool *pgxpool.Pool
}

// NewLegacyRepository creates a new LegacyRepository.
func NewLegacyRepository(pool *pgxpool.Pool) *LegacyRepository {
	return &LegacyRepository{pool: pool}
}

// ListLegacyStudents returns every student whose embedded array is still present.
func (r *LegacyRepository) ListLegacyStudents(ctx context.Context) ([]LegacyStudent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, register_number, legacy_semesters::text
		 FROM students
		 WHERE legacy_semesters IS NOT NULL AND legacy_semesters <> 'null'::jsonb
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LegacyStudent
	for rows.Next() {
		var ls LegacyStudent
		var raw string
		if err := rows.Scan(&ls.StudentID, &ls.RegisterNumber, &raw); err != nil {
			return nil, err
		}
		ls.Semesters = json.RawMessage(raw)
		out = append(out, ls)
	}
	return out, rows.Err()
}

// ClearLegacySemesters strips the embedded array from the given students.
func (r *LegacyRepository) ClearLegacySemesters(ctx context.Context, studentIDs []int) error {
	if len(studentIDs) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE students SET legacy_semesters = NULL, updated_at = NOW() WHERE id = ANY($1)`,
		studentIDs)
	return err
}
