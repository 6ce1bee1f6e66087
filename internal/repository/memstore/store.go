// Package memstore is an in-memory implementation of the academic storage
// contract. Subjects are kept JSON-encoded, the same way the PostgreSQL
// store keeps them in a JSONB column, so values read back have gone through
// the same encoding.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository"
)

type semesterKey struct {
	studentID int
	num       int
}

type semesterRow struct {
	id           int
	subjects     json.RawMessage
	sgpa         float64
	totalCredits float64
	createdAt    time.Time
	updatedAt    time.Time
}

type studentRow struct {
	student model.Student
	legacy  json.RawMessage
}

// Store keeps students and semesters in maps guarded by one RWMutex.
type Store struct {
	mutex sync.RWMutex

	studentPK  int
	semesterPK int
	students   map[int]*studentRow
	semesters  map[semesterKey]*semesterRow

	failUpdateAggregate error
	failUpsertSemester  error
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		students:  make(map[int]*studentRow),
		semesters: make(map[semesterKey]*semesterRow),
	}
}

// FailUpdateAggregate makes every UpdateStudentAggregate call return err
// until it is called again with nil.
func (s *Store) FailUpdateAggregate(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failUpdateAggregate = err
}

// FailUpsertSemester makes every UpsertSemester call return err until reset with nil.
func (s *Store) FailUpsertSemester(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failUpsertSemester = err
}

// SeedLegacy attaches a raw embedded semesters array to an existing student.
func (s *Store) SeedLegacy(studentID int, raw json.RawMessage) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, ok := s.students[studentID]
	if !ok {
		return repository.ErrNotFound
	}
	row.legacy = append(json.RawMessage(nil), raw...)
	return nil
}

// ForceAggregate overwrites a student's derived fields without bumping the
// version, to simulate an aggregate that drifted.
func (s *Store) ForceAggregate(studentID int, agg model.StudentAggregate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	row, ok := s.students[studentID]
	if !ok {
		return repository.ErrNotFound
	}
	row.student.CGPA = agg.CGPA
	row.student.Arrears = agg.Arrears
	return nil
}

// HasLegacy reports whether the student still carries an embedded array.
func (s *Store) HasLegacy(studentID int) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, ok := s.students[studentID]
	return ok && row.legacy != nil
}

// ─── Students ──────────────────────────────────────────────────────────

func (s *Store) GetStudent(_ context.Context, id int) (*model.Student, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	row, ok := s.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	st := row.student
	return &st, nil
}

func (s *Store) GetStudentByRegisterNumber(_ context.Context, registerNumber string) (*model.Student, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, row := range s.students {
		if row.student.RegisterNumber == registerNumber {
			st := row.student
			return &st, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) CreateStudent(_ context.Context, st *model.Student) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, row := range s.students {
		if row.student.RegisterNumber == st.RegisterNumber {
			return repository.ErrDuplicateRegisterNumber
		}
		if row.student.Email == st.Email {
			return repository.ErrDuplicateEmail
		}
	}

	s.studentPK++
	now := time.Now()
	st.ID = s.studentPK
	st.CGPA, st.Arrears, st.AggregateVersion = 0, 0, 0
	st.CreatedAt, st.UpdatedAt = now, now
	s.students[st.ID] = &studentRow{student: *st}
	return nil
}

func (s *Store) ListStudentIDs(_ context.Context) ([]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]int, 0, len(s.students))
	for id := range s.students {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *Store) UpdateStudentAggregate(_ context.Context, id int, agg model.StudentAggregate, expectedVersion int64) (*model.Student, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failUpdateAggregate != nil {
		return nil, s.failUpdateAggregate
	}
	row, ok := s.students[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if row.student.AggregateVersion != expectedVersion {
		return nil, repository.ErrVersionConflict
	}
	row.student.CGPA = agg.CGPA
	row.student.Arrears = agg.Arrears
	row.student.AggregateVersion++
	row.student.UpdatedAt = time.Now()
	st := row.student
	return &st, nil
}

func (s *Store) SearchStudents(_ context.Context, f model.StudentSearch, limit, offset int) ([]model.Student, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	q := strings.ToLower(f.Query)
	matches := []model.Student{}
	for _, row := range s.students {
		st := row.student
		if q != "" && !strings.Contains(strings.ToLower(st.Name), q) && !strings.Contains(strings.ToLower(st.RegisterNumber), q) {
			continue
		}
		if f.Department != "" && st.Department != f.Department {
			continue
		}
		if f.HasArrears && st.Arrears == 0 {
			continue
		}
		if f.MinCGPA != nil && st.CGPA < *f.MinCGPA {
			continue
		}
		matches = append(matches, st)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].RegisterNumber < matches[j].RegisterNumber })
	return page(matches, limit, offset), len(matches), nil
}

func (s *Store) Stats(_ context.Context) (*model.AcademicStats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	st := &model.AcademicStats{TotalStudents: len(s.students)}
	var sum float64
	for _, row := range s.students {
		sum += row.student.CGPA
		st.TotalArrears += row.student.Arrears
		if row.student.Arrears > 0 {
			st.StudentsWithArrears++
		}
	}
	if st.TotalStudents > 0 {
		st.AverageCGPA = sum / float64(st.TotalStudents)
	}
	return st, nil
}

// ─── Semesters ─────────────────────────────────────────────────────────

func (s *Store) toSemester(key semesterKey, row *semesterRow) (model.Semester, error) {
	sem := model.Semester{
		ID:           row.id,
		StudentID:    key.studentID,
		Num:          key.num,
		SGPA:         row.sgpa,
		TotalCredits: row.totalCredits,
		CreatedAt:    row.createdAt,
		UpdatedAt:    row.updatedAt,
	}
	if err := json.Unmarshal(row.subjects, &sem.Subjects); err != nil {
		return model.Semester{}, err
	}
	if sem.Subjects == nil {
		sem.Subjects = []model.Subject{}
	}
	return sem, nil
}

func (s *Store) GetSemestersByStudent(_ context.Context, studentID int) ([]model.Semester, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []model.Semester{}
	for key, row := range s.semesters {
		if key.studentID != studentID {
			continue
		}
		sem, err := s.toSemester(key, row)
		if err != nil {
			return nil, err
		}
		out = append(out, sem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out, nil
}

func (s *Store) GetSemester(_ context.Context, studentID, num int) (*model.Semester, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	key := semesterKey{studentID, num}
	row, ok := s.semesters[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	sem, err := s.toSemester(key, row)
	if err != nil {
		return nil, err
	}
	return &sem, nil
}

func (s *Store) UpsertSemester(_ context.Context, studentID, num int, data model.SemesterData) (*model.Semester, error) {
	subjects := data.Subjects
	if subjects == nil {
		subjects = []model.Subject{}
	}
	raw, err := json.Marshal(subjects)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failUpsertSemester != nil {
		return nil, s.failUpsertSemester
	}
	if _, ok := s.students[studentID]; !ok {
		return nil, repository.ErrNotFound
	}

	now := time.Now()
	key := semesterKey{studentID, num}
	row, ok := s.semesters[key]
	if !ok {
		s.semesterPK++
		row = &semesterRow{id: s.semesterPK, createdAt: now}
		s.semesters[key] = row
	}
	row.subjects = raw
	row.sgpa = data.SGPA
	row.totalCredits = data.TotalCredits
	row.updatedAt = now

	sem, err := s.toSemester(key, row)
	if err != nil {
		return nil, err
	}
	return &sem, nil
}

func (s *Store) DeleteSemesterRecord(_ context.Context, studentID, num int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := semesterKey{studentID, num}
	if _, ok := s.semesters[key]; !ok {
		return repository.ErrNotFound
	}
	delete(s.semesters, key)
	return nil
}

func (s *Store) ListSemesters(_ context.Context, limit, offset int) ([]model.SemesterListing, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := []model.SemesterListing{}
	for key, row := range s.semesters {
		st, ok := s.students[key.studentID]
		if !ok {
			continue
		}
		sem, err := s.toSemester(key, row)
		if err != nil {
			return nil, 0, err
		}
		ref := model.ResolvedStudent(model.StudentSummary{
			ID:             st.student.ID,
			Name:           st.student.Name,
			RegisterNumber: st.student.RegisterNumber,
		})
		out = append(out, model.SemesterListing{Semester: sem, Student: ref})
	}
	sort.Slice(out, func(i, j int) bool {
		ri, _ := out[i].Student.Resolved()
		rj, _ := out[j].Student.Resolved()
		if ri.RegisterNumber != rj.RegisterNumber {
			return ri.RegisterNumber < rj.RegisterNumber
		}
		return out[i].Num < out[j].Num
	})
	return page(out, limit, offset), len(out), nil
}

// page applies LIMIT/OFFSET semantics to a sorted slice.
func page[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit >= 0 {
		end = min(start+limit, len(items))
	}
	return items[start:end]
}

// ─── Legacy shape ──────────────────────────────────────────────────────

func (s *Store) ListLegacyStudents(_ context.Context) ([]repository.LegacyStudent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var out []repository.LegacyStudent
	for id, row := range s.students {
		if row.legacy == nil || string(row.legacy) == "null" {
			continue
		}
		out = append(out, repository.LegacyStudent{
			StudentID:      id,
			RegisterNumber: row.student.RegisterNumber,
			Semesters:      append(json.RawMessage(nil), row.legacy...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) ClearLegacySemesters(_ context.Context, studentIDs []int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, id := range studentIDs {
		if row, ok := s.students[id]; ok {
			row.legacy = nil
		}
	}
	return nil
}
