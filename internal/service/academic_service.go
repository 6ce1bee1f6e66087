package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edutrack/edutrack-backend/internal/aggregate"
	"github.com/edutrack/edutrack-backend/internal/grade"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/metrics"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository"
)

const (
	defaultBatchWorkers = 4
	enqueueTimeout      = 3 * time.Second

	// aggregateTolerance absorbs float noise when comparing stored and
	// recomputed CGPA; real drift is orders of magnitude larger.
	aggregateTolerance = 1e-9
)

// AcademicStore is the storage contract of the academic core.
type AcademicStore interface {
	GetStudent(ctx context.Context, id int) (*model.Student, error)
	GetStudentByRegisterNumber(ctx context.Context, registerNumber string) (*model.Student, error)
	CreateStudent(ctx context.Context, s *model.Student) error
	ListStudentIDs(ctx context.Context) ([]int, error)
	SearchStudents(ctx context.Context, f model.StudentSearch, limit, offset int) ([]model.Student, int, error)
	UpdateStudentAggregate(ctx context.Context, id int, agg model.StudentAggregate, expectedVersion int64) (*model.Student, error)
	Stats(ctx context.Context) (*model.AcademicStats, error)

	GetSemestersByStudent(ctx context.Context, studentID int) ([]model.Semester, error)
	GetSemester(ctx context.Context, studentID, num int) (*model.Semester, error)
	UpsertSemester(ctx context.Context, studentID, num int, data model.SemesterData) (*model.Semester, error)
	DeleteSemesterRecord(ctx context.Context, studentID, num int) error
	ListSemesters(ctx context.Context, limit, offset int) ([]model.SemesterListing, int, error)
}

// StudentLocker provides the per-student exclusive section.
type StudentLocker interface {
	Lock(ctx context.Context, studentID int) (lock.Unlock, error)
}

// ReconcileQueue records students whose aggregate must be reconciled later.
type ReconcileQueue interface {
	Enqueue(ctx context.Context, studentID int, reason string) error
}

// SemesterResult is returned by a semester submission.
type SemesterResult struct {
	Semester *model.Semester `json:"semester"`
	Student  *model.Student  `json:"student"`
}

// ReconcileResult describes one student reconciliation.
type ReconcileResult struct {
	Student   *model.Student         `json:"student"`
	Previous  model.StudentAggregate `json:"previous"`
	Corrected bool                   `json:"corrected"`
}

// ReconcileSummary describes a reconciliation over every student.
type ReconcileSummary struct {
	Checked   int   `json:"checked"`
	Corrected int   `json:"corrected"`
	Failed    []int `json:"failed"`
}

// AcademicService keeps semester SGPA and student CGPA/arrears consistent
// with the stored subject grades.
type AcademicService struct {
	store        AcademicStore
	locker       StudentLocker
	scale        *grade.Scale
	queue        ReconcileQueue
	batchWorkers int
	log          zerolog.Logger
}

// NewAcademicService creates a new AcademicService. queue may be nil, in
// which case deferred reconciliations are only logged.
func NewAcademicService(store AcademicStore, locker StudentLocker, scale *grade.Scale, queue ReconcileQueue, log zerolog.Logger) *AcademicService {
	return &AcademicService{
		store:        store,
		locker:       locker,
		scale:        scale,
		queue:        queue,
		batchWorkers: defaultBatchWorkers,
		log:          log.With().Str("component", "academic_service").Logger(),
	}
}

// WithBatchWorkers sets how many students batch operations process at once.
func (s *AcademicService) WithBatchWorkers(n int) *AcademicService {
	if n > 0 {
		s.batchWorkers = n
	}
	return s
}

// Scale returns the grade scale in use.
func (s *AcademicService) Scale() *grade.Scale {
	return s.scale
}

// ─── Student registry ──────────────────────────────────────────────────

// CreateStudent registers a student with zeroed derived fields.
func (s *AcademicService) CreateStudent(ctx context.Context, req model.CreateStudentRequest) (*model.Student, error) {
	st := &model.Student{
		RegisterNumber:  strings.TrimSpace(req.RegisterNumber),
		Name:            strings.TrimSpace(req.Name),
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		Department:      req.Department,
		CurrentSemester: req.CurrentSemester,
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		if errors.Is(err, repository.ErrDuplicateRegisterNumber) || errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateStudent, err)
		}
		return nil, fmt.Errorf("create student: %w", err)
	}
	return st, nil
}

// GetStudent retrieves a student by ID.
func (s *AcademicService) GetStudent(ctx context.Context, id int) (*model.Student, error) {
	return s.getStudent(ctx, id)
}

// GetStudentByRegisterNumber retrieves a student by register number.
func (s *AcademicService) GetStudentByRegisterNumber(ctx context.Context, registerNumber string) (*model.Student, error) {
	st, err := s.store.GetStudentByRegisterNumber(ctx, registerNumber)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: student %s", ErrNotFound, registerNumber)
		}
		return nil, err
	}
	return st, nil
}

// ListStudentSemesters returns a student's semesters ordered by number.
func (s *AcademicService) ListStudentSemesters(ctx context.Context, studentID int) ([]model.Semester, error) {
	if _, err := s.getStudent(ctx, studentID); err != nil {
		return nil, err
	}
	return s.store.GetSemestersByStudent(ctx, studentID)
}

// ListAllSemesters returns one page of semesters with their owning student
// resolved, and the total number of semesters. Pages start at 1.
func (s *AcademicService) ListAllSemesters(ctx context.Context, page, perPage int) ([]model.SemesterListing, int, error) {
	limit, offset := pageBounds(page, perPage)
	return s.store.ListSemesters(ctx, limit, offset)
}

// SearchStudents returns one page of students matching f, and the total
// number of matches. Pages start at 1.
func (s *AcademicService) SearchStudents(ctx context.Context, f model.StudentSearch, page, perPage int) ([]model.Student, int, error) {
	if f.MinCGPA != nil && (*f.MinCGPA < 0 || *f.MinCGPA > 10) {
		return nil, 0, newValidationError("min_cgpa", "must be between 0 and 10")
	}
	limit, offset := pageBounds(page, perPage)
	return s.store.SearchStudents(ctx, f, limit, offset)
}

func pageBounds(page, perPage int) (limit, offset int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	return perPage, (page - 1) * perPage
}

// Stats summarises CGPA and arrears across students.
func (s *AcademicService) Stats(ctx context.Context) (*model.AcademicStats, error) {
	return s.store.Stats(ctx)
}

// ─── Mutations ─────────────────────────────────────────────────────────

// SubmitSemester replaces the full subject list of semester num for a
// student, recomputes its SGPA, then reconciles the student's CGPA and
// arrears from all stored semesters.
//
// Nothing is written when validation or grading fails. If the semester is
// stored but the student cannot be reconciled, the result still carries
// the stored semester and the error wraps ErrReconcileDeferred.
func (s *AcademicService) SubmitSemester(ctx context.Context, studentID, num int, subjects []model.Subject) (*SemesterResult, error) {
	defer observe("submit_semester", time.Now())

	subjects = normalizeSubjects(subjects)
	if err := validateSemester(num, subjects); err != nil {
		metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeRejected).Inc()
		return nil, err
	}
	semAgg, err := aggregate.Semester(s.scale, subjects)
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeRejected).Inc()
		return nil, err
	}

	unlock, err := s.lockStudent(ctx, studentID)
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeConflict).Inc()
		return nil, err
	}
	defer unlock()

	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	sem, err := s.store.UpsertSemester(ctx, studentID, num, model.SemesterData{
		Subjects:     subjects,
		SGPA:         semAgg.SGPA,
		TotalCredits: semAgg.TotalCredits,
	})
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeFailed).Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: student %d", ErrNotFound, studentID)
		}
		return nil, fmt.Errorf("replace semester %d of student %d: %w", num, studentID, err)
	}

	res, err := s.reconcileLocked(ctx, student)
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeDeferred).Inc()
		return &SemesterResult{Semester: sem, Student: student}, s.deferReconcile(ctx, studentID, "submit_semester", err)
	}

	metrics.SemesterMutations.WithLabelValues("submit", metrics.OutcomeOK).Inc()
	s.log.Info().
		Int("student_id", studentID).
		Int("num", num).
		Int("subjects", len(subjects)).
		Float64("sgpa", sem.SGPA).
		Float64("cgpa", res.Student.CGPA).
		Int("arrears", res.Student.Arrears).
		Msg("semester submitted")

	return &SemesterResult{Semester: sem, Student: res.Student}, nil
}

// DeleteSemester removes semester num and reconciles the student over the
// semesters that remain.
func (s *AcademicService) DeleteSemester(ctx context.Context, studentID, num int) (*model.Student, error) {
	defer observe("delete_semester", time.Now())

	if num < model.MinSemesterNum || num > model.MaxSemesterNum {
		return nil, newValidationError("num", fmt.Sprintf("must be between %d and %d", model.MinSemesterNum, model.MaxSemesterNum))
	}

	unlock, err := s.lockStudent(ctx, studentID)
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("delete", metrics.OutcomeConflict).Inc()
		return nil, err
	}
	defer unlock()

	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteSemesterRecord(ctx, studentID, num); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: semester %d of student %d", ErrNotFound, num, studentID)
		}
		metrics.SemesterMutations.WithLabelValues("delete", metrics.OutcomeFailed).Inc()
		return nil, fmt.Errorf("delete semester %d of student %d: %w", num, studentID, err)
	}

	res, err := s.reconcileLocked(ctx, student)
	if err != nil {
		metrics.SemesterMutations.WithLabelValues("delete", metrics.OutcomeDeferred).Inc()
		return student, s.deferReconcile(ctx, studentID, "delete_semester", err)
	}

	metrics.SemesterMutations.WithLabelValues("delete", metrics.OutcomeOK).Inc()
	s.log.Info().
		Int("student_id", studentID).
		Int("num", num).
		Float64("cgpa", res.Student.CGPA).
		Int("arrears", res.Student.Arrears).
		Msg("semester deleted")

	return res.Student, nil
}

// ReconcileStudent recomputes a student's CGPA and arrears from the stored
// semesters. It writes only when the stored values are stale, so running
// it on a consistent student changes nothing.
func (s *AcademicService) ReconcileStudent(ctx context.Context, studentID int) (*ReconcileResult, error) {
	defer observe("reconcile_student", time.Now())

	unlock, err := s.lockStudent(ctx, studentID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues(metrics.OutcomeConflict).Inc()
		return nil, err
	}
	defer unlock()

	student, err := s.getStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	res, err := s.reconcileLocked(ctx, student)
	if err != nil {
		metrics.Reconciliations.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, err
	}

	if res.Corrected {
		metrics.StaleAggregates.Inc()
		metrics.Reconciliations.WithLabelValues(metrics.OutcomeCorrected).Inc()
		s.log.Warn().
			Int("student_id", studentID).
			Float64("stored_cgpa", res.Previous.CGPA).
			Int("stored_arrears", res.Previous.Arrears).
			Float64("cgpa", res.Student.CGPA).
			Int("arrears", res.Student.Arrears).
			Msg("stale student aggregate corrected")
	} else {
		metrics.Reconciliations.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return res, nil
}

// ReconcileAll reconciles every student, a bounded number at a time.
// Individual failures are collected in the summary rather than aborting the run.
func (s *AcademicService) ReconcileAll(ctx context.Context) (*ReconcileSummary, error) {
	ids, err := s.store.ListStudentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}

	summary := &ReconcileSummary{Failed: []int{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for _, id := range ids {
		g.Go(func() error {
			res, err := s.ReconcileStudent(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if err != nil {
				summary.Failed = append(summary.Failed, id)
				s.log.Error().Err(err).Int("student_id", id).Msg("reconcile failed")
				return nil
			}
			if res.Corrected {
				summary.Corrected++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Ints(summary.Failed)

	s.log.Info().
		Int("checked", summary.Checked).
		Int("corrected", summary.Corrected).
		Int("failed", len(summary.Failed)).
		Msg("reconcile all finished")

	return summary, ctx.Err()
}

// ─── Internals ─────────────────────────────────────────────────────────

// reconcileLocked recomputes and stores the student aggregate. The caller
// must hold the student's lock; student is the row read under that lock.
func (s *AcademicService) reconcileLocked(ctx context.Context, student *model.Student) (*ReconcileResult, error) {
	semesters, err := s.store.GetSemestersByStudent(ctx, student.ID)
	if err != nil {
		return nil, fmt.Errorf("load semesters of student %d: %w", student.ID, err)
	}

	computed, err := aggregate.Student(s.scale, semesters)
	if err != nil {
		return nil, fmt.Errorf("aggregate student %d: %w", student.ID, err)
	}

	prev := student.Aggregate()
	want := computed.ToModel()
	if sameAggregate(prev, want) {
		return &ReconcileResult{Student: student, Previous: prev}, nil
	}

	updated, err := s.store.UpdateStudentAggregate(ctx, student.ID, want, student.AggregateVersion)
	if err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: student %d", ErrConcurrencyConflict, student.ID)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: student %d", ErrNotFound, student.ID)
		}
		return nil, fmt.Errorf("update aggregate of student %d: %w", student.ID, err)
	}
	return &ReconcileResult{Student: updated, Previous: prev, Corrected: true}, nil
}

// deferReconcile records a student whose semester write succeeded but whose
// aggregate could not be reconciled. The caller's context may already be
// cancelled, so the queue write uses a detached one.
func (s *AcademicService) deferReconcile(ctx context.Context, studentID int, operation string, cause error) error {
	metrics.DeferredReconciles.Inc()

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()

	queued := false
	if s.queue != nil {
		if err := s.queue.Enqueue(qctx, studentID, cause.Error()); err != nil {
			s.log.Error().Err(err).Int("student_id", studentID).Msg("failed to queue deferred reconcile, run reconcile manually")
		} else {
			queued = true
		}
	}

	s.log.Error().
		Err(cause).
		Int("student_id", studentID).
		Str("operation", operation).
		Bool("queued", queued).
		Msg("semester stored but student aggregate is stale")

	return fmt.Errorf("%w: %w", ErrReconcileDeferred, cause)
}

func (s *AcademicService) lockStudent(ctx context.Context, studentID int) (lock.Unlock, error) {
	unlock, err := s.locker.Lock(ctx, studentID)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
		}
		return nil, fmt.Errorf("lock student %d: %w", studentID, err)
	}
	return unlock, nil
}

func (s *AcademicService) getStudent(ctx context.Context, id int) (*model.Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: student %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	return st, nil
}

func normalizeSubjects(subjects []model.Subject) []model.Subject {
	out := make([]model.Subject, len(subjects))
	for i, sub := range subjects {
		out[i] = model.Subject{
			Code:    strings.TrimSpace(sub.Code),
			Title:   strings.TrimSpace(sub.Title),
			Credits: sub.Credits,
			Grade:   grade.Normalize(sub.Grade),
		}
	}
	return out
}

func validateSemester(num int, subjects []model.Subject) error {
	fields := make(map[string]string)
	if num < model.MinSemesterNum || num > model.MaxSemesterNum {
		fields["num"] = fmt.Sprintf("must be between %d and %d", model.MinSemesterNum, model.MaxSemesterNum)
	}
	for i, sub := range subjects {
		prefix := fmt.Sprintf("subjects[%d]", i)
		if sub.Code == "" {
			fields[prefix+".code"] = "is required"
		}
		if sub.Title == "" {
			fields[prefix+".title"] = "is required"
		}
		if !(sub.Credits > 0) || math.IsInf(sub.Credits, 0) {
			fields[prefix+".credits"] = "must be greater than 0"
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func sameAggregate(a, b model.StudentAggregate) bool {
	return a.Arrears == b.Arrears && math.Abs(a.CGPA-b.CGPA) <= aggregateTolerance
}

func observe(operation string, start time.Time) {
	metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
