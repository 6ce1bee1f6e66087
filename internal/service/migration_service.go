package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edutrack/edutrack-backend/internal/aggregate"
	"github.com/edutrack/edutrack-backend/internal/metrics"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository"
)

// LegacyStore reads and strips the embedded semesters array.
type LegacyStore interface {
	ListLegacyStudents(ctx context.Context) ([]repository.LegacyStudent, error)
	ClearLegacySemesters(ctx context.Context, studentIDs []int) error
}

// MigrationFailure is a student whose embedded semesters were left in place.
type MigrationFailure struct {
	StudentID      int    `json:"student_id"`
	RegisterNumber string `json:"register_number"`
	Error          string `json:"error"`
}

// MigrationReport summarises one run of the legacy shape migration.
type MigrationReport struct {
	RunID            string             `json:"run_id"`
	MigratedCount    int                `json:"migrated_count"`
	SemestersWritten int                `json:"semesters_written"`
	Backfilled       int                `json:"backfilled"`
	EmptyCleared     int                `json:"empty_cleared"`
	Failed           []MigrationFailure `json:"failed"`
	Duration         time.Duration      `json:"duration"`
}

type legacySemester struct {
	Num          legacyNumber    `json:"num"`
	SGPA         legacyNumber    `json:"sgpa"`
	TotalCredits legacyNumber    `json:"totalCredits"`
	Subjects     []legacySubject `json:"subjects"`
}

type legacySubject struct {
	Code    string       `json:"code"`
	Title   string       `json:"title"`
	Credits legacyNumber `json:"credits"`
	Grade   string       `json:"grade"`
}

// legacyNumber accepts a JSON number, a numeric string or null. Old
// documents were written by forms that did not always coerce numbers.
type legacyNumber float64

func (n *legacyNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = legacyNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = legacyNumber(f)
	return nil
}

// MigrationService moves semesters embedded in student rows into the
// semesters table, one row per (student, num).
type MigrationService struct {
	academic *AcademicService
	legacy   LegacyStore
	log      zerolog.Logger
}

// NewMigrationService creates a new MigrationService.
func NewMigrationService(academic *AcademicService, legacy LegacyStore, log zerolog.Logger) *MigrationService {
	return &MigrationService{
		academic: academic,
		legacy:   legacy,
		log:      log.With().Str("component", "migration_service").Logger(),
	}
}

type studentOutcome struct {
	written    int
	backfilled int
	empty      bool
	err        error
}

// MigrateLegacyShape upserts every embedded semester into its own row,
// reconciles each migrated student, and only then strips the embedded
// arrays of the students that succeeded. Students that fail keep their
// array and are reported. Running it again after a full success is a no-op.
func (m *MigrationService) MigrateLegacyShape(ctx context.Context) (*MigrationReport, error) {
	start := time.Now()
	report := &MigrationReport{RunID: uuid.NewString(), Failed: []MigrationFailure{}}
	log := m.log.With().Str("run_id", report.RunID).Logger()

	students, err := m.legacy.ListLegacyStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list legacy students: %w", err)
	}
	log.Info().Int("students", len(students)).Msg("legacy shape migration started")

	var (
		mu      sync.Mutex
		cleared []int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.academic.batchWorkers)
	for _, ls := range students {
		g.Go(func() error {
			out := m.migrateStudent(gctx, ls)

			mu.Lock()
			defer mu.Unlock()
			if out.err != nil {
				metrics.LegacyStudentsMigrated.WithLabelValues(metrics.OutcomeFailed).Inc()
				report.Failed = append(report.Failed, MigrationFailure{
					StudentID:      ls.StudentID,
					RegisterNumber: ls.RegisterNumber,
					Error:          out.err.Error(),
				})
				log.Error().Err(out.err).Int("student_id", ls.StudentID).Msg("legacy semesters not migrated")
				return nil
			}

			metrics.LegacyStudentsMigrated.WithLabelValues(metrics.OutcomeOK).Inc()
			cleared = append(cleared, ls.StudentID)
			report.SemestersWritten += out.written
			report.Backfilled += out.backfilled
			if out.empty {
				report.EmptyCleared++
			} else {
				report.MigratedCount++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	sort.Ints(cleared)
	if err := m.legacy.ClearLegacySemesters(ctx, cleared); err != nil {
		return report, fmt.Errorf("strip legacy semesters: %w", err)
	}
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].StudentID < report.Failed[j].StudentID })
	report.Duration = time.Since(start)

	log.Info().
		Int("migrated", report.MigratedCount).
		Int("semesters", report.SemestersWritten).
		Int("backfilled", report.Backfilled).
		Int("empty_cleared", report.EmptyCleared).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("legacy shape migration finished")

	return report, nil
}

// migrateStudent parses and grades every embedded semester before writing
// any of them, so a student with bad data is left untouched.
func (m *MigrationService) migrateStudent(ctx context.Context, ls repository.LegacyStudent) studentOutcome {
	var legacy []legacySemester
	if err := json.Unmarshal(ls.Semesters, &legacy); err != nil {
		return studentOutcome{err: fmt.Errorf("decode embedded semesters: %w", err)}
	}
	if len(legacy) == 0 {
		return studentOutcome{empty: true}
	}

	type pending struct {
		num  int
		data model.SemesterData
	}
	writes := make([]pending, 0, len(legacy))
	seen := make(map[int]bool, len(legacy))
	var backfilled int

	for i, sem := range legacy {
		num := int(sem.Num)
		if float64(num) != float64(sem.Num) || num < model.MinSemesterNum || num > model.MaxSemesterNum {
			return studentOutcome{err: fmt.Errorf("semester at index %d: invalid num %v", i, float64(sem.Num))}
		}
		if seen[num] {
			return studentOutcome{err: fmt.Errorf("semester %d appears more than once", num)}
		}
		seen[num] = true

		subjects := make([]model.Subject, len(sem.Subjects))
		for j, sub := range sem.Subjects {
			subjects[j] = model.Subject{
				Code:    sub.Code,
				Title:   sub.Title,
				Credits: float64(sub.Credits),
				Grade:   sub.Grade,
			}
		}
		subjects = normalizeSubjects(subjects)
		for j, sub := range subjects {
			if sub.Code == "" {
				return studentOutcome{err: fmt.Errorf("semester %d subject %d: missing code", num, j)}
			}
			if !(sub.Credits >= 0) || math.IsInf(sub.Credits, 0) {
				return studentOutcome{err: fmt.Errorf("semester %d subject %s: invalid credits", num, sub.Code)}
			}
		}

		computed, err := aggregate.Semester(m.academic.scale, subjects)
		if err != nil {
			return studentOutcome{err: fmt.Errorf("semester %d: %w", num, err)}
		}
		if len(subjects) > 0 && (sem.SGPA == 0 || sem.TotalCredits == 0) {
			backfilled++
		}

		writes = append(writes, pending{num: num, data: model.SemesterData{
			Subjects:     subjects,
			SGPA:         computed.SGPA,
			TotalCredits: computed.TotalCredits,
		}})
	}

	unlock, err := m.academic.lockStudent(ctx, ls.StudentID)
	if err != nil {
		return studentOutcome{err: err}
	}
	defer unlock()

	student, err := m.academic.getStudent(ctx, ls.StudentID)
	if err != nil {
		return studentOutcome{err: err}
	}

	for i, w := range writes {
		if _, err := m.academic.store.UpsertSemester(ctx, ls.StudentID, w.num, w.data); err != nil {
			werr := fmt.Errorf("write semester %d: %w", w.num, err)
			if i > 0 {
				// Earlier semesters are already stored; the aggregate must follow them
				// even though the embedded array stays for a rerun.
				if _, rerr := m.academic.reconcileLocked(ctx, student); rerr != nil {
					_ = m.academic.deferReconcile(ctx, ls.StudentID, "migrate_legacy_shape", rerr)
				}
			}
			return studentOutcome{err: werr}
		}
	}

	// The semesters are in their own rows now, so a reconcile failure is
	// deferred rather than keeping the embedded array around.
	if _, err := m.academic.reconcileLocked(ctx, student); err != nil {
		_ = m.academic.deferReconcile(ctx, ls.StudentID, "migrate_legacy_shape", err)
	}

	return studentOutcome{written: len(writes), backfilled: backfilled}
}
