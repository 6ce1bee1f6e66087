package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutrack/edutrack-backend/internal/grade"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository/memstore"
)

func newTestMigration(t *testing.T) (*MigrationService, *AcademicService, *memstore.Store) {
	t.Helper()
	svc, store, _ := newTestService(t)
	return NewMigrationService(svc, store, zerolog.Nop()), svc, store
}

func TestMigrateLegacyShape(t *testing.T) {
	mig, svc, store := newTestMigration(t)
	ctx := context.Background()

	a := seedStudent(t, svc, "REG001")
	b := seedStudent(t, svc, "REG002")
	c := seedStudent(t, svc, "REG003")

	// a: stored sgpa present, b: sgpa and credits missing, c: empty array.
	require.NoError(t, store.SeedLegacy(a.ID, json.RawMessage(`[
		{"num": 1, "sgpa": 7.5, "totalCredits": 8, "subjects": [
			{"code": "CS101", "title": "Programming", "credits": 4, "grade": "A"},
			{"code": "CS102", "title": "Maths", "credits": 4, "grade": "B+"}
		]},
		{"num": 2, "sgpa": 10, "totalCredits": 4, "subjects": [
			{"code": "CS201", "title": "Data Structures", "credits": 4, "grade": "O"}
		]}
	]`)))
	require.NoError(t, store.SeedLegacy(b.ID, json.RawMessage(`[
		{"num": 1, "subjects": [
			{"code": "EE101", "title": "Circuits", "credits": "3", "grade": "u"},
			{"code": "EE102", "title": "Signals", "credits": 3, "grade": "A+"}
		]}
	]`)))
	require.NoError(t, store.SeedLegacy(c.ID, json.RawMessage(`[]`)))

	report, err := mig.MigrateLegacyShape(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.MigratedCount)
	assert.Equal(t, 3, report.SemestersWritten)
	assert.Equal(t, 1, report.Backfilled)
	assert.Equal(t, 1, report.EmptyCleared)
	assert.Empty(t, report.Failed)

	sem, err := store.GetSemester(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, sem.SGPA, eps)
	assert.InDelta(t, 6.0, sem.TotalCredits, eps)
	assert.Equal(t, "U", sem.Subjects[0].Grade)

	gotA := assertConsistent(t, store, a.ID)
	assert.InDelta(t, 100.0/12.0, gotA.CGPA, eps)
	gotB := assertConsistent(t, store, b.ID)
	assert.Equal(t, 1, gotB.Arrears)

	for _, id := range []int{a.ID, b.ID, c.ID} {
		assert.False(t, store.HasLegacy(id))
	}
}

func TestMigrateLegacyShape_Idempotent(t *testing.T) {
	mig, svc, store := newTestMigration(t)
	ctx := context.Background()
	st := seedStudent(t, svc, "REG001")
	require.NoError(t, store.SeedLegacy(st.ID, json.RawMessage(`[
		{"num": 1, "sgpa": 0, "totalCredits": 0, "subjects": [{"code": "CS101", "title": "Programming", "credits": 4, "grade": "A"}]}
	]`)))

	_, err := mig.MigrateLegacyShape(ctx)
	require.NoError(t, err)
	first, err := store.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	firstSems, err := store.GetSemestersByStudent(ctx, st.ID)
	require.NoError(t, err)

	report, err := mig.MigrateLegacyShape(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.MigratedCount)
	assert.Equal(t, 0, report.SemestersWritten)

	second, err := store.GetStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	secondSems, err := store.GetSemestersByStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, firstSems, secondSems)
}

func TestMigrateLegacyShape_PartiallyMigratedStudent(t *testing.T) {
	mig, svc, store := newTestMigration(t)
	ctx := context.Background()
	st := seedStudent(t, svc, "REG001")

	// A previous run wrote semester 1 and crashed before stripping the array.
	_, err := svc.SubmitSemester(ctx, st.ID, 1, []model.Subject{subj("CS101", 4, "A")})
	require.NoError(t, err)
	require.NoError(t, store.SeedLegacy(st.ID, json.RawMessage(`[
		{"num": 1, "subjects": [{"code": "CS101", "title": "Programming", "credits": 4, "grade": "A"}]},
		{"num": 2, "subjects": [{"code": "CS201", "title": "Networks", "credits": 4, "grade": "O"}]}
	]`)))

	report, err := mig.MigrateLegacyShape(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MigratedCount)

	sems, err := store.GetSemestersByStudent(ctx, st.ID)
	require.NoError(t, err)
	assert.Len(t, sems, 2)
	got := assertConsistent(t, store, st.ID)
	assert.InDelta(t, 9.0, got.CGPA, eps)
	assert.False(t, store.HasLegacy(st.ID))
}

func TestMigrateLegacyShape_BadStudentKeepsArray(t *testing.T) {
	mig, svc, store := newTestMigration(t)
	ctx := context.Background()
	good := seedStudent(t, svc, "REG001")
	bad := seedStudent(t, svc, "REG002")
	dup := seedStudent(t, svc, "REG003")

	require.NoError(t, store.SeedLegacy(good.ID, json.RawMessage(`[
		{"num": 1, "subjects": [{"code": "CS101", "title": "Programming", "credits": 4, "grade": "A"}]}
	]`)))
	require.NoError(t, store.SeedLegacy(bad.ID, json.RawMessage(`[
		{"num": 1, "subjects": [{"code": "CS101", "title": "Programming", "credits": 4, "grade": "A"}]},
		{"num": 2, "subjects": [{"code": "CS201", "title": "Networks", "credits": 4, "grade": "Q"}]}
	]`)))
	require.NoError(t, store.SeedLegacy(dup.ID, json.RawMessage(`[
		{"num": 1, "subjects": []},
		{"num": 1, "subjects": []}
	]`)))

	report, err := mig.MigrateLegacyShape(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.MigratedCount)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, bad.ID, report.Failed[0].StudentID)
	assert.Equal(t, "REG002", report.Failed[0].RegisterNumber)
	assert.Equal(t, dup.ID, report.Failed[1].StudentID)

	// Nothing was written for the student with an unknown grade.
	sems, err := store.GetSemestersByStudent(ctx, bad.ID)
	require.NoError(t, err)
	assert.Empty(t, sems)

	assert.False(t, store.HasLegacy(good.ID))
	assert.True(t, store.HasLegacy(bad.ID))
	assert.True(t, store.HasLegacy(dup.ID))
}

// failingUpsertStore fails the nth UpsertSemester call and passes every other
// call through to the in-memory store.
type failingUpsertStore struct {
	*memstore.Store

	mu    sync.Mutex
	n     int
	calls int
}

func (f *failingUpsertStore) UpsertSemester(ctx context.Context, studentID, num int, data model.SemesterData) (*model.Semester, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.n
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return f.Store.UpsertSemester(ctx, studentID, num, data)
}

func TestMigrateLegacyShape_PartialWriteReconciles(t *testing.T) {
	legacy := json.RawMessage(`[
		{"num": 1, "subjects": [{"code": "CS101", "title": "Programming", "credits": 4, "grade": "F"}]},
		{"num": 2, "subjects": [{"code": "CS201", "title": "Data Structures", "credits": 4, "grade": "O"}]}
	]`)

	tests := []struct {
		name          string
		failAggregate bool
		wantQueued    bool
	}{
		{name: "aggregate follows stored semesters"},
		{name: "aggregate failure is queued", failAggregate: true, wantQueued: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &failingUpsertStore{Store: memstore.New(), n: 2}
			queue := &fakeQueue{}
			svc := NewAcademicService(store, lock.NewLocalLocker(5*time.Second), grade.Default(), queue, zerolog.Nop())
			mig := NewMigrationService(svc, store.Store, zerolog.Nop())

			st := seedStudent(t, svc, "REG001")
			require.NoError(t, store.SeedLegacy(st.ID, legacy))
			if tt.failAggregate {
				store.FailUpdateAggregate(errors.New("db down"))
			}

			report, err := mig.MigrateLegacyShape(ctx)
			require.NoError(t, err)
			require.Len(t, report.Failed, 1)
			assert.Zero(t, report.MigratedCount)
			assert.True(t, store.HasLegacy(st.ID))

			sems, err := store.GetSemestersByStudent(ctx, st.ID)
			require.NoError(t, err)
			require.Len(t, sems, 1)
			assert.Equal(t, 1, sems[0].Num)

			if tt.wantQueued {
				assert.Equal(t, []int{st.ID}, queue.queued())
				return
			}
			assert.Empty(t, queue.queued())
			got := assertConsistent(t, store.Store, st.ID)
			assert.Equal(t, 1, got.Arrears)
		})
	}
}

func TestMigrateLegacyShape_MalformedJSON(t *testing.T) {
	mig, svc, store := newTestMigration(t)
	st := seedStudent(t, svc, "REG001")
	require.NoError(t, store.SeedLegacy(st.ID, json.RawMessage(`{"num": 1}`)))

	report, err := mig.MigrateLegacyShape(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)
	assert.True(t, store.HasLegacy(st.ID))
}

func TestLegacyNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: `4`, want: 4},
		{in: `3.5`, want: 3.5},
		{in: `"2"`, want: 2},
		{in: `""`, want: 0},
		{in: `null`, want: 0},
		{in: `"four"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var n legacyNumber
			err := json.Unmarshal([]byte(tt.in), &n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, float64(n))
		})
	}
}
