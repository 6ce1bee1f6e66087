package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutrack/edutrack-backend/internal/config"
	"github.com/edutrack/edutrack-backend/internal/grade"
	"github.com/edutrack/edutrack-backend/internal/handler"
	"github.com/edutrack/edutrack-backend/internal/lock"
	"github.com/edutrack/edutrack-backend/internal/middleware"
	"github.com/edutrack/edutrack-backend/internal/model"
	"github.com/edutrack/edutrack-backend/internal/repository/memstore"
	"github.com/edutrack/edutrack-backend/internal/response"
	"github.com/edutrack/edutrack-backend/internal/service"
	"github.com/edutrack/edutrack-backend/internal/validator"
)

type testAPI struct {
	engine *gin.Engine
	auth   *service.AuthService
	store  *memstore.Store
	token  string
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func newTestAPI(t *testing.T, limiter *middleware.RateLimiter) *testAPI {
	t.Helper()

	scale := grade.Default()
	require.NoError(t, validator.Setup(scale))

	cfg := &config.Config{
		GinMode:   gin.TestMode,
		JWTSecret: "router-test-secret",
		JWTExpiry: time.Hour,
	}
	log := zerolog.Nop()
	store := memstore.New()
	academic := service.NewAcademicService(store, lock.NewLocalLocker(time.Second), scale, nil, log)
	auth := service.NewAuthService(cfg)

	handlers := &Handlers{
		Student:  handler.NewStudentHandler(academic, log),
		Semester: handler.NewSemesterHandler(academic, log),
		System:   handler.NewSystemHandler(map[string]handler.Pinger{}, nil, log),
	}
	engine := SetupRouter(auth, handlers, cfg, Options{Log: log, ReconcileLimiter: limiter})

	token, err := auth.GenerateAdminToken(1, model.AllPermissions)
	require.NoError(t, err)

	return &testAPI{engine: engine, auth: auth, store: store, token: token}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (a *testAPI) createStudent(t *testing.T, reg string) model.Student {
	t.Helper()
	rec, env := a.do(t, http.MethodPost, "/api/v1/admin/students", model.CreateStudentRequest{
		RegisterNumber:  reg,
		Name:            "Test Student",
		Email:           reg + "@edutrack.local",
		Department:      model.DeptComputerScience,
		CurrentSemester: 2,
	}, a.token)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body struct {
		Student model.Student `json:"student"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	return body.Student
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/api/v1/admin/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)

	rec, env = api.do(t, http.MethodGet, "/api/v1/admin/stats", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, response.ErrTokenInvalid, env.Error.Code)
}

func TestPermissionDenied(t *testing.T) {
	api := newTestAPI(t, nil)
	readOnly, err := api.auth.GenerateAdminToken(2, []model.Permission{model.PermissionStudentsRead})
	require.NoError(t, err)

	rec, _ := api.do(t, http.MethodGet, "/api/v1/admin/stats", nil, readOnly)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := api.do(t, http.MethodPut, "/api/v1/admin/students/1/semesters/1", model.SubmitSemesterRequest{}, readOnly)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, response.ErrPermissionDenied, env.Error.Code)
}

func TestSubmitSemesterFlow(t *testing.T) {
	api := newTestAPI(t, nil)
	st := api.createStudent(t, "REG1001")

	path := "/api/v1/admin/students/" + strconv.Itoa(st.ID) + "/semesters/1"
	rec, env := api.do(t, http.MethodPut, path, model.SubmitSemesterRequest{Subjects: []model.SubjectInput{
		{Code: "CS101", Title: "Programming", Credits: 4, Grade: "a"},
		{Code: "CS102", Title: "Mathematics", Credits: 4, Grade: "U"},
	}}, api.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Semester model.Semester `json:"semester"`
		Student  model.Student  `json:"student"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.InDelta(t, 4.0, body.Semester.SGPA, 1e-9)
	assert.Equal(t, "A", body.Semester.Subjects[0].Grade)
	assert.InDelta(t, 4.0, body.Student.CGPA, 1e-9)
	assert.Equal(t, 1, body.Student.Arrears)

	rec, env = api.do(t, http.MethodPut, path, model.SubmitSemesterRequest{Subjects: []model.SubjectInput{
		{Code: "CS101", Title: "Programming", Credits: 4, Grade: "Q"},
	}}, api.token)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, response.ErrUnknownGrade, env.Error.Code)

	rec, env = api.do(t, http.MethodPut, path, model.SubmitSemesterRequest{Subjects: []model.SubjectInput{
		{Code: "", Title: "Programming", Credits: 4, Grade: "Q"},
	}}, api.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	rec, env = api.do(t, http.MethodPut, "/api/v1/admin/students/"+strconv.Itoa(st.ID)+"/semesters/9", model.SubmitSemesterRequest{}, api.token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	rec, env = api.do(t, http.MethodPut, "/api/v1/admin/students/999/semesters/1", model.SubmitSemesterRequest{}, api.token)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)

	rec, env = api.do(t, http.MethodDelete, path, nil, api.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var deleted struct {
		Student model.Student `json:"student"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &deleted))
	assert.Zero(t, deleted.Student.CGPA)
	assert.Zero(t, deleted.Student.Arrears)
}

func TestDuplicateStudent(t *testing.T) {
	api := newTestAPI(t, nil)
	api.createStudent(t, "REG2001")

	rec, env := api.do(t, http.MethodPost, "/api/v1/admin/students", model.CreateStudentRequest{
		RegisterNumber:  "REG2001",
		Name:            "Someone Else",
		Email:           "other@edutrack.local",
		Department:      model.DeptCivil,
		CurrentSemester: 1,
	}, api.token)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, response.ErrConflict, env.Error.Code)
}

func TestReconcileStudentCorrectsDrift(t *testing.T) {
	api := newTestAPI(t, nil)
	st := api.createStudent(t, "REG3001")
	require.NoError(t, api.store.ForceAggregate(st.ID, model.StudentAggregate{CGPA: 9.9, Arrears: 3}))

	rec, env := api.do(t, http.MethodPost, "/api/v1/admin/students/"+strconv.Itoa(st.ID)+"/reconcile", nil, api.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Reconcile service.ReconcileResult `json:"reconcile"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.True(t, body.Reconcile.Corrected)
	assert.InDelta(t, 9.9, body.Reconcile.Previous.CGPA, 1e-9)
	assert.Zero(t, body.Reconcile.Student.CGPA)
	assert.Zero(t, body.Reconcile.Student.Arrears)
}

func TestListSemestersPagination(t *testing.T) {
	api := newTestAPI(t, nil)
	st := api.createStudent(t, "REG4001")
	for num := 1; num <= 3; num++ {
		rec, _ := api.do(t, http.MethodPut, "/api/v1/admin/students/"+strconv.Itoa(st.ID)+"/semesters/"+strconv.Itoa(num), model.SubmitSemesterRequest{
			Subjects: []model.SubjectInput{{Code: "S" + strconv.Itoa(num), Title: "Subject", Credits: 3, Grade: "B"}},
		}, api.token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/semesters?page=2&per_page=2", nil)
	req.Header.Set("Authorization", "Bearer "+api.token)
	api.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Semesters []json.RawMessage `json:"semesters"`
		} `json:"data"`
		Pagination response.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data.Semesters, 1)
	assert.Equal(t, 3, body.Pagination.TotalItems)
	assert.Equal(t, 2, body.Pagination.TotalPages)
}

func TestSearchStudents(t *testing.T) {
	api := newTestAPI(t, nil)
	clean := api.createStudent(t, "REG5001")
	failing := api.createStudent(t, "REG5002")
	api.createStudent(t, "OTHER5003")

	rec, _ := api.do(t, http.MethodPut, "/api/v1/admin/students/"+strconv.Itoa(failing.ID)+"/semesters/1", model.SubmitSemesterRequest{
		Subjects: []model.SubjectInput{{Code: "CS101", Title: "Programming", Credits: 4, Grade: "F"}},
	}, api.token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	search := func(t *testing.T, query string) (int, []model.Student, response.Pagination) {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/students"+query, nil)
		req.Header.Set("Authorization", "Bearer "+api.token)
		api.engine.ServeHTTP(rec, req)

		var body struct {
			Data struct {
				Students []model.Student `json:"students"`
			} `json:"data"`
			Pagination response.Pagination `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
		return rec.Code, body.Data.Students, body.Pagination
	}

	code, students, page := search(t, "?q=reg50")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, students, 2)
	assert.Equal(t, clean.ID, students[0].ID)
	assert.Equal(t, 2, page.TotalItems)

	code, students, _ = search(t, "?q=reg50&has_arrears=true")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, students, 1)
	assert.Equal(t, failing.ID, students[0].ID)
	assert.Equal(t, 1, students[0].Arrears)

	code, students, page = search(t, "?per_page=1&page=3")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, students, 1)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)

	code, _, _ = search(t, "?min_cgpa=11")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _, _ = search(t, "?min_cgpa=abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGrades(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/api/v1/admin/grades", nil, api.token)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Grades []struct {
			Grade   string  `json:"grade"`
			Points  float64 `json:"points"`
			Failing bool    `json:"failing"`
		} `json:"grades"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.NotEmpty(t, body.Grades)
	assert.Equal(t, "O", body.Grades[0].Grade)
	assert.InDelta(t, 10.0, body.Grades[0].Points, 1e-9)
}

func TestReconcileAllRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	limiter := middleware.NewRateLimiter(rdb, "reconcile_all", 2, time.Hour, zerolog.Nop())
	api := newTestAPI(t, limiter)

	for i := 0; i < 2; i++ {
		rec, _ := api.do(t, http.MethodPost, "/api/v1/admin/reconcile", nil, api.token)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec, env := api.do(t, http.MethodPost, "/api/v1/admin/reconcile", nil, api.token)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, response.ErrRateLimitExceeded, env.Error.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	// Redis outage lets requests through.
	mr.Close()
	rec, _ = api.do(t, http.MethodPost, "/api/v1/admin/reconcile", nil, api.token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
