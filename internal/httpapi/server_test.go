package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/db/models"
	"timeclock/internal/db/sqlite"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type envelope struct {
	Code    int               `json:"code"`
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
}

type testEnv struct {
	t     *testing.T
	store *sqlite.Store
	srv   *Server
	now   time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{t: t, store: store, now: time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)}
	svc := attendance.NewService(store, store, attendance.WithClock(func() time.Time { return env.now }))
	env.srv = New(svc, store, Options{JWTSecret: testSecret})
	return env
}

func (e *testEnv) employee(name string) *models.Employee {
	e.t.Helper()
	emp, err := e.store.CreateEmployee(context.Background(), name, "UTC")
	require.NoError(e.t, err)
	return emp
}

func token(t *testing.T, id uuid.UUID, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (e *testEnv) do(method, path, tok string, body any) (*http.Response, envelope) {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := e.srv.App().Test(req)
	require.NoError(e.t, err)

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func TestHealth(t *testing.T) {
	env := setup(t)
	resp, _ := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := setup(t)

	resp, body := env.do(http.MethodGet, "/api/attendance/today", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, attendance.ErrNotAuthenticated.Error(), body.Message)

	resp, _ = env.do(http.MethodGet, "/api/attendance/today", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	bad := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": uuid.NewString()})
	forged, err := bad.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	resp, _ = env.do(http.MethodGet, "/api/attendance/today", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestClockInOutFlow(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	tok := token(t, emp.ID, "employee")

	resp, body := env.do(http.MethodGet, "/api/attendance/today", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view todayView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "no_entry_today", view.State)
	assert.Equal(t, attendance.ZeroDuration, view.Worked)

	resp, _ = env.do(http.MethodPost, "/api/attendance/clock-out", tok, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "clocked_in", view.State)
	assert.Equal(t, attendance.StatusPresent, view.Entry.Status)

	resp, body = env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, attendance.ErrAlreadyClockedIn.Error(), body.Message)

	env.now = env.now.Add(8*time.Hour + 30*time.Minute)
	resp, body = env.do(http.MethodPost, "/api/attendance/clock-out", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, "clocked_out", view.State)
	assert.Equal(t, "08h 30min", view.Worked)
	assert.Equal(t, 510, view.WorkedMinutes)

	resp, body = env.do(http.MethodPost, "/api/attendance/clock-out", tok, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, attendance.ErrAlreadyClockedOut.Error(), body.Message)
}

func TestHistory(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	tok := token(t, emp.ID, "employee")

	_, _ = env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)

	resp, body := env.do(http.MethodGet, "/api/attendance/history?month=3&year=2024", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var data struct {
		From    attendance.Date     `json:"from"`
		To      attendance.Date     `json:"to"`
		Entries []*attendance.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, attendance.Date("2024-03-01"), data.From)
	assert.Equal(t, attendance.Date("2024-03-31"), data.To)
	assert.Len(t, data.Entries, 1)

	resp, body = env.do(http.MethodGet, "/api/attendance/history?from=2024-02-01&to=2024-02-29", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Empty(t, data.Entries)

	resp, _ = env.do(http.MethodGet, "/api/attendance/history?month=13", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(http.MethodGet, "/api/attendance/history?from=2024-03-10&to=2024-03-01", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutesNeedAdminRole(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")

	resp, _ := env.do(http.MethodGet, "/api/admin/employees", token(t, emp.ID, "employee"), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(http.MethodGet, "/api/admin/employees", token(t, emp.ID, RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateEmployeeValidation(t *testing.T) {
	env := setup(t)
	admin := token(t, uuid.New(), RoleAdmin)

	resp, body := env.do(http.MethodPost, "/api/admin/employees", admin, map[string]string{"timezone": "Mars/Olympus"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "required", body.Errors["Username"])
	assert.Equal(t, "timezone", body.Errors["Timezone"])

	resp, body = env.do(http.MethodPost, "/api/admin/employees", admin, map[string]string{"username": "carol", "timezone": "Asia/Tokyo"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created employeeView
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, "carol", created.Username)
	assert.Equal(t, "Asia/Tokyo", created.Timezone)
}

func TestBatch(t *testing.T) {
	env := setup(t)
	alice := env.employee("alice")
	bob := env.employee("bob")
	admin := token(t, uuid.New(), RoleAdmin)

	// bob is already in, so only his clock-in fails
	_, err := attendance.NewService(env.store, env.store, attendance.WithClock(func() time.Time { return env.now })).
		ClockIn(context.Background(), attendance.Subject{ID: bob.ID})
	require.NoError(t, err)

	unknown := uuid.New()
	resp, body := env.do(http.MethodPost, "/api/admin/attendance/batch", admin, map[string]any{
		"action":       "clock_in",
		"employee_ids": []string{alice.ID.String(), bob.ID.String(), unknown.String()},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var data struct {
		Succeeded int            `json:"succeeded"`
		Failed    int            `json:"failed"`
		Results   []batchOutcome `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	assert.Equal(t, 1, data.Succeeded)
	assert.Equal(t, 2, data.Failed)
	require.Len(t, data.Results, 3)
	assert.Equal(t, alice.ID.String(), data.Results[0].EmployeeID)
	assert.Empty(t, data.Results[0].Error)
	assert.Equal(t, attendance.ErrAlreadyClockedIn.Error(), data.Results[1].Error)
	assert.Equal(t, "employee not found", data.Results[2].Error)

	resp, body = env.do(http.MethodPost, "/api/admin/attendance/batch", admin, map[string]any{
		"action":       "teleport",
		"employee_ids": []string{"nope"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "oneof", body.Errors["Action"])
}

func TestScheduleMakesArrivalLate(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	admin := token(t, uuid.New(), RoleAdmin)

	resp, _ := env.do(http.MethodPut, "/api/admin/schedules/"+emp.ID.String(), admin, map[string]string{"expected_start": "8:30"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(http.MethodPut, "/api/admin/schedules/"+emp.ID.String(), admin, map[string]string{"expected_start": "25:00"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env.now = time.Date(2024, time.March, 4, 8, 46, 0, 0, time.UTC)
	resp, body := env.do(http.MethodPost, "/api/attendance/clock-in", token(t, emp.ID, "employee"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view todayView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, attendance.StatusLate, view.Entry.Status)

	resp, _ = env.do(http.MethodDelete, "/api/admin/schedules/"+emp.ID.String(), admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnnotateAndDay(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	env.employee("bob")
	admin := token(t, uuid.New(), RoleAdmin)

	resp, _ := env.do(http.MethodPut, "/api/admin/attendance/"+emp.ID.String()+"/2024-03-04", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := env.do(http.MethodPut, "/api/admin/attendance/"+emp.ID.String()+"/2024-03-04", admin, map[string]any{
		"notes":         "doctor in the morning",
		"break_minutes": 30,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var e attendance.Entry
	require.NoError(t, json.Unmarshal(body.Data, &e))
	assert.Equal(t, attendance.StatusAbsent, e.Status)
	assert.Nil(t, e.ClockIn)

	resp, _ = env.do(http.MethodPost, "/api/attendance/clock-in", token(t, emp.ID, "employee"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = env.do(http.MethodGet, "/api/admin/attendance/day?date=2024-03-04", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []rosterRow
	require.NoError(t, json.Unmarshal(body.Data, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Employee.Username)
	assert.Equal(t, "clocked_in", rows[0].State)
	assert.Equal(t, 30, rows[0].Entry.BreakMinutes)
	assert.Equal(t, "no_entry_today", rows[1].State)
}

func TestExportCSV(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	admin := token(t, uuid.New(), RoleAdmin)

	_, _ = env.do(http.MethodPost, "/api/attendance/clock-in", token(t, emp.ID, "employee"), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/attendance/export?month=3&year=2024&format=csv", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := env.srv.App().Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attendance_2024-03-01_2024-03-31.csv")

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[1][0])
	assert.Equal(t, "09:00", records[1][2])

	req = httptest.NewRequest(http.MethodGet, "/api/admin/attendance/export?format=pdf", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err = env.srv.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreFailureIs503(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	tok := token(t, emp.ID, "employee")
	require.NoError(t, env.store.Close())

	resp, body := env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, attendance.ErrStoreUnavailable.Error(), body.Message)
}

func TestUnknownEmployeeTokenRejected(t *testing.T) {
	env := setup(t)
	ghost := uuid.New()
	tok := token(t, ghost, "employee")

	resp, body := env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, attendance.ErrNotAuthenticated.Error(), body.Message)

	entries, err := env.store.FindMany(context.Background(), ghost, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBreakEditBeforeClockOut(t *testing.T) {
	env := setup(t)
	emp := env.employee("alice")
	tok := token(t, emp.ID, "employee")
	admin := token(t, uuid.New(), RoleAdmin)

	resp, _ := env.do(http.MethodPost, "/api/attendance/clock-in", tok, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(http.MethodPut, "/api/admin/attendance/"+emp.ID.String()+"/2024-03-04", admin,
		map[string]any{"break_minutes": 60})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.now = env.now.Add(8 * time.Hour)
	resp, body := env.do(http.MethodPost, "/api/attendance/clock-out", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view todayView
	require.NoError(t, json.Unmarshal(body.Data, &view))
	assert.Equal(t, 420, view.WorkedMinutes)
	assert.Equal(t, "07h 00min", view.Worked)
}

func TestClientErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	env := setup(t)
	emp := env.employee("alice")
	tok := token(t, emp.ID, "employee")

	resp, _ := env.do(http.MethodPost, "/api/attendance/clock-out", tok, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, buf.String(), "[POST /api/attendance/clock-out] 409")
	assert.Contains(t, buf.String(), attendance.ErrNoClockInYet.Error())

	resp, _ = env.do(http.MethodGet, "/api/attendance/today", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, buf.String(), "[GET /api/attendance/today] 401")
}
