package httpapi

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/db/models"
	"timeclock/internal/report"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	actionClockIn  = "clock_in"
	actionClockOut = "clock_out"
)

type employeeView struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Timezone  string    `json:"timezone"`
	DiscordID string    `json:"discord_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func viewEmployee(e *models.Employee) employeeView {
	return employeeView{
		ID:        e.ID,
		Username:  e.Username,
		Timezone:  e.Timezone,
		DiscordID: e.DiscordID,
		CreatedAt: e.CreatedAt,
	}
}

func (s *Server) listEmployees(c *fiber.Ctx) error {
	employees, err := s.dir.ListEmployees(c.UserContext())
	if err != nil {
		return &attendance.StoreError{Op: "list employees", Err: err}
	}
	out := make([]employeeView, 0, len(employees))
	for _, e := range employees {
		out = append(out, viewEmployee(e))
	}
	return Success(c, "employees", out)
}

type createEmployeeRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

func (s *Server) createEmployee(c *fiber.Ctx) error {
	var req createEmployeeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	e, err := s.dir.CreateEmployee(c.UserContext(), req.Username, req.Timezone)
	if err != nil {
		return &attendance.StoreError{Op: "create employee", Err: err}
	}
	log.Printf("Created employee %s (%s)", e.Username, e.ID)
	return SuccessWithCode(c, fiber.StatusCreated, "employee created", viewEmployee(e))
}

type batchRequest struct {
	Action      string   `json:"action" validate:"required,oneof=clock_in clock_out"`
	EmployeeIDs []string `json:"employee_ids" validate:"required,min=1,max=200,dive,uuid"`
}

type batchOutcome struct {
	EmployeeID string            `json:"employee_id"`
	Entry      *attendance.Entry `json:"entry,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// postBatch runs one transition for many employees. Each employee succeeds
// or fails on its own; the response lists every requested id in order.
func (s *Server) postBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(req.EmployeeIDs))
	for i, raw := range req.EmployeeIDs {
		ids[i] = uuid.MustParse(raw)
	}
	known, err := s.dir.GetEmployeesByIDs(c.UserContext(), ids)
	if err != nil {
		return &attendance.StoreError{Op: "get employees", Err: err}
	}
	byID := make(map[uuid.UUID]*models.Employee, len(known))
	for _, e := range known {
		byID[e.ID] = e
	}

	var subjects []attendance.Subject
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			subjects = append(subjects, attendance.Subject{ID: id, Location: e.Location()})
		}
	}

	var result attendance.BatchResult
	if req.Action == actionClockIn {
		result = s.svc.BatchClockIn(c.UserContext(), subjects)
	} else {
		result = s.svc.BatchClockOut(c.UserContext(), subjects)
	}

	outcomes := make([]batchOutcome, 0, len(ids))
	next := 0
	var failed int
	for _, id := range ids {
		o := batchOutcome{EmployeeID: id.String()}
		if _, ok := byID[id]; !ok {
			o.Error = "employee not found"
		} else {
			r := result.Outcomes[next]
			next++
			o.Entry = r.Entry
			if r.Err != nil {
				o.Error = r.Err.Error()
			}
		}
		if o.Error != "" {
			failed++
		}
		outcomes = append(outcomes, o)
	}

	log.Printf("Batch %s: %d succeeded, %d failed", req.Action, len(outcomes)-failed, failed)
	return Success(c, fmt.Sprintf("batch %s processed", req.Action), fiber.Map{
		"succeeded": len(outcomes) - failed,
		"failed":    failed,
		"results":   outcomes,
	})
}

type rosterRow struct {
	Employee employeeView      `json:"employee"`
	State    string            `json:"state"`
	Entry    *attendance.Entry `json:"entry"`
}

// getDay lists every employee with their entry on ?date= (default today in
// the default location).
func (s *Server) getDay(c *fiber.Ctx) error {
	date := attendance.DateOf(s.svc.Now(s.opts.DefaultLocation))
	if v := c.Query("date"); v != "" {
		d, err := attendance.ParseDate(v)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		date = d
	}

	employees, err := s.dir.ListEmployees(c.UserContext())
	if err != nil {
		return &attendance.StoreError{Op: "list employees", Err: err}
	}
	ids := make([]uuid.UUID, len(employees))
	for i, e := range employees {
		ids[i] = e.ID
	}
	entries, err := s.svc.Day(c.UserContext(), ids, date)
	if err != nil {
		return err
	}
	bySubject := make(map[uuid.UUID]*attendance.Entry, len(entries))
	for _, e := range entries {
		bySubject[e.SubjectID] = e
	}

	rows := make([]rosterRow, 0, len(employees))
	for _, emp := range employees {
		e := bySubject[emp.ID]
		rows = append(rows, rosterRow{
			Employee: viewEmployee(emp),
			State:    attendance.StateOf(e).String(),
			Entry:    e,
		})
	}
	return Success(c, fmt.Sprintf("attendance on %s", date), rows)
}

func (s *Server) getExport(c *fiber.Ctx) error {
	r, err := s.rangeFromQuery(c, s.opts.DefaultLocation)
	if err != nil {
		return err
	}
	format := c.Query("format", "csv")
	if format != "csv" && format != "xlsx" {
		return fiber.NewError(fiber.StatusBadRequest, "format must be csv or xlsx")
	}

	employees, err := s.dir.ListEmployees(c.UserContext())
	if err != nil {
		return &attendance.StoreError{Op: "list employees", Err: err}
	}
	people := make([]report.Person, 0, len(employees))
	var entries []*attendance.Entry
	for _, emp := range employees {
		people = append(people, report.Person{ID: emp.ID, Name: emp.Username, Location: emp.Location()})
		history, err := s.svc.History(c.UserContext(), emp.ID, &r)
		if err != nil {
			return err
		}
		entries = append(entries, history...)
	}
	rows := report.BuildRows(people, entries, s.svc.Now(s.opts.DefaultLocation))

	var buf bytes.Buffer
	name := fmt.Sprintf("attendance_%s_%s", r.From, r.To)
	switch format {
	case "xlsx":
		title := fmt.Sprintf("Attendance %s to %s", r.From, r.To)
		if err := report.WriteXLSX(&buf, title, rows); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		name += ".xlsx"
	default:
		if err := report.WriteCSV(&buf, rows); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "text/csv")
		name += ".csv"
	}
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(buf.Bytes())
}

type annotationRequest struct {
	Notes        *string `json:"notes" validate:"omitempty,max=500"`
	BreakMinutes *int    `json:"break_minutes" validate:"omitempty,min=0,max=1440"`
}

func (s *Server) putAnnotation(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("employee_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid employee id")
	}
	date, err := attendance.ParseDate(c.Params("date"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	var req annotationRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Notes == nil && req.BreakMinutes == nil {
		return fiber.NewError(fiber.StatusBadRequest, "nothing to update: set notes or break_minutes")
	}

	e, err := s.svc.Annotate(c.UserContext(), id, date, req.Notes, req.BreakMinutes)
	if err != nil {
		return err
	}
	return Success(c, "entry updated", e)
}

type scheduleRequest struct {
	ExpectedStart string `json:"expected_start" validate:"required"`
}

func (s *Server) putSchedule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("employee_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid employee id")
	}
	var req scheduleRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	start, err := attendance.ParseTimeOfDay(req.ExpectedStart)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	sch, err := s.svc.SetSchedule(c.UserContext(), id, start)
	if err != nil {
		return err
	}
	return Success(c, "schedule saved", sch)
}

func (s *Server) deleteSchedule(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("employee_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid employee id")
	}
	if err := s.svc.ClearSchedule(c.UserContext(), id); err != nil {
		return err
	}
	return Success(c, "schedule cleared", nil)
}
