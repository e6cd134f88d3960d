package httpapi

import (
	"strconv"
	"time"

	"timeclock/internal/attendance"

	"github.com/gofiber/fiber/v2"
)

type todayView struct {
	Date          attendance.Date   `json:"date"`
	State         string            `json:"state"`
	Entry         *attendance.Entry `json:"entry"`
	Worked        string            `json:"worked"`
	WorkedMinutes int               `json:"worked_minutes"`
}

func (s *Server) todayView(subj attendance.Subject, e *attendance.Entry) todayView {
	now := s.svc.Now(subj.Location)
	d := attendance.EntryDuration(e, now)
	return todayView{
		Date:          attendance.DateOf(now),
		State:         attendance.StateOf(e).String(),
		Entry:         e,
		Worked:        attendance.FormatHM(d),
		WorkedMinutes: int(d / time.Minute),
	}
}

func (s *Server) getToday(c *fiber.Ctx) error {
	subj, err := s.subject(c)
	if err != nil {
		return err
	}
	e, err := s.svc.Today(c.UserContext(), subj)
	if err != nil {
		return err
	}
	return Success(c, "today's attendance", s.todayView(subj, e))
}

// getHistory accepts ?month=&year= or ?from=&to=. With neither it lists the
// current month in the caller's timezone.
func (s *Server) getHistory(c *fiber.Ctx) error {
	subj, err := s.subject(c)
	if err != nil {
		return err
	}
	r, err := s.rangeFromQuery(c, subj.Location)
	if err != nil {
		return err
	}
	entries, err := s.svc.History(c.UserContext(), subj.ID, &r)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []*attendance.Entry{}
	}
	return Success(c, "attendance history", fiber.Map{
		"from":    r.From,
		"to":      r.To,
		"entries": entries,
	})
}

func (s *Server) postClockIn(c *fiber.Ctx) error {
	subj, err := s.subject(c)
	if err != nil {
		return err
	}
	e, err := s.svc.ClockIn(c.UserContext(), subj)
	if err != nil {
		return err
	}
	return SuccessWithCode(c, fiber.StatusCreated, "clocked in", s.todayView(subj, e))
}

func (s *Server) postClockOut(c *fiber.Ctx) error {
	subj, err := s.subject(c)
	if err != nil {
		return err
	}
	e, err := s.svc.ClockOut(c.UserContext(), subj)
	if err != nil {
		return err
	}
	return Success(c, "clocked out", s.todayView(subj, e))
}

func (s *Server) rangeFromQuery(c *fiber.Ctx, loc *time.Location) (attendance.DateRange, error) {
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		f, err := attendance.ParseDate(from)
		if err != nil {
			return attendance.DateRange{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		t, err := attendance.ParseDate(to)
		if err != nil {
			return attendance.DateRange{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		r := attendance.DateRange{From: f, To: t}
		if err := r.Validate(); err != nil {
			return attendance.DateRange{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return r, nil
	}

	now := s.svc.Now(loc)
	year, month := now.Year(), now.Month()
	if v := c.Query("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1970 || y > 9999 {
			return attendance.DateRange{}, fiber.NewError(fiber.StatusBadRequest, "invalid year")
		}
		year = y
	}
	if v := c.Query("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return attendance.DateRange{}, fiber.NewError(fiber.StatusBadRequest, "invalid month")
		}
		month = time.Month(m)
	}
	return attendance.MonthRange(year, month), nil
}
