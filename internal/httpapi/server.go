// Package httpapi exposes attendance over a JSON API for the web client.
package httpapi

import (
	"context"
	"errors"
	"log"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/db/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
)

// Directory resolves employees. Both database backends implement it.
type Directory interface {
	GetEmployeeByID(ctx context.Context, id uuid.UUID) (*models.Employee, error)
	GetEmployeesByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Employee, error)
	ListEmployees(ctx context.Context) ([]*models.Employee, error)
	CreateEmployee(ctx context.Context, username, timezone string) (*models.Employee, error)
}

type Options struct {
	JWTSecret      string
	RequestTimeout time.Duration
	// DefaultLocation is the calendar for admin day views and exports.
	DefaultLocation *time.Location
	AccessLog       bool
}

type Server struct {
	app      *fiber.App
	svc      *attendance.Service
	dir      Directory
	validate *validator.Validate
	opts     Options
}

func New(svc *attendance.Service, dir Directory, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}

	s := &Server{
		svc:      svc,
		dir:      dir,
		validate: validator.New(),
		opts:     opts,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	if opts.AccessLog {
		s.app.Use(logger.New(logger.Config{
			TimeFormat: "2006-01-02 15:04:05",
			Format:     "[${time}] ${ip} - ${method} ${path} - ${status} - ${latency}\n",
		}))
	}
	s.app.Use(func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), opts.RequestTimeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	})

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := s.app.Group("/api", AuthJWT(s.opts.JWTSecret))

	att := api.Group("/attendance")
	att.Get("/today", s.getToday)
	att.Get("/history", s.getHistory)
	att.Post("/clock-in", s.postClockIn)
	att.Post("/clock-out", s.postClockOut)

	admin := api.Group("/admin", OnlyRoles(RoleAdmin))
	admin.Get("/employees", s.listEmployees)
	admin.Post("/employees", s.createEmployee)
	admin.Post("/attendance/batch", s.postBatch)
	admin.Get("/attendance/day", s.getDay)
	admin.Get("/attendance/export", s.getExport)
	admin.Put("/attendance/:employee_id/:date", s.putAnnotation)
	admin.Put("/schedules/:employee_id", s.putSchedule)
	admin.Delete("/schedules/:employee_id", s.deleteSchedule)
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error {
	log.Printf("HTTP API listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError renders every handler failure in the response envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		log.Printf("[%s %s] %d: %s", c.Method(), c.Path(), fe.Code, fe.Message)
		return Error(c, fe.Code, fe.Message)
	}
	var vf *validationFailure
	if errors.As(err, &vf) {
		log.Printf("[%s %s] validation: %v", c.Method(), c.Path(), vf.err)
		return ValidationError(c, vf.err)
	}

	code := statusFor(err)
	msg := err.Error()
	switch code {
	case fiber.StatusConflict, fiber.StatusUnauthorized:
		log.Printf("[%s %s] %d: %v", c.Method(), c.Path(), code, err)
	case fiber.StatusServiceUnavailable:
		log.Printf("[%s %s] store failure: %v", c.Method(), c.Path(), err)
		msg = attendance.ErrStoreUnavailable.Error()
	case fiber.StatusInternalServerError:
		log.Printf("[%s %s] error: %v", c.Method(), c.Path(), err)
		msg = "internal server error"
	}
	return Error(c, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrAlreadyClockedIn),
		errors.Is(err, attendance.ErrAlreadyClockedOut),
		errors.Is(err, attendance.ErrNoClockInYet):
		return fiber.StatusConflict
	case errors.Is(err, attendance.ErrNotAuthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, attendance.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// subject resolves the caller's identity and timezone.
func (s *Server) subject(c *fiber.Ctx) (attendance.Subject, error) {
	id, err := employeeID(c)
	if err != nil {
		return attendance.Subject{}, err
	}
	emp, err := s.dir.GetEmployeeByID(c.UserContext(), id)
	if err != nil {
		return attendance.Subject{}, &attendance.StoreError{Op: "get employee", Err: err}
	}
	if emp == nil {
		return attendance.Subject{}, attendance.ErrNotAuthenticated
	}
	return attendance.Subject{ID: id, Location: emp.Location()}, nil
}

type validationFailure struct {
	err error
}

func (v *validationFailure) Error() string { return v.err.Error() }

// bind parses and validates a JSON body into v.
func (s *Server) bind(c *fiber.Ctx, v any) error {
	if err := c.BodyParser(v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(v); err != nil {
		return &validationFailure{err: err}
	}
	return nil
}
