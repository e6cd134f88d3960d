package httpapi

import (
	"strings"

	"timeclock/internal/attendance"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const (
	locEmployeeID = "employee_id"
	locRole       = "role"

	RoleAdmin = "admin"
)

// AuthJWT verifies an HS256 bearer token and stores the employee id and
// role in the request locals. The employee id is read from "employee_id"
// or, failing that, "sub".
func AuthJWT(secret string) fiber.Handler {
	key := []byte(strings.TrimSpace(secret))
	if len(key) == 0 {
		panic("httpapi: AuthJWT needs a secret")
	}

	return func(c *fiber.Ctx) error {
		raw := ""
		if authz := strings.TrimSpace(c.Get(fiber.HeaderAuthorization)); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			raw = strings.TrimSpace(authz[7:])
		}
		if raw == "" {
			return attendance.ErrNotAuthenticated
		}

		tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "invalid signing method")
			}
			return key, nil
		})
		if err != nil || !tok.Valid {
			return attendance.ErrNotAuthenticated
		}
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			return attendance.ErrNotAuthenticated
		}

		sub := strClaim(claims, "employee_id")
		if sub == "" {
			sub = strClaim(claims, "sub")
		}
		id, err := uuid.Parse(sub)
		if err != nil {
			return attendance.ErrNotAuthenticated
		}

		c.Locals(locEmployeeID, id)
		c.Locals(locRole, strClaim(claims, "role"))
		return c.Next()
	}
}

// OnlyRoles rejects callers whose role is not listed.
func OnlyRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(locRole).(string)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "you are not allowed to access this resource")
	}
}

func employeeID(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := c.Locals(locEmployeeID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, attendance.ErrNotAuthenticated
	}
	return id, nil
}

func strClaim(m jwt.MapClaims, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
