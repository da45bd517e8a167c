package goals

import (
	"fmt"
	"strconv"
	"strings"
)

// Role of the caller on whose behalf a core operation runs.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleBestPal  Role = "best_pal"
	RoleGoGetter Role = "go_getter"
	RoleUnknown  Role = "unknown"
)

// Actor is the resolved caller identity. ID refers to the best pal or go
// getter row for those roles and is ignored for admins.
type Actor struct {
	Role Role  `json:"role"`
	ID   int64 `json:"id"`
}

// System is the actor used by scheduled jobs.
var System = Actor{Role: RoleAdmin}

func (a Actor) String() string {
	switch a.Role {
	case RoleAdmin:
		return "admin"
	case RoleBestPal, RoleGoGetter:
		return string(a.Role) + ":" + strconv.FormatInt(a.ID, 10)
	default:
		return "unknown"
	}
}

// ParseActor reads the String form: "admin", "best_pal:<id>" or
// "go_getter:<id>".
func ParseActor(s string) (Actor, error) {
	s = strings.TrimSpace(s)
	if s == string(RoleAdmin) {
		return System, nil
	}
	role, idStr, ok := strings.Cut(s, ":")
	if !ok {
		return Actor{}, fmt.Errorf("actor %q: expected admin, best_pal:<id> or go_getter:<id>", s)
	}
	switch Role(role) {
	case RoleBestPal, RoleGoGetter:
	default:
		return Actor{}, fmt.Errorf("actor %q: unknown role %q", s, role)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return Actor{}, fmt.Errorf("actor %q: id must be a positive integer", s)
	}
	return Actor{Role: Role(role), ID: id}, nil
}
