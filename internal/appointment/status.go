package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the single table every status decision is made from.
// Each edge lists the roles allowed to take it.
var transitions = map[Status]map[Status][]Role{
	StatusPending: {
		StatusConfirmed: {RoleDoctor},
		StatusCancelled: {RoleDoctor, RolePatient},
	},
	StatusConfirmed: {
		StatusCompleted: {RoleDoctor},
		StatusCancelled: {RoleDoctor, RolePatient},
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// ParseStatuses parses a comma separated status list, ignoring empty items.
func ParseStatuses(raw string) ([]Status, error) {
	var out []Status
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		st, err := ParseStatus(part)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether from -> to is an edge of the table.
func CanTransition(from, to Status) bool {
	_, ok := transitions[from][to]
	return ok
}

// RoleMayRequest reports whether role appears on any edge into to.
func RoleMayRequest(role Role, to Status) bool {
	for _, edges := range transitions {
		for _, r := range edges[to] {
			if r == role {
				return true
			}
		}
	}
	return false
}

// CheckTransition validates a requested status change for role.
// The actor check runs before the table check.
func CheckTransition(role Role, from, to Status) error {
	if !RoleMayRequest(role, to) {
		return fmt.Errorf("%w: %s may not set status %s", ErrForbidden, role, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
