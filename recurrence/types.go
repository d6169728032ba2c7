package recurrence

import (
	"fmt"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
)

// Action is what must happen to a calendar object when its owner is purged.
type Action int

const (
	// NoAction leaves the object untouched.
	NoAction Action = iota
	// Modified replaces the object with the truncated copy in Decision.Calendar.
	Modified
	// ShouldDelete removes the object from the purged home.
	ShouldDelete
)

// String provides a human-readable representation of the Action.
func (a Action) String() string {
	switch a {
	case NoAction:
		return "NO_ACTION"
	case Modified:
		return "MODIFIED"
	case ShouldDelete:
		return "SHOULD_DELETE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Role is the purged principal's relationship to a calendar object, derived
// from the ORGANIZER and ATTENDEE properties of every component.
type Role int

const (
	RoleNone Role = iota
	RoleAttendee
	RoleOrganizer
)

func (r Role) String() string {
	switch r {
	case RoleAttendee:
		return "attendee"
	case RoleOrganizer:
		return "organizer"
	default:
		return "none"
	}
}

// Decision is the outcome of Engine.Decide.
type Decision struct {
	Action Action
	Role   Role
	UID    string
	// Calendar holds the truncated object and is only present for Modified.
	Calendar mo.Option[*ical.Calendar]
}

// StructuralError reports a calendar object the engine refuses to act on.
type StructuralError struct {
	UID    string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.UID == "" {
		return "malformed calendar object: " + e.Reason
	}
	return fmt.Sprintf("malformed calendar object %s: %s", e.UID, e.Reason)
}

func structural(uid, format string, args ...any) *StructuralError {
	return &StructuralError{UID: uid, Reason: fmt.Sprintf(format, args...)}
}

// PastEventPolicy selects what happens to non-recurring events that lie
// entirely before the cutoff and are organized by the purged principal.
type PastEventPolicy int

const (
	// RetainPastEvents reports NoAction for them.
	RetainPastEvents PastEventPolicy = iota
	// DeletePastEvents reports ShouldDelete for them.
	DeletePastEvents
)

func (p PastEventPolicy) String() string {
	if p == DeletePastEvents {
		return "delete"
	}
	return "retain"
}

// ParsePastEventPolicy maps "retain" and "delete" to a policy.
func ParsePastEventPolicy(s string) (PastEventPolicy, error) {
	switch s {
	case "", "retain":
		return RetainPastEvents, nil
	case "delete":
		return DeletePastEvents, nil
	default:
		return RetainPastEvents, fmt.Errorf("unknown past event policy %q", s)
	}
}
