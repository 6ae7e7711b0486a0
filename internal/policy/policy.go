// Package policy is the row-level access-control model: given an
// authenticated principal, an action, and the row under evaluation, it
// decides allow or deny. The rules mirror what a hosted database would
// enforce declaratively, lifted into an explicit function so they can be
// verified outside the database.
package policy

import "context"

type Role uint8

const (
	RoleUnknown Role = iota
	RoleMentee
	RoleMentor
	RoleAdmin
)

func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	case "mentor":
		return RoleMentor
	case "mentee":
		return RoleMentee
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleMentor:
		return "mentor"
	case RoleMentee:
		return "mentee"
	default:
		return "unknown"
	}
}

type Action uint8

const (
	ActionRead Action = iota
	ActionWrite
)

type Decision uint8

// Deny is the zero value so a forgotten assignment fails closed.
const (
	Deny Decision = iota
	Allow
)

type Principal struct {
	ID   string
	Role Role
}

// Resource identifies the row under evaluation by its owning subject rather
// than by its full contents. OwnerID is the row's user_id (or mentor_id for
// batches). Shared marks reference rows readable by every principal.
type Resource struct {
	Kind    string
	OwnerID string
	Shared  bool
}

// MentorDirectory answers whether a mentor currently leads a batch the
// mentee actively belongs to. Membership can change between requests, so the
// engine consults it on every evaluation and never caches the answer.
type MentorDirectory interface {
	HasActiveMentorship(ctx context.Context, mentorID, menteeID string) (bool, error)
}

type Engine struct {
	directory MentorDirectory
}

func NewEngine(directory MentorDirectory) *Engine {
	return &Engine{directory: directory}
}

// Authorize evaluates one (principal, action, resource) triple. Admins may do
// anything. Every principal owns its own rows. A mentor may read, never
// write, rows of a mentee with an active membership in one of the mentor's
// batches. Everything else is denied, including directory failures.
func (e *Engine) Authorize(ctx context.Context, p Principal, action Action, res Resource) (Decision, error) {
	if p.Role == RoleAdmin {
		return Allow, nil
	}
	if res.Shared && action == ActionRead {
		return Allow, nil
	}
	if res.OwnerID != "" && res.OwnerID == p.ID {
		return Allow, nil
	}
	if p.Role == RoleMentor && action == ActionRead && res.OwnerID != "" {
		ok, err := e.directory.HasActiveMentorship(ctx, p.ID, res.OwnerID)
		if err != nil {
			return Deny, err
		}
		if ok {
			return Allow, nil
		}
	}
	return Deny, nil
}
