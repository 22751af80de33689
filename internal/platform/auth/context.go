package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is the platform role carried in the token.
type Role string

const (
	RolePatient         Role = "patient"
	RoleFamilyPatient   Role = "family_patient"
	RoleProvider        Role = "provider"
	RoleCoordinator     Role = "coordinator"
	RoleAdministrative  Role = "administrative"
	RoleSocialAssistant Role = "social_assistant"
	RoleAdministrator   Role = "administrator"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID uuid.UUID
	Role   Role
	Name   string
}

// IsStaff reports whether the actor belongs to the coordination side of the
// platform (full access under the guard rule table).
func (a Actor) IsStaff() bool {
	return a.Role == RoleCoordinator || a.Role == RoleAdministrative || a.Role == RoleAdministrator
}

// systemUserID identifies unattended jobs (scheduled invoice runs) in the
// audit log.
var systemUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SystemActor is the principal for unattended jobs. It carries the
// administrator role so guard checks pass, and a stable id so audit rows are
// attributable.
func SystemActor() Actor {
	return Actor{UserID: systemUserID, Role: RoleAdministrator, Name: "system"}
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a context carrying the authenticated actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext returns the authenticated actor, or a zero Actor when the
// request is unauthenticated.
func ActorFromContext(ctx context.Context) Actor {
	actor, _ := ctx.Value(actorKey).(Actor)
	return actor
}
