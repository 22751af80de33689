package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperror"
)

// Verb is the access class checked by the guard.
type Verb string

const (
	VerbView   Verb = "view"
	VerbMutate Verb = "mutate"
)

// ResourceKind names the guarded resource families.
type ResourceKind string

const (
	ResourceSchedule      ResourceKind = "schedule"
	ResourceInvoice       ResourceKind = "invoice"
	ResourceServiceDemand ResourceKind = "service_demand"
	ResourcePatientRecord ResourceKind = "patient_record"
)

// Resource identifies what is being accessed. Every guarded resource belongs
// to exactly one patient.
type Resource struct {
	Kind      ResourceKind
	PatientID uuid.UUID
}

// RelationshipStore answers the ownership and relationship questions the rule
// table needs. Implemented over the identity and scheduling repositories.
type RelationshipStore interface {
	// PatientOwnedBy reports whether userID is the owning user of patientID.
	PatientOwnedBy(ctx context.Context, patientID, userID uuid.UUID) (bool, error)
	// FamilyLinked reports whether userID has a FamilyPatient row to patientID.
	FamilyLinked(ctx context.Context, userID, patientID uuid.UUID) (bool, error)
	// ProviderSeesPatient reports whether the provider owned by userID has at
	// least one schedule with patientID.
	ProviderSeesPatient(ctx context.Context, userID, patientID uuid.UUID) (bool, error)
}

// relation is the relationship a rule requires between actor and resource.
type relation int

const (
	relAny relation = iota // no relationship required
	relOwnPatient
	relFamilyLink
	relProviderLink
	relNone // never allowed
)

type rule struct {
	role Role
	verb Verb
	// kind restricts the rule to one resource kind; empty matches all kinds.
	kind ResourceKind
	rel  relation
}

// ruleTable is consulted top-down; the first matching entry decides.
var ruleTable = []rule{
	{RoleAdministrator, VerbView, "", relAny},
	{RoleAdministrator, VerbMutate, "", relAny},
	{RoleCoordinator, VerbView, "", relAny},
	{RoleCoordinator, VerbMutate, "", relAny},
	{RoleAdministrative, VerbView, "", relAny},
	{RoleAdministrative, VerbMutate, "", relAny},

	{RolePatient, VerbView, "", relOwnPatient},
	{RolePatient, VerbMutate, "", relOwnPatient},

	{RoleFamilyPatient, VerbView, "", relFamilyLink},
	{RoleFamilyPatient, VerbMutate, ResourceServiceDemand, relFamilyLink},
	{RoleFamilyPatient, VerbMutate, "", relNone},

	{RoleProvider, VerbView, "", relProviderLink},
	{RoleProvider, VerbMutate, "", relNone},

	{RoleSocialAssistant, VerbView, "", relAny},
	{RoleSocialAssistant, VerbMutate, ResourceServiceDemand, relAny},
	{RoleSocialAssistant, VerbMutate, "", relNone},
}

// Guard is the single authorization point for the scheduler, the invoice
// generator, and the read views. Denials are logged with actor and target.
type Guard struct {
	rels   RelationshipStore
	logger zerolog.Logger
}

func NewGuard(rels RelationshipStore, logger zerolog.Logger) *Guard {
	return &Guard{rels: rels, logger: logger}
}

// Can returns nil when actor may perform verb on resource, and a
// PermissionDenied error otherwise.
func (g *Guard) Can(ctx context.Context, actor Actor, verb Verb, res Resource) error {
	allowed, err := g.evaluate(ctx, actor, verb, res)
	if err != nil {
		return err
	}
	if !allowed {
		g.logger.Warn().
			Str("actor_id", actor.UserID.String()).
			Str("actor_role", string(actor.Role)).
			Str("verb", string(verb)).
			Str("resource_kind", string(res.Kind)).
			Str("patient_id", res.PatientID.String()).
			Msg("access denied")
		return apperror.New(apperror.KindPermissionDenied,
			"%s may not %s %s", actor.Role, verb, res.Kind)
	}
	return nil
}

func (g *Guard) evaluate(ctx context.Context, actor Actor, verb Verb, res Resource) (bool, error) {
	for _, r := range ruleTable {
		if r.role != actor.Role || r.verb != verb {
			continue
		}
		if r.kind != "" && r.kind != res.Kind {
			continue
		}
		switch r.rel {
		case relAny:
			return true, nil
		case relNone:
			return false, nil
		case relOwnPatient:
			return g.rels.PatientOwnedBy(ctx, res.PatientID, actor.UserID)
		case relFamilyLink:
			return g.rels.FamilyLinked(ctx, actor.UserID, res.PatientID)
		case relProviderLink:
			return g.rels.ProviderSeesPatient(ctx, actor.UserID, res.PatientID)
		}
	}
	return false, nil
}
