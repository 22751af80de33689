package careorders

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
)

type CareService struct {
	services      ServiceRepository
	prescriptions PrescriptionRepository
	demands       DemandRepository
	guard         *auth.Guard
	runner        db.Runner
	audit         *audit.Service
}

func NewCareService(services ServiceRepository, prescriptions PrescriptionRepository,
	demands DemandRepository, guard *auth.Guard, runner db.Runner, auditSvc *audit.Service) *CareService {
	return &CareService{
		services:      services,
		prescriptions: prescriptions,
		demands:       demands,
		guard:         guard,
		runner:        runner,
		audit:         auditSvc,
	}
}

// -- Catalog --

func (s *CareService) CreateService(ctx context.Context, svc *Service) error {
	if svc.Name == "" {
		return apperror.New(apperror.KindInvalidInput, "name is required")
	}
	if svc.Price.IsNegative() {
		return apperror.New(apperror.KindInvalidInput, "price must not be negative")
	}
	return s.services.Create(ctx, svc)
}

func (s *CareService) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	return s.services.GetByID(ctx, id)
}

func (s *CareService) ListServices(ctx context.Context) ([]*Service, error) {
	return s.services.List(ctx)
}

// -- Prescriptions --

func (s *CareService) CreatePrescription(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil || p.ServiceID == uuid.Nil {
		return apperror.New(apperror.KindInvalidInput, "patient_id and service_id are required")
	}
	if p.FrequencyPerWeek <= 0 {
		return apperror.New(apperror.KindInvalidInput, "frequency_per_week must be positive")
	}
	if _, err := s.services.GetByID(ctx, p.ServiceID); err != nil {
		return err
	}
	p.Status = PrescriptionPending

	return s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.prescriptions.Create(ctx, p); err != nil {
			return err
		}
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionCreatePrescription,
			TargetModel: "Prescription",
			TargetID:    p.ID,
			PatientID:   &p.PatientID,
		})
	})
}

func (s *CareService) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.prescriptions.GetByID(ctx, id)
}

func (s *CareService) ListPrescriptions(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind: auth.ResourcePatientRecord, PatientID: patientID,
	}); err != nil {
		return nil, err
	}
	return s.prescriptions.ListByPatient(ctx, patientID)
}

// ReviewPrescription moves a pending prescription to accepted or rejected.
// Reviewed prescriptions are final.
func (s *CareService) ReviewPrescription(ctx context.Context, id uuid.UUID, status string) (*Prescription, error) {
	if status != PrescriptionAccepted && status != PrescriptionRejected {
		return nil, apperror.New(apperror.KindInvalidTransition,
			"prescription review must set accepted or rejected")
	}

	var reviewed *Prescription
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		p, err := s.prescriptions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != PrescriptionPending {
			return apperror.New(apperror.KindInvalidTransition,
				"prescription is already %s", p.Status)
		}
		p.Status = status
		if err := s.prescriptions.Update(ctx, p); err != nil {
			return err
		}
		reviewed = p
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionUpdatePrescription,
			TargetModel: "Prescription",
			TargetID:    p.ID,
			PatientID:   &p.PatientID,
			Extra:       map[string]interface{}{"status": status},
		})
	})
	return reviewed, err
}

// -- Service demands --

// CreateDemand records a request for care. Patients may file for themselves,
// family users for linked patients, staff for anyone.
func (s *CareService) CreateDemand(ctx context.Context, d *ServiceDemand) error {
	if d.PatientID == uuid.Nil || d.ServiceID == uuid.Nil || d.Title == "" {
		return apperror.New(apperror.KindInvalidInput, "patient_id, service_id and title are required")
	}

	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind: auth.ResourceServiceDemand, PatientID: d.PatientID,
	}); err != nil {
		return err
	}
	if _, err := s.services.GetByID(ctx, d.ServiceID); err != nil {
		return err
	}

	d.SentByID = actor.UserID
	d.Status = DemandPending
	if d.Priority == "" {
		d.Priority = "normal"
	}

	return s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.demands.Create(ctx, d); err != nil {
			return err
		}
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionCreateDemand,
			TargetModel: "ServiceDemand",
			TargetID:    d.ID,
			PatientID:   &d.PatientID,
		})
	})
}

func (s *CareService) GetDemand(ctx context.Context, id uuid.UUID) (*ServiceDemand, error) {
	d, err := s.demands.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind: auth.ResourceServiceDemand, PatientID: d.PatientID,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *CareService) ListDemands(ctx context.Context, f DemandFilter, limit, offset int) ([]*ServiceDemand, int, error) {
	actor := auth.ActorFromContext(ctx)
	// Non-staff callers only see demands they filed or that concern their
	// patient record; scope the filter rather than post-filtering pages.
	if !actor.IsStaff() && actor.Role != auth.RoleSocialAssistant {
		if f.PatientID != nil {
			if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
				Kind: auth.ResourceServiceDemand, PatientID: *f.PatientID,
			}); err != nil {
				return nil, 0, err
			}
		} else {
			f.SentByID = &actor.UserID
		}
	}
	return s.demands.List(ctx, f, limit, offset)
}

// DemandUpdate is the coordinator-side patch applied to a demand.
type DemandUpdate struct {
	Status             *string
	AssignedProviderID *uuid.UUID
	Priority           *string
}

// UpdateDemand applies status transitions and assignment. Transitions follow
// the demand table; assignment marks the demand as managed by the actor.
func (s *CareService) UpdateDemand(ctx context.Context, id uuid.UUID, patch DemandUpdate) (*ServiceDemand, error) {
	actor := auth.ActorFromContext(ctx)

	var updated *ServiceDemand
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		d, err := s.demands.GetByID(ctx, id)
		if err != nil {
			return err
		}

		extra := map[string]interface{}{}
		if patch.Status != nil && *patch.Status != d.Status {
			if !DemandTransitionAllowed(d.Status, *patch.Status) {
				return apperror.New(apperror.KindInvalidTransition,
					"service demand cannot move from %s to %s", d.Status, *patch.Status)
			}
			extra["status"] = map[string]string{"from": d.Status, "to": *patch.Status}
			d.Status = *patch.Status
		}
		if patch.AssignedProviderID != nil {
			d.AssignedProviderID = patch.AssignedProviderID
			extra["assigned_provider_id"] = patch.AssignedProviderID.String()
		}
		if patch.Priority != nil {
			d.Priority = *patch.Priority
		}
		d.ManagedByID = &actor.UserID

		if err := s.demands.Update(ctx, d); err != nil {
			return err
		}
		updated = d
		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionUpdateDemand,
			TargetModel: "ServiceDemand",
			TargetID:    d.ID,
			PatientID:   &d.PatientID,
			Extra:       extra,
		})
	})
	return updated, err
}
