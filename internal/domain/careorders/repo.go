package careorders

import (
	"context"

	"github.com/google/uuid"
)

type ServiceRepository interface {
	Create(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, id uuid.UUID) (*Service, error)
	List(ctx context.Context) ([]*Service, error)
	Update(ctx context.Context, s *Service) error
}

type PrescriptionRepository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	Update(ctx context.Context, p *Prescription) error
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Prescription, error)
}

// DemandFilter narrows a demand listing.
type DemandFilter struct {
	PatientID *uuid.UUID
	Status    string
	SentByID  *uuid.UUID
}

type DemandRepository interface {
	Create(ctx context.Context, d *ServiceDemand) error
	GetByID(ctx context.Context, id uuid.UUID) (*ServiceDemand, error)
	Update(ctx context.Context, d *ServiceDemand) error
	List(ctx context.Context, f DemandFilter, limit, offset int) ([]*ServiceDemand, int, error)
}
