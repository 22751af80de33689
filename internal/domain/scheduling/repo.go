package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// FindByKey returns the schedule for (provider, patient, date), or a
	// NotFound error.
	FindByKey(ctx context.Context, providerID, patientID uuid.UUID, date time.Time) (*Schedule, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// ListForProvider returns schedules for one provider inside [from, to].
	ListForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*Schedule, error)
	// ListForPatient returns schedules for one patient inside [from, to].
	ListForPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Schedule, error)
	// ListInRange returns every schedule inside [from, to].
	ListInRange(ctx context.Context, from, to time.Time) ([]*Schedule, error)
	// ProviderHasScheduleWith backs the access guard's provider relationship.
	ProviderHasScheduleWith(ctx context.Context, providerID, patientID uuid.UUID) (bool, error)
}

type TimeSlotRepository interface {
	Create(ctx context.Context, t *TimeSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	Update(ctx context.Context, t *TimeSlot) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]*TimeSlot, error)
	// ListForProviderDate returns every slot attached to any schedule of the
	// provider on the given date, regardless of status. The conflict detector
	// scans these.
	ListForProviderDate(ctx context.Context, providerID uuid.UUID, date time.Time) ([]*TimeSlot, error)
	// CountBySchedule reports how many slots remain on a schedule.
	CountBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error)
}
