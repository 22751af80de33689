package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
	"github.com/carelink/carelink/internal/platform/db"
)

// Delete strategies.
const (
	StrategyAggressive   = "aggressive"
	StrategyConservative = "conservative"
	StrategySmart        = "smart"
)

// FamilyLinks is the slice of the identity domain the family view needs.
type FamilyLinks interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*identity.FamilyPatient, error)
}

type Service struct {
	schedules ScheduleRepository
	slots     TimeSlotRepository
	detector  *Detector
	family    FamilyLinks
	guard     *auth.Guard
	runner    db.Runner
	audit     *audit.Service
	listener  ChangeListener
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(schedules ScheduleRepository, slots TimeSlotRepository, family FamilyLinks,
	guard *auth.Guard, runner db.Runner, auditSvc *audit.Service, listener ChangeListener,
	logger zerolog.Logger) *Service {
	return &Service{
		schedules: schedules,
		slots:     slots,
		detector:  NewDetector(slots),
		family:    family,
		guard:     guard,
		runner:    runner,
		audit:     auditSvc,
		listener:  listener,
		logger:    logger,
		now:       time.Now,
	}
}

// OneOffRequest describes a single appointment placement.
type OneOffRequest struct {
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	Date           time.Time
	StartTime      TimeOfDay
	EndTime        TimeOfDay
	ServiceID      *uuid.UUID
	PrescriptionID *uuid.UUID
	Description    *string
}

// CreateOneOff places one appointment. The conflict check and the insert run
// under an advisory lock keyed by (provider, date), so two concurrent writers
// cannot both observe a free window.
func (s *Service) CreateOneOff(ctx context.Context, req OneOffRequest) (*TimeSlot, error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind: auth.ResourceSchedule, PatientID: req.PatientID,
	}); err != nil {
		return nil, err
	}
	if req.EndTime <= req.StartTime {
		return nil, apperror.New(apperror.KindInvalidDuration, "end_time must be after start_time")
	}
	date := DateOnly(req.Date)
	if date.Before(DateOnly(s.now())) && !actor.IsStaff() {
		return nil, apperror.New(apperror.KindInvalidInput, "cannot schedule in the past")
	}

	var slot *TimeSlot
	var after PostCommit
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		if err := s.runner.AdvisoryLock(ctx, db.SlotLockKey(req.ProviderID, date)); err != nil {
			return err
		}

		ok, err := s.detector.Admits(ctx, req.ProviderID, date, req.StartTime, req.EndTime, nil)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.New(apperror.KindConflict,
				"provider already has an appointment overlapping %s-%s on %s",
				req.StartTime, req.EndTime, date.Format("2006-01-02"))
		}

		sched, err := s.findOrCreateSchedule(ctx, req.ProviderID, req.PatientID, date, actor.UserID)
		if err != nil {
			return err
		}

		slot = &TimeSlot{
			ScheduleID:     sched.ID,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			Status:         SlotScheduled,
			ServiceID:      req.ServiceID,
			PrescriptionID: req.PrescriptionID,
			Description:    req.Description,
		}
		if err := s.slots.Create(ctx, slot); err != nil {
			return err
		}

		after, err = s.listener.ScheduleChanged(ctx, ScheduleChanged{
			Kind:     ChangeCreated,
			Schedule: sched,
			Slots:    []*TimeSlot{slot},
			ActorID:  actor.UserID,
		})
		if err != nil {
			return err
		}

		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionCreateSchedule,
			TargetModel: "Schedule",
			TargetID:    sched.ID,
			PatientID:   &req.PatientID,
			ProviderID:  &req.ProviderID,
			Extra: map[string]interface{}{
				"date":       date.Format("2006-01-02"),
				"start_time": req.StartTime.String(),
				"end_time":   req.EndTime.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if after != nil {
		after(ctx)
	}
	return slot, nil
}

func (s *Service) findOrCreateSchedule(ctx context.Context, providerID, patientID uuid.UUID,
	date time.Time, createdBy uuid.UUID) (*Schedule, error) {
	sched, err := s.schedules.FindByKey(ctx, providerID, patientID, date)
	if err == nil {
		return sched, nil
	}
	if !apperror.Is(err, apperror.KindNotFound) {
		return nil, err
	}
	sched = &Schedule{
		ProviderID:  providerID,
		PatientID:   patientID,
		Date:        date,
		CreatedByID: createdBy,
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// RecurringRequest describes a weekly series. Weekday 0 is Monday.
type RecurringRequest struct {
	ProviderID     uuid.UUID
	PatientID      uuid.UUID
	Weekdays       []int
	StartDate      time.Time
	EndDate        time.Time
	StartTime      TimeOfDay
	EndTime        TimeOfDay
	ServiceID      *uuid.UUID
	PrescriptionID *uuid.UUID
}

// SkippedDate records one date the series could not place.
type SkippedDate struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// RecurringResult reports the outcome of a series creation.
type RecurringResult struct {
	Created []*TimeSlot   `json:"created"`
	Skipped []SkippedDate `json:"skipped"`
}

// CreateRecurring attempts a one-off placement for every matching date.
// Each date commits on its own; a failure on one date never rolls back the
// dates already placed, and a cancelled request keeps what committed.
func (s *Service) CreateRecurring(ctx context.Context, req RecurringRequest) (*RecurringResult, error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind: auth.ResourceSchedule, PatientID: req.PatientID,
	}); err != nil {
		return nil, err
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, apperror.New(apperror.KindInvalidInput, "end_date must not precede start_date")
	}
	if len(req.Weekdays) == 0 {
		return nil, apperror.New(apperror.KindInvalidInput, "weekdays must not be empty")
	}
	wanted := map[int]bool{}
	for _, w := range req.Weekdays {
		if w < 0 || w > 6 {
			return nil, apperror.New(apperror.KindInvalidInput, "weekday %d out of range", w)
		}
		wanted[w] = true
	}

	result := &RecurringResult{Created: []*TimeSlot{}, Skipped: []SkippedDate{}}
	for d := DateOnly(req.StartDate); !d.After(DateOnly(req.EndDate)); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			// Deadline hit mid-series; already-committed dates stand.
			return result, nil
		}
		// time.Weekday counts Sunday as 0; the API counts Monday as 0.
		if !wanted[(int(d.Weekday())+6)%7] {
			continue
		}
		slot, err := s.CreateOneOff(ctx, OneOffRequest{
			ProviderID:     req.ProviderID,
			PatientID:      req.PatientID,
			Date:           d,
			StartTime:      req.StartTime,
			EndTime:        req.EndTime,
			ServiceID:      req.ServiceID,
			PrescriptionID: req.PrescriptionID,
		})
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedDate{
				Date:   d.Format("2006-01-02"),
				Reason: err.Error(),
			})
			continue
		}
		result.Created = append(result.Created, slot)
	}
	s.logger.Debug().
		Int("created", len(result.Created)).
		Int("skipped", len(result.Skipped)).
		Str("provider_id", req.ProviderID.String()).
		Msg("recurring series placed")
	return result, nil
}

// SlotPatch is the partial update applied to a time slot. Nil fields are left
// untouched.
type SlotPatch struct {
	Date           *time.Time
	StartTime      *TimeOfDay
	EndTime        *TimeOfDay
	Status         *string
	Description    *string
	ServiceID      *uuid.UUID
	PrescriptionID *uuid.UUID
}

// UpdateTimeSlot applies a patch. Window and date changes re-run the conflict
// detector excluding the slot itself; status changes follow the transition
// table.
func (s *Service) UpdateTimeSlot(ctx context.Context, slotID uuid.UUID, patch SlotPatch) (*TimeSlot, error) {
	actor := auth.ActorFromContext(ctx)

	var updated *TimeSlot
	var after PostCommit
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			return err
		}
		sched, err := s.schedules.GetByID(ctx, slot.ScheduleID)
		if err != nil {
			return err
		}
		if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
			Kind: auth.ResourceSchedule, PatientID: sched.PatientID,
		}); err != nil {
			return err
		}

		newStart := slot.StartTime
		newEnd := slot.EndTime
		if patch.StartTime != nil {
			newStart = *patch.StartTime
		}
		if patch.EndTime != nil {
			newEnd = *patch.EndTime
		}
		if newEnd <= newStart {
			return apperror.New(apperror.KindInvalidDuration, "end_time must be after start_time")
		}
		newDate := DateOnly(sched.Date)
		if patch.Date != nil {
			newDate = DateOnly(*patch.Date)
		}

		windowChanged := newStart != slot.StartTime || newEnd != slot.EndTime ||
			!newDate.Equal(DateOnly(sched.Date))
		if windowChanged {
			if err := s.runner.AdvisoryLock(ctx, db.SlotLockKey(sched.ProviderID, newDate)); err != nil {
				return err
			}
			ok, err := s.detector.Admits(ctx, sched.ProviderID, newDate, newStart, newEnd, &slot.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperror.New(apperror.KindConflict,
					"provider already has an appointment overlapping %s-%s on %s",
					newStart, newEnd, newDate.Format("2006-01-02"))
			}
		}

		changes := map[string]interface{}{}
		if patch.Status != nil && *patch.Status != slot.Status {
			if !SlotTransitionAllowed(slot.Status, *patch.Status) {
				return apperror.New(apperror.KindInvalidTransition,
					"time slot cannot move from %s to %s", slot.Status, *patch.Status)
			}
			changes["status"] = map[string]string{"from": slot.Status, "to": *patch.Status}
			slot.Status = *patch.Status
		}
		if !newDate.Equal(DateOnly(sched.Date)) {
			// Moving day means moving container: slots always share their
			// schedule's date.
			newSched, err := s.findOrCreateSchedule(ctx, sched.ProviderID, sched.PatientID, newDate, actor.UserID)
			if err != nil {
				return err
			}
			slot.ScheduleID = newSched.ID
			changes["date"] = newDate.Format("2006-01-02")
			sched = newSched
		}
		if newStart != slot.StartTime || newEnd != slot.EndTime {
			changes["window"] = newStart.String() + "-" + newEnd.String()
		}
		slot.StartTime = newStart
		slot.EndTime = newEnd
		if patch.Description != nil {
			slot.Description = patch.Description
		}
		if patch.ServiceID != nil {
			slot.ServiceID = patch.ServiceID
		}
		if patch.PrescriptionID != nil {
			slot.PrescriptionID = patch.PrescriptionID
		}

		if err := s.slots.Update(ctx, slot); err != nil {
			return err
		}
		updated = slot

		after, err = s.listener.ScheduleChanged(ctx, ScheduleChanged{
			Kind:     ChangeUpdated,
			Schedule: sched,
			Slots:    []*TimeSlot{slot},
			ActorID:  actor.UserID,
		})
		if err != nil {
			return err
		}

		return s.audit.Log(ctx, audit.Record{
			Action:      audit.ActionUpdateTimeSlot,
			TargetModel: "TimeSlot",
			TargetID:    slot.ID,
			PatientID:   &sched.PatientID,
			ProviderID:  &sched.ProviderID,
			Extra:       changes,
		})
	})
	if err != nil {
		return nil, err
	}
	if after != nil {
		after(ctx)
	}
	return updated, nil
}

// DeleteAppointment removes a time slot or a whole schedule. The target id is
// tried as a slot first, then as a schedule.
func (s *Service) DeleteAppointment(ctx context.Context, targetID uuid.UUID, strategy, reason string) error {
	switch strategy {
	case StrategyAggressive, StrategyConservative, StrategySmart:
	case "":
		strategy = StrategySmart
	default:
		return apperror.New(apperror.KindInvalidInput, "unknown delete strategy %q", strategy)
	}
	actor := auth.ActorFromContext(ctx)

	var after PostCommit
	err := s.runner.InTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, targetID)
		if err != nil {
			if !apperror.Is(err, apperror.KindNotFound) {
				return err
			}
			after, err = s.deleteSchedule(ctx, actor, targetID, reason)
			return err
		}
		after, err = s.deleteSlot(ctx, actor, slot, strategy, reason)
		return err
	})
	if err != nil {
		return err
	}
	if after != nil {
		after(ctx)
	}
	return nil
}

func (s *Service) deleteSlot(ctx context.Context, actor auth.Actor, slot *TimeSlot,
	strategy, reason string) (PostCommit, error) {
	sched, err := s.schedules.GetByID(ctx, slot.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind: auth.ResourceSchedule, PatientID: sched.PatientID,
	}); err != nil {
		return nil, err
	}

	if err := s.slots.Delete(ctx, slot.ID); err != nil {
		return nil, err
	}

	targetModel := "TimeSlot"
	if strategy != StrategyConservative {
		// aggressive and smart both collapse a schedule left empty. With one
		// schedule per (provider, patient, date), the last slot of the day is
		// exactly the last slot of the schedule.
		remaining, err := s.slots.CountBySchedule(ctx, sched.ID)
		if err != nil {
			return nil, err
		}
		if remaining == 0 {
			if err := s.schedules.Delete(ctx, sched.ID); err != nil {
				return nil, err
			}
			targetModel = "Schedule"
		}
	}

	after, err := s.listener.ScheduleChanged(ctx, ScheduleChanged{
		Kind:     ChangeCancelled,
		Schedule: sched,
		Slots:    []*TimeSlot{slot},
		ActorID:  actor.UserID,
		Reason:   reason,
	})
	if err != nil {
		return nil, err
	}

	targetID := slot.ID
	if targetModel == "Schedule" {
		targetID = sched.ID
	}
	return after, s.audit.Log(ctx, audit.Record{
		Action:      audit.ActionDeleteAppointment,
		TargetModel: targetModel,
		TargetID:    targetID,
		PatientID:   &sched.PatientID,
		ProviderID:  &sched.ProviderID,
		Extra: map[string]interface{}{
			"strategy": strategy,
			"reason":   reason,
		},
	})
}

func (s *Service) deleteSchedule(ctx context.Context, actor auth.Actor, scheduleID uuid.UUID,
	reason string) (PostCommit, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.Can(ctx, actor, auth.VerbMutate, auth.Resource{
		Kind: auth.ResourceSchedule, PatientID: sched.PatientID,
	}); err != nil {
		return nil, err
	}

	slots, err := s.slots.ListBySchedule(ctx, sched.ID)
	if err != nil {
		return nil, err
	}
	for _, t := range slots {
		if err := s.slots.Delete(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	if err := s.schedules.Delete(ctx, sched.ID); err != nil {
		return nil, err
	}

	after, err := s.listener.ScheduleChanged(ctx, ScheduleChanged{
		Kind:     ChangeCancelled,
		Schedule: sched,
		Slots:    slots,
		ActorID:  actor.UserID,
		Reason:   reason,
	})
	if err != nil {
		return nil, err
	}

	return after, s.audit.Log(ctx, audit.Record{
		Action:      audit.ActionDeleteAppointment,
		TargetModel: "Schedule",
		TargetID:    sched.ID,
		PatientID:   &sched.PatientID,
		ProviderID:  &sched.ProviderID,
		Extra:       map[string]interface{}{"reason": reason},
	})
}

// -- Read views --

func (s *Service) Calendar(ctx context.Context, from, to time.Time) ([]*ScheduleWithSlots, error) {
	scheds, err := s.schedules.ListInRange(ctx, DateOnly(from), DateOnly(to))
	if err != nil {
		return nil, err
	}
	return s.withSlots(ctx, scheds)
}

func (s *Service) PatientCalendar(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*ScheduleWithSlots, error) {
	actor := auth.ActorFromContext(ctx)
	if err := s.guard.Can(ctx, actor, auth.VerbView, auth.Resource{
		Kind: auth.ResourceSchedule, PatientID: patientID,
	}); err != nil {
		return nil, err
	}
	scheds, err := s.schedules.ListForPatient(ctx, patientID, DateOnly(from), DateOnly(to))
	if err != nil {
		return nil, err
	}
	return s.withSlots(ctx, scheds)
}

func (s *Service) ProviderCalendar(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*ScheduleWithSlots, error) {
	scheds, err := s.schedules.ListForProvider(ctx, providerID, DateOnly(from), DateOnly(to))
	if err != nil {
		return nil, err
	}
	return s.withSlots(ctx, scheds)
}

// FamilyPatientView groups one linked patient's schedules.
type FamilyPatientView struct {
	PatientID uuid.UUID            `json:"patient_id"`
	Link      string               `json:"link"`
	Schedules []*ScheduleWithSlots `json:"schedules"`
}

// FamilyView is the family endpoint payload.
type FamilyView struct {
	Patients  []FamilyPatientView `json:"patients"`
	DateRange [2]string           `json:"date_range"`
}

// FamilyCalendar returns the schedules of every patient linked to the acting
// family user, optionally narrowed to one patient. Links scope the view; a
// patient outside the actor's links is denied.
func (s *Service) FamilyCalendar(ctx context.Context, patientID *uuid.UUID, from, to time.Time) (*FamilyView, error) {
	actor := auth.ActorFromContext(ctx)
	links, err := s.family.ListByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}

	view := &FamilyView{
		Patients:  []FamilyPatientView{},
		DateRange: [2]string{DateOnly(from).Format("2006-01-02"), DateOnly(to).Format("2006-01-02")},
	}
	for _, link := range links {
		if patientID != nil && link.PatientID != *patientID {
			continue
		}
		scheds, err := s.schedules.ListForPatient(ctx, link.PatientID, DateOnly(from), DateOnly(to))
		if err != nil {
			return nil, err
		}
		withSlots, err := s.withSlots(ctx, scheds)
		if err != nil {
			return nil, err
		}
		view.Patients = append(view.Patients, FamilyPatientView{
			PatientID: link.PatientID,
			Link:      link.Link,
			Schedules: withSlots,
		})
	}
	if patientID != nil && len(view.Patients) == 0 {
		return nil, apperror.New(apperror.KindPermissionDenied,
			"patient is not linked to the requesting family user")
	}
	return view, nil
}

func (s *Service) withSlots(ctx context.Context, scheds []*Schedule) ([]*ScheduleWithSlots, error) {
	out := make([]*ScheduleWithSlots, 0, len(scheds))
	for _, sched := range scheds {
		slots, err := s.slots.ListBySchedule(ctx, sched.ID)
		if err != nil {
			return nil, err
		}
		if slots == nil {
			slots = []*TimeSlot{}
		}
		out = append(out, &ScheduleWithSlots{Schedule: sched, Slots: slots})
	}
	return out, nil
}
