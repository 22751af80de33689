package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/domain/audit"
	"github.com/carelink/carelink/internal/domain/identity"
	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
)

type mockScheduleRepo struct {
	schedules map[uuid.UUID]*Schedule
}

func (m *mockScheduleRepo) Create(_ context.Context, s *Schedule) error {
	s.ID = uuid.New()
	m.schedules[s.ID] = s
	return nil
}

func (m *mockScheduleRepo) GetByID(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "schedule not found")
	}
	return s, nil
}

func (m *mockScheduleRepo) FindByKey(_ context.Context, providerID, patientID uuid.UUID, date time.Time) (*Schedule, error) {
	for _, s := range m.schedules {
		if s.ProviderID == providerID && s.PatientID == patientID && s.Date.Equal(date) {
			return s, nil
		}
	}
	return nil, apperror.New(apperror.KindNotFound, "schedule not found")
}

func (m *mockScheduleRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.schedules[id]; !ok {
		return apperror.New(apperror.KindNotFound, "schedule not found")
	}
	delete(m.schedules, id)
	return nil
}

func (m *mockScheduleRepo) ListForProvider(_ context.Context, providerID uuid.UUID, from, to time.Time) ([]*Schedule, error) {
	var out []*Schedule
	for _, s := range m.schedules {
		if s.ProviderID == providerID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) ListForPatient(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Schedule, error) {
	var out []*Schedule
	for _, s := range m.schedules {
		if s.PatientID == patientID && !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) ListInRange(_ context.Context, from, to time.Time) ([]*Schedule, error) {
	var out []*Schedule
	for _, s := range m.schedules {
		if !s.Date.Before(from) && !s.Date.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) ProviderHasScheduleWith(_ context.Context, providerID, patientID uuid.UUID) (bool, error) {
	for _, s := range m.schedules {
		if s.ProviderID == providerID && s.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

type mockSlotRepo struct {
	slots     map[uuid.UUID]*TimeSlot
	schedules *mockScheduleRepo
}

func (m *mockSlotRepo) Create(_ context.Context, t *TimeSlot) error {
	t.ID = uuid.New()
	m.slots[t.ID] = t
	return nil
}

func (m *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	t, ok := m.slots[id]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "time slot not found")
	}
	return t, nil
}

func (m *mockSlotRepo) Update(_ context.Context, t *TimeSlot) error {
	if _, ok := m.slots[t.ID]; !ok {
		return apperror.New(apperror.KindNotFound, "time slot not found")
	}
	m.slots[t.ID] = t
	return nil
}

func (m *mockSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.slots[id]; !ok {
		return apperror.New(apperror.KindNotFound, "time slot not found")
	}
	delete(m.slots, id)
	return nil
}

func (m *mockSlotRepo) ListBySchedule(_ context.Context, scheduleID uuid.UUID) ([]*TimeSlot, error) {
	var out []*TimeSlot
	for _, t := range m.slots {
		if t.ScheduleID == scheduleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockSlotRepo) ListForProviderDate(_ context.Context, providerID uuid.UUID, date time.Time) ([]*TimeSlot, error) {
	var out []*TimeSlot
	for _, t := range m.slots {
		sched, ok := m.schedules.schedules[t.ScheduleID]
		if !ok {
			continue
		}
		if sched.ProviderID == providerID && sched.Date.Equal(date) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockSlotRepo) CountBySchedule(_ context.Context, scheduleID uuid.UUID) (int, error) {
	n := 0
	for _, t := range m.slots {
		if t.ScheduleID == scheduleID {
			n++
		}
	}
	return n, nil
}

type mockFamilyLinks struct {
	links map[uuid.UUID][]*identity.FamilyPatient // by user
}

func (m *mockFamilyLinks) ListByUser(_ context.Context, userID uuid.UUID) ([]*identity.FamilyPatient, error) {
	return m.links[userID], nil
}

type mockRels struct {
	owners map[uuid.UUID]uuid.UUID
	family map[uuid.UUID][]uuid.UUID
}

func (m *mockRels) PatientOwnedBy(_ context.Context, patientID, userID uuid.UUID) (bool, error) {
	return m.owners[patientID] == userID, nil
}

func (m *mockRels) FamilyLinked(_ context.Context, userID, patientID uuid.UUID) (bool, error) {
	for _, u := range m.family[patientID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRels) ProviderSeesPatient(_ context.Context, _, _ uuid.UUID) (bool, error) {
	return false, nil
}

type fakeRunner struct{}

func (fakeRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeRunner) AdvisoryLock(context.Context, int64) error { return nil }

type mockAuditRepo struct {
	entries []*audit.Entry
}

func (m *mockAuditRepo) Create(_ context.Context, e *audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditRepo) Search(_ context.Context, _ audit.Filter, _, _ int) ([]*audit.Entry, int, error) {
	return m.entries, len(m.entries), nil
}

// captureListener records every event it sees.
type captureListener struct {
	events []ScheduleChanged
}

func (c *captureListener) ScheduleChanged(_ context.Context, ev ScheduleChanged) (PostCommit, error) {
	c.events = append(c.events, ev)
	return nil, nil
}

type fixture struct {
	svc       *Service
	schedules *mockScheduleRepo
	slots     *mockSlotRepo
	family    *mockFamilyLinks
	rels      *mockRels
	auditRepo *mockAuditRepo
	listener  *captureListener
}

func newFixture() *fixture {
	schedules := &mockScheduleRepo{schedules: map[uuid.UUID]*Schedule{}}
	f := &fixture{
		schedules: schedules,
		slots:     &mockSlotRepo{slots: map[uuid.UUID]*TimeSlot{}, schedules: schedules},
		family:    &mockFamilyLinks{links: map[uuid.UUID][]*identity.FamilyPatient{}},
		rels:      &mockRels{owners: map[uuid.UUID]uuid.UUID{}, family: map[uuid.UUID][]uuid.UUID{}},
		auditRepo: &mockAuditRepo{},
		listener:  &captureListener{},
	}
	guard := auth.NewGuard(f.rels, zerolog.Nop())
	auditSvc := audit.NewService(f.auditRepo, zerolog.Nop())
	f.svc = NewService(f.schedules, f.slots, f.family, guard, fakeRunner{}, auditSvc,
		f.listener, zerolog.Nop())
	return f
}

func coordCtx() context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: uuid.New(),
		Role:   auth.RoleCoordinator,
		Name:   "Coordinator",
	})
}

func mustTime(t *testing.T, s string) TimeOfDay {
	t.Helper()
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return parsed
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func (f *fixture) place(t *testing.T, providerID, patientID uuid.UUID, day time.Time, start, end string) *TimeSlot {
	t.Helper()
	slot, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: providerID,
		PatientID:  patientID,
		Date:       day,
		StartTime:  mustTime(t, start),
		EndTime:    mustTime(t, end),
	})
	if err != nil {
		t.Fatalf("place %s-%s: %v", start, end, err)
	}
	return slot
}

func TestDetector_HalfOpenOverlap(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.June, 9)
	f.place(t, provider, patient, day, "09:00", "10:00")

	cases := []struct {
		start, end string
		admissible bool
	}{
		{"09:30", "10:30", false}, // straddles the end
		{"08:30", "09:30", false}, // straddles the start
		{"09:00", "10:00", false}, // exact duplicate
		{"09:15", "09:45", false}, // nested
		{"10:00", "11:00", true},  // touching end is free
		{"08:00", "09:00", true},  // touching start is free
		{"11:00", "12:00", true},
	}
	for _, tc := range cases {
		ok, err := f.svc.detector.Admits(context.Background(), provider, day,
			mustTime(t, tc.start), mustTime(t, tc.end), nil)
		if err != nil {
			t.Fatalf("Admits: %v", err)
		}
		if ok != tc.admissible {
			t.Errorf("%s-%s: admissible=%v, want %v", tc.start, tc.end, ok, tc.admissible)
		}
	}
}

func TestDetector_ExcludedSlotIgnored(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.June, 9)
	slot := f.place(t, provider, patient, day, "09:00", "10:00")

	// Without exclusion the same window collides with itself.
	ok, err := f.svc.detector.Admits(context.Background(), provider, day,
		slot.StartTime, slot.EndTime, nil)
	if err != nil || ok {
		t.Fatalf("expected collision, got ok=%v err=%v", ok, err)
	}

	ok, err = f.svc.detector.Admits(context.Background(), provider, day,
		slot.StartTime, slot.EndTime, &slot.ID)
	if err != nil || !ok {
		t.Fatalf("expected admission with exclusion, got ok=%v err=%v", ok, err)
	}
}

func TestDetector_CancelledSlotsStillOccupy(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.June, 9)
	slot := f.place(t, provider, patient, day, "09:00", "10:00")
	cancelled := SlotCancelled
	if _, err := f.svc.UpdateTimeSlot(coordCtx(), slot.ID, SlotPatch{Status: &cancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: provider,
		PatientID:  patient,
		Date:       day,
		StartTime:  mustTime(t, "09:30"),
		EndTime:    mustTime(t, "10:30"),
	})
	if err == nil {
		t.Fatal("cancelled slot must still occupy the window until deleted")
	}
	if apperror.KindOf(err) != apperror.KindConflict {
		t.Errorf("expected conflict, got %s", apperror.KindOf(err))
	}
}

func TestCreateOneOff_ConflictRejection(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	day := date(2025, time.June, 9)
	f.place(t, provider, uuid.New(), day, "09:00", "10:00")

	// Another patient on the same provider still collides.
	_, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: provider,
		PatientID:  uuid.New(),
		Date:       day,
		StartTime:  mustTime(t, "09:30"),
		EndTime:    mustTime(t, "10:30"),
	})
	if apperror.KindOf(err) != apperror.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: provider,
		PatientID:  uuid.New(),
		Date:       day,
		StartTime:  mustTime(t, "10:00"),
		EndTime:    mustTime(t, "11:00"),
	}); err != nil {
		t.Fatalf("10:00-11:00 should succeed: %v", err)
	}
}

func TestCreateOneOff_InvalidDuration(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: uuid.New(),
		PatientID:  uuid.New(),
		Date:       date(2025, time.June, 9),
		StartTime:  mustTime(t, "10:00"),
		EndTime:    mustTime(t, "10:00"),
	})
	if apperror.KindOf(err) != apperror.KindInvalidDuration {
		t.Fatalf("expected invalid_duration, got %v", err)
	}
}

func TestCreateOneOff_PastDateOnlyForStaff(t *testing.T) {
	f := newFixture()
	patient := uuid.New()
	owner := uuid.New()
	f.rels.owners[patient] = owner
	yesterday := DateOnly(time.Now()).AddDate(0, 0, -1)

	patientCtx := auth.WithActor(context.Background(), auth.Actor{
		UserID: owner, Role: auth.RolePatient, Name: "Quinn",
	})
	_, err := f.svc.CreateOneOff(patientCtx, OneOffRequest{
		ProviderID: uuid.New(),
		PatientID:  patient,
		Date:       yesterday,
		StartTime:  mustTime(t, "09:00"),
		EndTime:    mustTime(t, "10:00"),
	})
	if err == nil {
		t.Fatal("patients must not schedule in the past")
	}

	if _, err := f.svc.CreateOneOff(coordCtx(), OneOffRequest{
		ProviderID: uuid.New(),
		PatientID:  patient,
		Date:       yesterday,
		StartTime:  mustTime(t, "09:00"),
		EndTime:    mustTime(t, "10:00"),
	}); err != nil {
		t.Fatalf("coordinators may backfill past dates: %v", err)
	}
}

func TestCreateOneOff_FindOrCreateSchedule(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.June, 9)

	s1 := f.place(t, provider, patient, day, "09:00", "10:00")
	s2 := f.place(t, provider, patient, day, "10:00", "11:00")

	if s1.ScheduleID != s2.ScheduleID {
		t.Error("same (provider, patient, date) must share one schedule")
	}
	if len(f.schedules.schedules) != 1 {
		t.Errorf("expected a single schedule row, got %d", len(f.schedules.schedules))
	}
}

func TestCreateOneOff_EmitsEventAndAudit(t *testing.T) {
	f := newFixture()
	f.place(t, uuid.New(), uuid.New(), date(2025, time.June, 9), "09:00", "10:00")

	if len(f.listener.events) != 1 || f.listener.events[0].Kind != ChangeCreated {
		t.Errorf("expected one created event, got %+v", f.listener.events)
	}
	if len(f.auditRepo.entries) != 1 || f.auditRepo.entries[0].Action != audit.ActionCreateSchedule {
		t.Errorf("expected one CREATE_SCHEDULE audit row, got %+v", f.auditRepo.entries)
	}
}

func TestCreateRecurring_PartialFailure(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()

	// 2025-06-11 is a Wednesday; pre-occupy it.
	f.place(t, provider, uuid.New(), date(2025, time.June, 11), "09:00", "10:00")

	// Mondays and Wednesdays over two weeks: 9, 11, 16, 18 June.
	result, err := f.svc.CreateRecurring(coordCtx(), RecurringRequest{
		ProviderID: provider,
		PatientID:  patient,
		Weekdays:   []int{0, 2},
		StartDate:  date(2025, time.June, 9),
		EndDate:    date(2025, time.June, 18),
		StartTime:  mustTime(t, "09:00"),
		EndTime:    mustTime(t, "10:00"),
	})
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}
	if len(result.Created) != 3 {
		t.Errorf("expected 3 created, got %d", len(result.Created))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Date != "2025-06-11" {
		t.Errorf("expected 2025-06-11 skipped, got %+v", result.Skipped)
	}
}

func TestCreateRecurring_DeniedUpFront(t *testing.T) {
	f := newFixture()
	famCtx := auth.WithActor(context.Background(), auth.Actor{
		UserID: uuid.New(), Role: auth.RoleFamilyPatient, Name: "Faye",
	})

	// Denial is not date-specific: the whole series is refused, not
	// returned as one skipped entry per date.
	result, err := f.svc.CreateRecurring(famCtx, RecurringRequest{
		ProviderID: uuid.New(),
		PatientID:  uuid.New(),
		Weekdays:   []int{0},
		StartDate:  date(2025, time.June, 1),
		EndDate:    date(2025, time.June, 30),
		StartTime:  mustTime(t, "09:00"),
		EndTime:    mustTime(t, "10:00"),
	})
	if apperror.KindOf(err) != apperror.KindPermissionDenied {
		t.Fatalf("expected permission_denied, got %v", err)
	}
	if result != nil {
		t.Errorf("denied series must not return a result, got %+v", result)
	}
}

func TestCreateRecurring_CalendarRoundTrip(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()

	result, err := f.svc.CreateRecurring(coordCtx(), RecurringRequest{
		ProviderID: provider,
		PatientID:  patient,
		Weekdays:   []int{0}, // Mondays
		StartDate:  date(2025, time.June, 1),
		EndDate:    date(2025, time.June, 30),
		StartTime:  mustTime(t, "14:00"),
		EndTime:    mustTime(t, "15:00"),
	})
	if err != nil {
		t.Fatalf("CreateRecurring: %v", err)
	}

	items, err := f.svc.Calendar(coordCtx(), date(2025, time.June, 1), date(2025, time.June, 30))
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	total := 0
	for _, item := range items {
		total += len(item.Slots)
	}
	if total != len(result.Created) {
		t.Errorf("calendar returned %d slots, created %d", total, len(result.Created))
	}
}

func TestUpdateTimeSlot_TransitionTable(t *testing.T) {
	f := newFixture()
	slot := f.place(t, uuid.New(), uuid.New(), date(2025, time.June, 9), "09:00", "10:00")
	ctx := coordCtx()

	for _, status := range []string{SlotConfirmed, SlotInProgress, SlotCompleted} {
		st := status
		if _, err := f.svc.UpdateTimeSlot(ctx, slot.ID, SlotPatch{Status: &st}); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	// completed is terminal.
	back := SlotScheduled
	_, err := f.svc.UpdateTimeSlot(ctx, slot.ID, SlotPatch{Status: &back})
	if apperror.KindOf(err) != apperror.KindInvalidTransition {
		t.Fatalf("expected invalid_transition, got %v", err)
	}
}

func TestUpdateTimeSlot_SkipsStages(t *testing.T) {
	f := newFixture()
	slot := f.place(t, uuid.New(), uuid.New(), date(2025, time.June, 9), "09:00", "10:00")

	completed := SlotCompleted
	_, err := f.svc.UpdateTimeSlot(coordCtx(), slot.ID, SlotPatch{Status: &completed})
	if apperror.KindOf(err) != apperror.KindInvalidTransition {
		t.Fatalf("scheduled must not jump to completed, got %v", err)
	}
}

func TestUpdateTimeSlot_MoveDateReparents(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	slot := f.place(t, provider, patient, date(2025, time.June, 9), "09:00", "10:00")
	oldSchedule := slot.ScheduleID

	newDate := date(2025, time.June, 10)
	updated, err := f.svc.UpdateTimeSlot(coordCtx(), slot.ID, SlotPatch{Date: &newDate})
	if err != nil {
		t.Fatalf("UpdateTimeSlot: %v", err)
	}
	if updated.ScheduleID == oldSchedule {
		t.Error("moving the date must re-parent the slot onto the new day's schedule")
	}
	sched, err := f.schedules.GetByID(context.Background(), updated.ScheduleID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !sched.Date.Equal(newDate) || sched.ProviderID != provider || sched.PatientID != patient {
		t.Errorf("new schedule has wrong key: %+v", sched)
	}
}

func TestUpdateTimeSlot_MoveConflicts(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	day := date(2025, time.June, 9)
	f.place(t, provider, uuid.New(), day, "09:00", "10:00")
	slot := f.place(t, provider, uuid.New(), day, "11:00", "12:00")

	start := mustTime(t, "09:30")
	end := mustTime(t, "10:30")
	_, err := f.svc.UpdateTimeSlot(coordCtx(), slot.ID, SlotPatch{StartTime: &start, EndTime: &end})
	if apperror.KindOf(err) != apperror.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteAppointment_SmartCollapsesEmptySchedule(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.July, 1)
	slot := f.place(t, provider, patient, day, "09:00", "10:00")

	if err := f.svc.DeleteAppointment(coordCtx(), slot.ID, StrategySmart, "patient request"); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}

	items, err := f.svc.Calendar(coordCtx(), day, day)
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("calendar should be empty after smart delete, got %d entries", len(items))
	}
	last := f.auditRepo.entries[len(f.auditRepo.entries)-1]
	if last.Action != audit.ActionDeleteAppointment || last.TargetModel != "Schedule" {
		t.Errorf("expected DELETE_APPOINTMENT targeting Schedule, got %+v", last)
	}
}

func TestDeleteAppointment_SmartKeepsBusySchedule(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.July, 1)
	s1 := f.place(t, provider, patient, day, "09:00", "10:00")
	f.place(t, provider, patient, day, "10:00", "11:00")

	if err := f.svc.DeleteAppointment(coordCtx(), s1.ID, StrategySmart, ""); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if len(f.schedules.schedules) != 1 {
		t.Error("schedule with remaining slots must survive")
	}
	last := f.auditRepo.entries[len(f.auditRepo.entries)-1]
	if last.TargetModel != "TimeSlot" {
		t.Errorf("expected TimeSlot target, got %s", last.TargetModel)
	}
}

func TestDeleteAppointment_ConservativeLeavesEmptySchedule(t *testing.T) {
	f := newFixture()
	slot := f.place(t, uuid.New(), uuid.New(), date(2025, time.July, 1), "09:00", "10:00")

	if err := f.svc.DeleteAppointment(coordCtx(), slot.ID, StrategyConservative, ""); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if len(f.schedules.schedules) != 1 {
		t.Error("conservative delete must leave the empty schedule")
	}
	if len(f.slots.slots) != 0 {
		t.Error("slot should be gone")
	}
}

func TestDeleteAppointment_ScheduleTarget(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	day := date(2025, time.July, 1)
	slot := f.place(t, provider, patient, day, "09:00", "10:00")
	f.place(t, provider, patient, day, "10:00", "11:00")

	if err := f.svc.DeleteAppointment(coordCtx(), slot.ScheduleID, StrategyAggressive, "provider sick"); err != nil {
		t.Fatalf("DeleteAppointment: %v", err)
	}
	if len(f.schedules.schedules) != 0 || len(f.slots.slots) != 0 {
		t.Error("deleting a schedule removes it and all its slots")
	}
	last := f.listener.events[len(f.listener.events)-1]
	if last.Kind != ChangeCancelled || last.Reason != "provider sick" {
		t.Errorf("expected cancelled event with reason, got %+v", last)
	}
}

func TestFamilyCalendar_ScopedToLinks(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	q1 := uuid.New()
	q2 := uuid.New()
	familyUser := uuid.New()
	f.family.links[familyUser] = []*identity.FamilyPatient{
		{ID: uuid.New(), UserID: familyUser, PatientID: q1, Link: "Spouse"},
	}
	day := date(2025, time.June, 9)
	f.place(t, provider, q1, day, "09:00", "10:00")
	f.place(t, provider, q2, day, "11:00", "12:00")

	famCtx := auth.WithActor(context.Background(), auth.Actor{
		UserID: familyUser, Role: auth.RoleFamilyPatient, Name: "Faye",
	})
	view, err := f.svc.FamilyCalendar(famCtx, nil, day, day)
	if err != nil {
		t.Fatalf("FamilyCalendar: %v", err)
	}
	if len(view.Patients) != 1 || view.Patients[0].PatientID != q1 {
		t.Fatalf("family view must only contain linked patients: %+v", view.Patients)
	}

	// Asking for an unlinked patient is a denial, not an empty result.
	if _, err := f.svc.FamilyCalendar(famCtx, &q2, day, day); err == nil {
		t.Fatal("expected denial for unlinked patient")
	}

	// Family users view but never mutate slots.
	slot := view.Patients[0].Schedules[0].Slots[0]
	cancelled := SlotCancelled
	if _, err := f.svc.UpdateTimeSlot(famCtx, slot.ID, SlotPatch{Status: &cancelled}); err == nil {
		t.Fatal("family user must not mutate time slots")
	} else if apperror.KindOf(err) != apperror.KindPermissionDenied {
		t.Errorf("expected permission_denied, got %s", apperror.KindOf(err))
	}
}

func TestScheduleSlotCoherence(t *testing.T) {
	f := newFixture()
	provider := uuid.New()
	patient := uuid.New()
	f.place(t, provider, patient, date(2025, time.June, 9), "09:00", "10:00")
	f.place(t, provider, patient, date(2025, time.June, 10), "09:00", "10:00")

	for _, slot := range f.slots.slots {
		sched, ok := f.schedules.schedules[slot.ScheduleID]
		if !ok {
			t.Fatal("slot with no schedule")
		}
		if sched.ProviderID != provider || sched.PatientID != patient {
			t.Errorf("slot attached to foreign schedule: %+v", sched)
		}
	}
}
