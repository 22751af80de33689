package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperror"
)

// TimeOfDay is minutes since midnight in the server's local zone. Appointment
// windows are half-open [start, end).
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS"; seconds are discarded.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, apperror.New(apperror.KindInvalidInput, "invalid time %q", s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, apperror.New(apperror.KindInvalidInput, "invalid time %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return apperror.New(apperror.KindInvalidInput, "invalid time %s", s)
	}
	parsed, err := ParseTimeOfDay(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Hours returns the window length in decimal hours. Partial hours are
// fractional, so a 90-minute window is 1.5.
func Hours(start, end TimeOfDay) float64 {
	return float64(end-start) / 60.0
}

// TimeSlot statuses.
const (
	SlotScheduled  = "scheduled"
	SlotConfirmed  = "confirmed"
	SlotInProgress = "in_progress"
	SlotCompleted  = "completed"
	SlotCancelled  = "cancelled"
	SlotNoShow     = "no_show"
)

// slotTransitions is the table of allowed status moves. completed, cancelled
// and no_show are terminal.
var slotTransitions = map[string][]string{
	SlotScheduled:  {SlotConfirmed, SlotCancelled, SlotInProgress},
	SlotConfirmed:  {SlotInProgress, SlotCancelled},
	SlotInProgress: {SlotCompleted, SlotCancelled, SlotNoShow},
}

// SlotTransitionAllowed reports whether a slot may move between the two
// statuses.
func SlotTransitionAllowed(from, to string) bool {
	for _, t := range slotTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Schedule is a single day's container of appointments for one
// (provider, patient) pair. At most one non-deleted row per key.
type Schedule struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ProviderID  uuid.UUID `db:"provider_id" json:"provider_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	Date        time.Time `db:"date" json:"date"`
	CreatedByID uuid.UUID `db:"created_by_id" json:"created_by_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TimeSlot is one appointment window inside a Schedule.
type TimeSlot struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ScheduleID     uuid.UUID  `db:"schedule_id" json:"schedule_id"`
	StartTime      TimeOfDay  `db:"start_time" json:"start_time"`
	EndTime        TimeOfDay  `db:"end_time" json:"end_time"`
	Status         string     `db:"status" json:"status"`
	ServiceID      *uuid.UUID `db:"service_id" json:"service_id,omitempty"`
	PrescriptionID *uuid.UUID `db:"prescription_id" json:"prescription_id,omitempty"`
	Description    *string    `db:"description" json:"description,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ScheduleWithSlots is the read-view shape returned by the calendar queries.
type ScheduleWithSlots struct {
	Schedule *Schedule   `json:"schedule"`
	Slots    []*TimeSlot `json:"appointments"`
}

// DateOnly truncates t to its calendar date in the local zone.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
