package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detector answers whether a candidate window may be placed on a provider's
// calendar day. Every existing slot occupies its window until it is deleted;
// cancelled and no_show slots still count, because status changes do not free
// the calendar.
type Detector struct {
	slots TimeSlotRepository
}

func NewDetector(slots TimeSlotRepository) *Detector {
	return &Detector{slots: slots}
}

// Admits reports whether [start, end) is free for the provider on date. An
// excluded slot id is ignored, so updates do not collide with themselves.
func (d *Detector) Admits(ctx context.Context, providerID uuid.UUID, date time.Time,
	start, end TimeOfDay, exclude *uuid.UUID) (bool, error) {
	existing, err := d.slots.ListForProviderDate(ctx, providerID, DateOnly(date))
	if err != nil {
		return false, err
	}
	for _, t := range existing {
		if exclude != nil && t.ID == *exclude {
			continue
		}
		if t.StartTime < end && t.EndTime > start {
			return false, nil
		}
	}
	return true, nil
}
