package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ChangeKind classifies a schedule mutation.
type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangeUpdated   ChangeKind = "updated"
	ChangeCancelled ChangeKind = "cancelled"
)

// ScheduleChanged is emitted by the scheduler for every committed mutation.
// The notification dispatcher is its sole consumer.
type ScheduleChanged struct {
	Kind     ChangeKind
	Schedule *Schedule
	Slots    []*TimeSlot
	ActorID  uuid.UUID
	Reason   string
}

// PostCommit is work the listener defers until the surrounding transaction
// has committed, such as handing SMS deliveries to the outbox. May be nil.
type PostCommit func(ctx context.Context)

// ChangeListener consumes schedule change events. It runs inside the
// scheduler's transaction; rows it writes commit or roll back with the
// mutation itself.
type ChangeListener interface {
	ScheduleChanged(ctx context.Context, ev ScheduleChanged) (PostCommit, error)
}

// NopListener ignores events. Used where no dispatcher is wired.
type NopListener struct{}

func (NopListener) ScheduleChanged(context.Context, ScheduleChanged) (PostCommit, error) {
	return nil, nil
}
