package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types, one per schedule change kind.
const (
	TypeScheduleCreated   = "schedule_created"
	TypeScheduleUpdated   = "schedule_updated"
	TypeScheduleCancelled = "schedule_cancelled"
)

// Priorities.
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is one in-app message for one user. Rows are written inside
// the transaction of the schedule mutation that caused them.
type Notification struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	RecipientID uuid.UUID  `db:"recipient_id" json:"recipient_id"`
	Type        string     `db:"type" json:"type"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	Priority    string     `db:"priority" json:"priority"`
	ScheduleID  *uuid.UUID `db:"schedule_id" json:"schedule_id,omitempty"`
	ExtraData   string     `db:"extra_data" json:"extra_data"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// Preferences controls which categories reach a user in-app, whether the
// user's own mutations echo back, and whether SMS is sent at all.
type Preferences struct {
	UserID            uuid.UUID `db:"user_id" json:"user_id"`
	ScheduleCreated   bool      `db:"schedule_created" json:"schedule_created"`
	ScheduleUpdated   bool      `db:"schedule_updated" json:"schedule_updated"`
	ScheduleCancelled bool      `db:"schedule_cancelled" json:"schedule_cancelled"`
	SelfEcho          bool      `db:"self_echo" json:"self_echo"`
	SMSEnabled        bool      `db:"sms_enabled" json:"sms_enabled"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultPreferences: every in-app category on, self-echo off, SMS on.
func DefaultPreferences(userID uuid.UUID) *Preferences {
	return &Preferences{
		UserID:            userID,
		ScheduleCreated:   true,
		ScheduleUpdated:   true,
		ScheduleCancelled: true,
		SelfEcho:          false,
		SMSEnabled:        true,
	}
}

// AllowsType reports whether the category is enabled in-app.
func (p *Preferences) AllowsType(t string) bool {
	switch t {
	case TypeScheduleCreated:
		return p.ScheduleCreated
	case TypeScheduleUpdated:
		return p.ScheduleUpdated
	case TypeScheduleCancelled:
		return p.ScheduleCancelled
	default:
		return true
	}
}
