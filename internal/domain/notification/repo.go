package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// ListForUser returns the user's notifications, newest first.
	ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

type PreferencesRepository interface {
	// Get returns NotFound for users who never saved preferences; callers
	// fall back to DefaultPreferences.
	Get(ctx context.Context, userID uuid.UUID) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}
