package notification

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
)

// Service serves a user's own notifications and preferences. Cross-user reads
// do not exist; the recipient id always comes from the authenticated actor.
type Service struct {
	repo  Repository
	prefs PreferencesRepository
	now   func() time.Time
}

func NewService(repo Repository, prefs PreferencesRepository) *Service {
	return &Service{repo: repo, prefs: prefs, now: time.Now}
}

func (s *Service) List(ctx context.Context, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return nil, 0, apperror.New(apperror.KindPermissionDenied, "not authenticated")
	}
	return s.repo.ListForUser(ctx, actor.UserID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return 0, apperror.New(apperror.KindPermissionDenied, "not authenticated")
	}
	return s.repo.CountUnread(ctx, actor.UserID)
}

// MarkRead stamps the notification read. Another user's notification is
// NotFound, not PermissionDenied, so ids cannot be probed.
func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	actor := auth.ActorFromContext(ctx)
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.UserID {
		return nil, apperror.New(apperror.KindNotFound, "notification %s not found", id)
	}
	if n.ReadAt != nil {
		return n, nil
	}
	at := s.now()
	if err := s.repo.MarkRead(ctx, id, at); err != nil {
		return nil, err
	}
	n.ReadAt = &at
	return n, nil
}

func (s *Service) GetPreferences(ctx context.Context) (*Preferences, error) {
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return nil, apperror.New(apperror.KindPermissionDenied, "not authenticated")
	}
	prefs, err := s.prefs.Get(ctx, actor.UserID)
	if apperror.Is(err, apperror.KindNotFound) {
		return DefaultPreferences(actor.UserID), nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

func (s *Service) UpdatePreferences(ctx context.Context, p *Preferences) error {
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return apperror.New(apperror.KindPermissionDenied, "not authenticated")
	}
	p.UserID = actor.UserID
	return s.prefs.Upsert(ctx, p)
}
