package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
)

// Record captures the optional context of an audited action.
type Record struct {
	Action       string
	TargetModel  string
	TargetID     uuid.UUID
	PatientID    *uuid.UUID
	PatientName  string
	ProviderID   *uuid.UUID
	ProviderName string
	// Extra is serialized to a JSON string before persisting.
	Extra map[string]interface{}
}

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Log appends one audit entry attributed to the actor on the context.
// Audit writes ride the caller's transaction when one is present, so a
// rolled-back mutation leaves no trace.
func (s *Service) Log(ctx context.Context, rec Record) error {
	actor := auth.ActorFromContext(ctx)
	if actor.UserID == uuid.Nil {
		return apperror.New(apperror.KindInternal, "audit log requires an authenticated actor")
	}

	extra := "{}"
	if len(rec.Extra) > 0 {
		raw, err := json.Marshal(rec.Extra)
		if err != nil {
			return apperror.Wrap(apperror.KindInternal, err, "marshal audit extra data")
		}
		extra = string(raw)
	}

	entry := &Entry{
		ActorID:     actor.UserID,
		ActorName:   actor.Name,
		Action:      rec.Action,
		TargetModel: rec.TargetModel,
		TargetID:    rec.TargetID,
		PatientID:   rec.PatientID,
		ProviderID:  rec.ProviderID,
		ExtraData:   extra,
	}
	if rec.PatientName != "" {
		entry.PatientName = &rec.PatientName
	}
	if rec.ProviderName != "" {
		entry.ProviderName = &rec.ProviderName
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return apperror.Wrap(apperror.KindInternal, err, "persist audit entry")
	}
	s.logger.Debug().
		Str("action", rec.Action).
		Str("target_model", rec.TargetModel).
		Str("target_id", rec.TargetID.String()).
		Msg("audit entry recorded")
	return nil
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	items, total, err := s.repo.Search(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperror.Wrap(apperror.KindInternal, err, "search audit log")
	}
	return items, total, nil
}
