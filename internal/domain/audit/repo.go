package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter narrows an audit search.
type Filter struct {
	ActorID     *uuid.UUID
	Action      string
	TargetModel string
	PatientID   *uuid.UUID
	From        *time.Time
	To          *time.Time
}

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}
