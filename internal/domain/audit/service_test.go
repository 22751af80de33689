package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/apperror"
	"github.com/carelink/carelink/internal/platform/auth"
)

type mockRepo struct {
	entries []*Entry
}

func (m *mockRepo) Create(_ context.Context, e *Entry) error {
	e.ID = uuid.New()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRepo) Search(_ context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	var matched []*Entry
	for _, e := range m.entries {
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.ActorID != nil && e.ActorID != *f.ActorID {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func actorCtx(role auth.Role) context.Context {
	return auth.WithActor(context.Background(), auth.Actor{
		UserID: uuid.New(),
		Role:   role,
		Name:   "Test Actor",
	})
}

func TestLog_SerializesExtraDataAsString(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Log(actorCtx(auth.RoleCoordinator), Record{
		Action:      ActionCreateSchedule,
		TargetModel: "Schedule",
		TargetID:    uuid.New(),
		Extra:       map[string]interface{}{"date": "2026-03-14", "slots": 2},
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(repo.entries[0].ExtraData), &decoded); err != nil {
		t.Fatalf("extra_data is not a valid JSON string: %v", err)
	}
	if decoded["date"] != "2026-03-14" {
		t.Errorf("expected date in extra data, got %v", decoded["date"])
	}
}

func TestLog_EmptyExtraDefaultsToEmptyObject(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Log(actorCtx(auth.RoleCoordinator), Record{
		Action:      ActionGenerateInvoice,
		TargetModel: "Invoice",
		TargetID:    uuid.New(),
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if repo.entries[0].ExtraData != "{}" {
		t.Errorf("expected {} for empty extra, got %q", repo.entries[0].ExtraData)
	}
}

func TestLog_RequiresActor(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	err := svc.Log(context.Background(), Record{
		Action:      ActionCreateSchedule,
		TargetModel: "Schedule",
		TargetID:    uuid.New(),
	})
	if err == nil {
		t.Fatal("expected error for missing actor")
	}
	if apperror.KindOf(err) != apperror.KindInternal {
		t.Errorf("expected internal kind, got %s", apperror.KindOf(err))
	}
}

func TestSearch_FiltersByAction(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	ctx := actorCtx(auth.RoleCoordinator)

	for _, action := range []string{ActionCreateSchedule, ActionGenerateInvoice, ActionCreateSchedule} {
		if err := svc.Log(ctx, Record{Action: action, TargetModel: "Schedule", TargetID: uuid.New()}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	items, total, err := svc.Search(ctx, Filter{Action: ActionCreateSchedule}, 10, 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Errorf("expected 2 schedule entries, got total=%d len=%d", total, len(items))
	}
}
