package session

import (
	"testing"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

func TestPositionForOppositeViewers(t *testing.T) {
	t.Parallel()

	messages := []model.Message{
		{AuthorRole: model.RoleUser, Body: "Hi"},
		{AuthorRole: model.RoleCounselor, Body: "Hello, how can I help?"},
		{AuthorRole: model.RoleUser, Body: "Tell me more"},
		{AuthorRole: model.RoleAssistant, Body: "Of course."},
	}

	for i, msg := range messages {
		asUser := positionFor(model.RoleUser, msg, i)
		asCounselor := positionFor(model.RoleCounselor, msg, i)
		if asUser == asCounselor {
			t.Fatalf("message %d: both viewers computed %q, want opposites", i, asUser)
		}
	}
}

func TestPartyForParityFallback(t *testing.T) {
	t.Parallel()

	// Legacy records carry no role tag; the alternation starts with the user.
	untagged := model.Message{Body: "hello"}

	if got := partyFor(untagged, 0); got != model.RoleUser {
		t.Fatalf("partyFor(untagged, 0) = %q, want %q", got, model.RoleUser)
	}
	if got := partyFor(untagged, 1); got != model.RoleCounselor {
		t.Fatalf("partyFor(untagged, 1) = %q, want %q", got, model.RoleCounselor)
	}
	if got := partyFor(untagged, 2); got != model.RoleUser {
		t.Fatalf("partyFor(untagged, 2) = %q, want %q", got, model.RoleUser)
	}
}

func TestPartyForExplicitRoleBeatsParity(t *testing.T) {
	t.Parallel()

	// Two user messages in a row: parity would call the second one
	// counselor-side, the explicit tag keeps it on the user side.
	msg := model.Message{AuthorRole: model.RoleUser, Body: "still me"}
	if got := partyFor(msg, 1); got != model.RoleUser {
		t.Fatalf("partyFor = %q, want %q", got, model.RoleUser)
	}
}

func TestProjectMessagesCounselorView(t *testing.T) {
	t.Parallel()

	viewer := model.Identity{ID: "c1", DisplayName: "Dana", Role: model.RoleCounselor}
	messages := []model.Message{
		{AuthorRole: model.RoleUser, AuthorLabel: "Sam", Body: "Hi"},
		{AuthorRole: model.RoleCounselor, AuthorLabel: "Dana", Body: "Hello, how can I help?"},
	}

	view := projectMessages(viewer, messages)
	if len(view) != 2 {
		t.Fatalf("got %d view messages, want 2", len(view))
	}
	if view[0].Position != model.PositionOther {
		t.Fatalf("view[0].Position = %q, want %q", view[0].Position, model.PositionOther)
	}
	if view[1].Position != model.PositionSelf {
		t.Fatalf("view[1].Position = %q, want %q", view[1].Position, model.PositionSelf)
	}
}
