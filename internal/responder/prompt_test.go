package responder

import (
	"strings"
	"testing"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

func TestTranscriptLabel(t *testing.T) {
	t.Parallel()

	if got := TranscriptLabel(model.RoleUser); got != "User" {
		t.Fatalf("TranscriptLabel(user) = %q, want User", got)
	}
	if got := TranscriptLabel(model.RoleCounselor); got != "Counselor" {
		t.Fatalf("TranscriptLabel(counselor) = %q, want Counselor", got)
	}
	// The assistant speaks on the counselor side of the transcript.
	if got := TranscriptLabel(model.RoleAssistant); got != "Counselor" {
		t.Fatalf("TranscriptLabel(assistant) = %q, want Counselor", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	history := []model.Message{
		{AuthorRole: model.RoleUser, Body: "Hi"},
		{AuthorRole: model.RoleCounselor, Body: "Hello, how can I help?"},
	}
	prompt := BuildPrompt(history, "I feel anxious.", model.RoleUser)

	if !strings.HasPrefix(prompt, preamble) {
		t.Fatal("prompt does not start with the persona preamble")
	}
	if !strings.Contains(prompt, "User: Hi\nCounselor: Hello, how can I help?\n") {
		t.Fatalf("prompt transcript malformed:\n%s", prompt)
	}
	if !strings.HasSuffix(prompt, "User: I feel anxious.\nCounselor:") {
		t.Fatalf("prompt does not end with the counselor cue:\n%s", prompt)
	}
}

func TestBuildPromptParityFallback(t *testing.T) {
	t.Parallel()

	// Untagged legacy messages alternate starting with the user.
	history := []model.Message{
		{Body: "first"},
		{Body: "second"},
		{Body: "third"},
	}
	prompt := BuildPrompt(history, "next", model.RoleUser)

	if !strings.Contains(prompt, "User: first\nCounselor: second\nUser: third\n") {
		t.Fatalf("parity fallback transcript malformed:\n%s", prompt)
	}
}

func TestBuildPromptEmptyHistory(t *testing.T) {
	t.Parallel()

	prompt := BuildPrompt(nil, "Hello", model.RoleUser)
	if !strings.HasSuffix(prompt, "User: Hello\nCounselor:") {
		t.Fatalf("prompt = %q", prompt)
	}
}

func TestBuildPromptCounselorUtterance(t *testing.T) {
	t.Parallel()

	// A counselor alone in the room submits; the utterance carries the
	// counselor label, not a hardcoded user one.
	history := []model.Message{
		{AuthorRole: model.RoleUser, Body: "Hi"},
	}
	prompt := BuildPrompt(history, "Let me check in on you.", model.RoleCounselor)
	if !strings.HasSuffix(prompt, "Counselor: Let me check in on you.\nCounselor:") {
		t.Fatalf("prompt does not label the counselor utterance:\n%s", prompt)
	}
}
