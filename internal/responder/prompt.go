package responder

import (
	"strings"

	"github.com/calmline-ai/counsel-chat/internal/model"
)

// preamble sets the assistant persona: a supportive counseling assistant
// that keeps replies short.
const preamble = `You are a professional counseling assistant.
Send ONLY short replies. Be supportive, offer practical advice,
and help the user make sense of their feelings.`

// TranscriptLabel maps an author role onto the transcript label the model
// is prompted with. The assistant speaks on the counselor side.
func TranscriptLabel(role model.AuthorRole) string {
	if role == model.RoleUser {
		return "User"
	}
	return "Counselor"
}

// BuildPrompt assembles the gateway prompt: persona preamble, the full
// conversation transcript, the new utterance labeled by its author's role,
// and a trailing counselor cue. Messages stored without a role tag fall
// back to position parity (even index user, odd counselor).
func BuildPrompt(history []model.Message, utterance string, role model.AuthorRole) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n\n")

	for i, msg := range history {
		role := msg.AuthorRole
		if role == "" {
			role = model.RoleUser
			if i%2 == 1 {
				role = model.RoleCounselor
			}
		}
		b.WriteString(TranscriptLabel(role))
		b.WriteString(": ")
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}

	b.WriteString(TranscriptLabel(role))
	b.WriteString(": ")
	b.WriteString(utterance)
	b.WriteString("\nCounselor:")
	return b.String()
}
