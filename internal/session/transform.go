package session

import (
	"github.com/calmline-ai/counsel-chat/internal/model"
)

// partyFor returns the conversation side a message belongs to. Assistant
// messages speak on the counselor side. Messages stored without a role tag
// fall back to the legacy alternation: even index user, odd counselor.
func partyFor(msg model.Message, index int) model.AuthorRole {
	switch msg.AuthorRole {
	case model.RoleUser:
		return model.RoleUser
	case model.RoleCounselor, model.RoleAssistant:
		return model.RoleCounselor
	}
	if index%2 == 0 {
		return model.RoleUser
	}
	return model.RoleCounselor
}

// positionFor computes the viewer-relative side of one message. The result
// is never stored: the same message renders SELF for its author and OTHER
// for the counterpart, so it is recomputed on every projection.
func positionFor(viewer model.AuthorRole, msg model.Message, index int) model.RolePosition {
	if partyFor(msg, index) == viewer {
		return model.PositionSelf
	}
	return model.PositionOther
}

// projectMessages renders the working list for one viewer.
func projectMessages(viewer model.Identity, messages []model.Message) []model.ViewMessage {
	view := make([]model.ViewMessage, len(messages))
	for i, msg := range messages {
		view[i] = model.ViewMessage{
			Position: positionFor(viewer.Role, msg, i),
			Title:    msg.AuthorLabel,
			Text:     msg.Body,
		}
	}
	return view
}
