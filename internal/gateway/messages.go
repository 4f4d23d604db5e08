package gateway

import (
	"strings"

	"github.com/ashureev/feedback-ai/internal/domain"
)

// leadingPlaceholder opens a conversation whose retained history starts
// with an assistant turn.
const leadingPlaceholder = "Continue the conversation below."

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// normalizeMessages maps turns to the alternating user/assistant sequence
// the provider requires. Consecutive same-role turns are merged and a
// placeholder user turn is prepended when history starts with the assistant.
func normalizeMessages(turns []domain.Turn) []wireMessage {
	out := make([]wireMessage, 0, len(turns)+1)
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "assistant"
		}
		if len(out) == 0 && role == "assistant" {
			out = append(out, wireMessage{Role: "user", Content: leadingPlaceholder})
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + t.Content
			continue
		}
		out = append(out, wireMessage{Role: role, Content: t.Content})
	}
	return out
}
