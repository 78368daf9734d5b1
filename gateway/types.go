package gateway

import "assistgen/completion"

// MessageIn is one message of a request body.
type MessageIn struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// ChatRequest is the body of /chat, /reason and /search.
type ChatRequest struct {
	Messages []MessageIn `json:"messages" binding:"required,min=1,dive"`
}

func (r ChatRequest) Conversation() completion.Conversation {
	conv := make(completion.Conversation, 0, len(r.Messages))
	for _, m := range r.Messages {
		conv = append(conv, completion.Message{Role: completion.Role(m.Role), Content: m.Content})
	}
	return conv
}

type errorResponse struct {
	Detail string `json:"detail"`
}
