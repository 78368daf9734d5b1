package completion

import "strings"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered message list of a single request. It is not
// modified after it has been handed to a Service.
type Conversation []Message

// LastUserContent returns the content of the last user message, or "" if the
// conversation has none.
func (c Conversation) LastUserContent() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser {
			return c[i].Content
		}
	}
	return ""
}

// Prompt joins every message content into one text, used as embedding input.
func (c Conversation) Prompt() string {
	var b strings.Builder
	for i, m := range c {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// ChunkKind tags what a CompletionChunk carries.
type ChunkKind int

const (
	ChunkContent ChunkKind = iota
	ChunkError
	ChunkDone
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkContent:
		return "content"
	case ChunkError:
		return "error"
	case ChunkDone:
		return "done"
	}
	return "unknown"
}

// CompletionChunk is one unit of a response stream. Only the field matching
// Kind is meaningful: Content for ChunkContent, Error for ChunkError.
// Final marks the last chunk a producer will send.
type CompletionChunk struct {
	Kind       ChunkKind
	Content    string
	Error      error
	Final      bool
	TokenUsage int
}

func ContentChunk(content string) *CompletionChunk {
	return &CompletionChunk{Kind: ChunkContent, Content: content}
}

func ErrorChunk(err error) *CompletionChunk {
	return &CompletionChunk{Kind: ChunkError, Error: err, Final: true}
}

func DoneChunk(tokenUsage int) *CompletionChunk {
	return &CompletionChunk{Kind: ChunkDone, Final: true, TokenUsage: tokenUsage}
}

// Tool describes a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a structured function call returned by a provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolResponse is the batch result of a tool-enabled completion.
type ToolResponse struct {
	Content   string
	ToolCalls []ToolCall
}
