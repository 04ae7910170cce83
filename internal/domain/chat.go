package domain

import "errors"

// Chat roles understood by the model gateway and stored in session turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by sessions
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage reports the token accounting returned by the model provider.
// Fallback turns carry the zero value.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Completion is a successful model reply.
type Completion struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// ErrModelUnavailable reports that the model is disabled or has no
// credential configured. Callers fall back silently.
var ErrModelUnavailable = errors.New("model unavailable")
