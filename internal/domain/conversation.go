package domain

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no persisted rows match a
// (session, owner) pair. Wrong-owner access is reported the same way.
var ErrSessionNotFound = errors.New("session not found")

// HistoryEntry is one persisted turn pair of a coaching session.
type HistoryEntry struct {
	ID             string
	SessionID      string
	OwnerID        string
	GoalID         string
	GoalLabel      string
	UserInput      string // empty for the opening turn
	AssistantReply string
	Timestamp      time.Time
	Starred        bool
	ModelName      string
	Usage          TokenUsage
	Fallback       bool
}

// HistoryItem is the listing view of a session: its most recent entry.
type HistoryItem struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"sessionId"`
	GoalID              string    `json:"goalId"`
	GoalLabel           string    `json:"goalLabel"`
	UserInput           string    `json:"userInput,omitempty"`
	AssistantReply      string    `json:"assistantReply"`
	NormalizedUserInput string    `json:"normalizedUserInput,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
	Starred             bool      `json:"starred"`
}

// ConversationMessage is one replayed message of a persisted conversation.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the full transcript of a session as persisted.
type Conversation struct {
	SessionID string                `json:"sessionId"`
	GoalID    string                `json:"goalId"`
	GoalLabel string                `json:"goalLabel"`
	Messages  []ConversationMessage `json:"messages"`
}
