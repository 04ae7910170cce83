package usecase

import (
	"sync"

	"finance-coach/internal/coaching"
	"finance-coach/internal/domain"
)

// Session is the live state of one coaching dialogue. The first turn is
// always the synthesized system prompt. All mutation happens under mu, which
// the orchestrator holds for a whole step.
type Session struct {
	mu sync.Mutex

	id        string
	goalID    coaching.GoalID
	goalLabel string
	ownerID   string
	turns     []domain.ChatMessage
	fallback  coaching.FallbackState
}

func newSession(id string, goalID coaching.GoalID, goalLabel, ownerID, systemPrompt string) *Session {
	return &Session{
		id:        id,
		goalID:    goalID,
		goalLabel: goalLabel,
		ownerID:   ownerID,
		turns:     []domain.ChatMessage{{Role: domain.RoleSystem, Content: systemPrompt}},
	}
}

func (s *Session) ID() string              { return s.id }
func (s *Session) GoalID() coaching.GoalID { return s.goalID }
func (s *Session) GoalLabel() string       { return s.goalLabel }
func (s *Session) OwnerID() string         { return s.ownerID }

// Turns returns a copy of the ordered turns.
func (s *Session) Turns() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.turns...)
}

// Fallback returns a snapshot of the scripted dialogue progress.
func (s *Session) Fallback() coaching.FallbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

func (s *Session) appendTurn(role, content string) {
	s.turns = append(s.turns, domain.ChatMessage{Role: role, Content: content})
}
