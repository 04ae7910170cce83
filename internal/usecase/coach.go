package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finance-coach/internal/coaching"
	"finance-coach/internal/domain"
)

const (
	defaultMaxMessageLen = 2000
	maxLabelLen          = 120
)

type HistoryStore interface {
	TranscriptReader
	EntryAppender
	ListRecentSessions(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error)
	SetStarred(ctx context.Context, sessionID, ownerID string, starred bool) error
	Rename(ctx context.Context, sessionID, ownerID, newLabel string) error
	Delete(ctx context.Context, sessionID, ownerID string) error
}

// CoachService exposes the session and history operations to transports.
type CoachService struct {
	registry     *Registry
	orchestrator *Orchestrator
	store        HistoryStore
	bank         *coaching.QuestionBank
	logger       *zap.Logger
	maxMessage   int
}

type StartInput struct {
	GoalID    string
	GoalLabel string
	OwnerID   string
}

type StartOutput struct {
	SessionID          string
	GoalID             string
	GoalLabel          string
	Reply              string
	Notice             string
	QuickReplies       []string
	Fallback           bool
	PersistenceWarning string
}

type MessageInput struct {
	SessionID string
	OwnerID   string
	Text      string
}

type MessageOutput struct {
	Reply              string
	Notice             string
	QuickReplies       []string
	Fallback           bool
	PlanDelivered      bool
	PersistenceWarning string
}

func NewCoachService(r *Registry, o *Orchestrator, store HistoryStore, bank *coaching.QuestionBank, maxMessageLen int, logger *zap.Logger) (*CoachService, error) {
	if r == nil {
		return nil, errors.New("usecase: registry must not be nil")
	}
	if o == nil {
		return nil, errors.New("usecase: orchestrator must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if bank == nil {
		return nil, errors.New("usecase: question bank must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoachService{
		registry:     r,
		orchestrator: o,
		store:        store,
		bank:         bank,
		logger:       logger,
		maxMessage:   maxMessageLen,
	}, nil
}

func (c *CoachService) StartSession(ctx context.Context, in StartInput) (StartOutput, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "missing_owner", nil)
	}
	goalID, label := c.canonicalGoal(in.GoalID, in.GoalLabel)
	if goalID == "" {
		return StartOutput{}, newError(ErrorInvalidInput, "missing_goal", nil)
	}
	if utf8.RuneCountInString(label) > maxLabelLen {
		return StartOutput{}, newError(ErrorInvalidInput, "goal_label_too_long", nil)
	}

	s := c.registry.Create(goalID, label, owner)
	res := c.orchestrator.Open(ctx, s)
	c.logger.Info("session started",
		zap.String("session_id", s.ID()),
		zap.String("goal_id", string(goalID)),
		zap.Bool("fallback", res.Fallback),
	)
	return StartOutput{
		SessionID:          s.ID(),
		GoalID:             string(goalID),
		GoalLabel:          label,
		Reply:              res.Reply,
		Notice:             res.Notice,
		QuickReplies:       res.QuickReplies,
		Fallback:           res.Fallback,
		PersistenceWarning: res.PersistenceWarning,
	}, nil
}

func (c *CoachService) SendMessage(ctx context.Context, in MessageInput) (MessageOutput, error) {
	owner, sessionID, err := requireScope(in.OwnerID, in.SessionID)
	if err != nil {
		return MessageOutput{}, err
	}
	if utf8.RuneCountInString(in.Text) > c.maxMessage {
		return MessageOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	s, err := c.registry.Resolve(ctx, sessionID, owner)
	if err != nil {
		return MessageOutput{}, err
	}
	res := c.orchestrator.Step(ctx, s, in.Text)
	return MessageOutput{
		Reply:              res.Reply,
		Notice:             res.Notice,
		QuickReplies:       res.QuickReplies,
		Fallback:           res.Fallback,
		PlanDelivered:      res.PlanDelivered,
		PersistenceWarning: res.PersistenceWarning,
	}, nil
}

func (c *CoachService) ListHistory(ctx context.Context, ownerID string, limit int) ([]domain.HistoryItem, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return nil, newError(ErrorInvalidInput, "missing_owner", nil)
	}
	entries, err := c.store.ListRecentSessions(ctx, owner, limit)
	if err != nil {
		return nil, storeError("history_list_error", err)
	}
	items := make([]domain.HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, domain.HistoryItem{
			ID:                  e.ID,
			SessionID:           e.SessionID,
			GoalID:              e.GoalID,
			GoalLabel:           e.GoalLabel,
			UserInput:           e.UserInput,
			AssistantReply:      e.AssistantReply,
			NormalizedUserInput: coaching.NormalizeAmountLabel(e.UserInput),
			Timestamp:           e.Timestamp,
			Starred:             e.Starred,
		})
	}
	return items, nil
}

// GetConversation replays the persisted transcript and primes the live
// session so a follow-up message does not reload it.
func (c *CoachService) GetConversation(ctx context.Context, sessionID, ownerID string) (domain.Conversation, error) {
	owner, id, err := requireScope(ownerID, sessionID)
	if err != nil {
		return domain.Conversation{}, err
	}
	entries, err := c.store.EntriesForSession(ctx, id, owner)
	if err != nil {
		return domain.Conversation{}, storeError("history_read_error", err)
	}
	if len(entries) == 0 {
		return domain.Conversation{}, newError(ErrorSessionNotFound, "empty_transcript", nil)
	}
	if _, err := c.registry.Prime(id, owner, entries); err != nil {
		return domain.Conversation{}, err
	}

	first := entries[0]
	conv := domain.Conversation{
		SessionID: id,
		GoalID:    first.GoalID,
		GoalLabel: first.GoalLabel,
		Messages:  make([]domain.ConversationMessage, 0, len(entries)*2),
	}
	for _, e := range entries {
		if strings.TrimSpace(e.UserInput) != "" {
			conv.Messages = append(conv.Messages, domain.ConversationMessage{Role: domain.RoleUser, Text: e.UserInput, Timestamp: e.Timestamp})
		}
		if strings.TrimSpace(e.AssistantReply) != "" {
			conv.Messages = append(conv.Messages, domain.ConversationMessage{Role: domain.RoleAssistant, Text: e.AssistantReply, Timestamp: e.Timestamp})
		}
	}
	return conv, nil
}

func (c *CoachService) StarSession(ctx context.Context, sessionID, ownerID string, starred bool) error {
	owner, id, err := requireScope(ownerID, sessionID)
	if err != nil {
		return err
	}
	if err := c.store.SetStarred(ctx, id, owner, starred); err != nil {
		return storeError("history_star_error", err)
	}
	return nil
}

// RenameSession stores the normalized label and returns it.
func (c *CoachService) RenameSession(ctx context.Context, sessionID, ownerID, newLabel string) (string, error) {
	owner, id, err := requireScope(ownerID, sessionID)
	if err != nil {
		return "", err
	}
	label := normalizePromptInput(newLabel)
	if label == "" {
		return "", newError(ErrorInvalidInput, "missing_label", nil)
	}
	if utf8.RuneCountInString(label) > maxLabelLen {
		return "", newError(ErrorInvalidInput, "goal_label_too_long", nil)
	}
	if err := c.store.Rename(ctx, id, owner, label); err != nil {
		return "", storeError("history_rename_error", err)
	}
	c.registry.Invalidate(id)
	return label, nil
}

func (c *CoachService) DeleteSession(ctx context.Context, sessionID, ownerID string) error {
	owner, id, err := requireScope(ownerID, sessionID)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, id, owner); err != nil {
		return storeError("history_delete_error", err)
	}
	c.registry.Invalidate(id)
	c.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// canonicalGoal keeps a known goal id and otherwise classifies the label. A
// missing label is replaced by the category's default one.
func (c *CoachService) canonicalGoal(rawID, rawLabel string) (coaching.GoalID, string) {
	id := coaching.GoalID(strings.TrimSpace(rawID))
	label := normalizePromptInput(rawLabel)
	if id == "" && label == "" {
		return "", ""
	}
	if !c.bank.Known(id) {
		id = coaching.ClassifyGoal(label)
	}
	if label == "" {
		label = c.bank.Label(id)
	}
	return id, label
}

func requireScope(ownerID, sessionID string) (string, string, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return "", "", newError(ErrorInvalidInput, "missing_owner", nil)
	}
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return "", "", newError(ErrorInvalidInput, "missing_session_id", nil)
	}
	return owner, id, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
