package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"finance-coach/internal/coaching"
	"finance-coach/internal/domain"
)

const DefaultPlaceholder = "Racontez-moi vos priorités financières afin que je vous aide à faire le prochain pas."

type ModelGateway interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error)
}

type EntryAppender interface {
	Append(ctx context.Context, entry domain.HistoryEntry) error
}

type reasoner interface {
	ErrorReason() string
}

// StepResult is what one dialogue turn produced.
type StepResult struct {
	Reply              string
	Notice             string
	QuickReplies       []string
	Fallback           bool
	PlanDelivered      bool
	Model              string
	Usage              domain.TokenUsage
	PersistenceWarning string
}

// Orchestrator runs a single dialogue turn: one model attempt, the scripted
// fallback on any failure, and one persisted history row.
type Orchestrator struct {
	gateway     ModelGateway
	store       EntryAppender
	bank        *coaching.QuestionBank
	builder     *coaching.MessageBuilder
	placeholder string
	logger      *zap.Logger
	now         func() time.Time
}

func NewOrchestrator(gateway ModelGateway, store EntryAppender, bank *coaching.QuestionBank, builder *coaching.MessageBuilder, placeholder string, logger *zap.Logger) (*Orchestrator, error) {
	if gateway == nil {
		return nil, errors.New("usecase: model gateway must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: entry appender must not be nil")
	}
	if bank == nil {
		return nil, errors.New("usecase: question bank must not be nil")
	}
	if builder == nil {
		return nil, errors.New("usecase: message builder must not be nil")
	}
	placeholder = strings.TrimSpace(placeholder)
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gateway:     gateway,
		store:       store,
		bank:        bank,
		builder:     builder,
		placeholder: placeholder,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Step answers userText within the session. A blank userText is sent to the
// model as the placeholder prompt.
func (o *Orchestrator) Step(ctx context.Context, s *Session, userText string) StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.TrimSpace(userText)
	s.fallback.RecordAnswer(trimmed)

	turn := trimmed
	if turn == "" {
		turn = o.placeholder
	}
	return o.run(ctx, s, turn, trimmed)
}

// Open produces the greeting turn of a freshly created session.
func (o *Orchestrator) Open(ctx context.Context, s *Session) StepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return o.run(ctx, s, buildKickoffMessage(s.goalLabel), "")
}

func (o *Orchestrator) run(ctx context.Context, s *Session, userTurn, persistedInput string) StepResult {
	s.appendTurn(domain.RoleUser, userTurn)

	res, ok := o.live(ctx, s)
	if !ok {
		res = o.fallback(s)
	}
	s.appendTurn(domain.RoleAssistant, res.Reply)

	entry := domain.HistoryEntry{
		ID:             newUUID(),
		SessionID:      s.id,
		OwnerID:        s.ownerID,
		GoalID:         string(s.goalID),
		GoalLabel:      s.goalLabel,
		UserInput:      persistedInput,
		AssistantReply: res.Reply,
		Timestamp:      o.now().UTC(),
		ModelName:      res.Model,
		Usage:          res.Usage,
		Fallback:       res.Fallback,
	}
	if err := o.store.Append(ctx, entry); err != nil {
		o.logger.Error("history append failed",
			zap.String("session_id", s.id),
			zap.Error(err),
		)
		res.PersistenceWarning = WarningPersistenceFailed
	}
	return res
}

func (o *Orchestrator) live(ctx context.Context, s *Session) (StepResult, bool) {
	messages := append([]domain.ChatMessage(nil), s.turns...)
	completion, err := o.gateway.Complete(ctx, messages)
	if err != nil {
		o.logModelFailure(s.id, err)
		return StepResult{}, false
	}
	reply := strings.TrimSpace(completion.Content)
	if reply == "" {
		o.logger.Warn("model reply unusable",
			zap.String("session_id", s.id),
			zap.String("reason", "blank_content"),
		)
		return StepResult{}, false
	}
	return StepResult{
		Reply: reply,
		Model: completion.Model,
		Usage: completion.Usage,
	}, true
}

func (o *Orchestrator) fallback(s *Session) StepResult {
	r := s.fallback.Respond(s.goalLabel, o.bank.QuestionsFor(s.goalID), o.builder)
	return StepResult{
		Reply:         r.Text,
		Notice:        r.Notice,
		QuickReplies:  r.QuickReplies,
		Fallback:      true,
		PlanDelivered: r.PlanDelivered,
	}
}

func (o *Orchestrator) logModelFailure(sessionID string, err error) {
	if errors.Is(err, domain.ErrModelUnavailable) {
		o.logger.Debug("model unavailable, using scripted reply", zap.String("session_id", sessionID))
		return
	}
	reason := "unknown"
	var r reasoner
	if errors.As(err, &r) {
		reason = r.ErrorReason()
	}
	o.logger.Warn("model call failed, using scripted reply",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Error(err),
	)
}
