package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"finance-coach/internal/coaching"
	"finance-coach/internal/domain"
)

const (
	defaultSessionTTL      = time.Hour
	defaultCleanupInterval = 10 * time.Minute
)

type TranscriptReader interface {
	EntriesForSession(ctx context.Context, sessionID, ownerID string) ([]domain.HistoryEntry, error)
}

// Registry caches live sessions and rebuilds them from the persisted
// transcript on a miss.
type Registry struct {
	store  TranscriptReader
	bank   *coaching.QuestionBank
	logger *zap.Logger
	cache  *cache.Cache
	group  singleflight.Group
}

func NewRegistry(store TranscriptReader, bank *coaching.QuestionBank, ttl time.Duration, logger *zap.Logger) (*Registry, error) {
	if store == nil {
		return nil, errors.New("usecase: transcript reader must not be nil")
	}
	if bank == nil {
		return nil, errors.New("usecase: question bank must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		bank:   bank,
		logger: logger,
		cache:  cache.New(ttl, defaultCleanupInterval),
	}, nil
}

// Create allocates a fresh session holding only its system turn.
func (r *Registry) Create(goalID coaching.GoalID, goalLabel, ownerID string) *Session {
	s := newSession(newUUID(), goalID, goalLabel, ownerID, r.systemPrompt(goalID, goalLabel))
	r.cache.Set(s.ID(), s, cache.DefaultExpiration)
	return s
}

// Resolve returns the live session for sessionID, rehydrating it when it is
// not cached. A session owned by someone else is reported as not found.
func (r *Registry) Resolve(ctx context.Context, sessionID, ownerID string) (*Session, error) {
	if s, ok := r.lookup(sessionID); ok {
		if s.OwnerID() != ownerID {
			return nil, newError(ErrorSessionNotFound, "owner_mismatch", nil)
		}
		return s, nil
	}

	v, err, _ := r.group.Do(sessionID+"|"+ownerID, func() (interface{}, error) {
		if s, ok := r.lookup(sessionID); ok {
			return s, nil
		}
		entries, err := r.store.EntriesForSession(ctx, sessionID, ownerID)
		if err != nil {
			return nil, storeError("history_read_error", err)
		}
		return r.rehydrate(sessionID, entries)
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	if s.OwnerID() != ownerID {
		return nil, newError(ErrorSessionNotFound, "owner_mismatch", nil)
	}
	return s, nil
}

// Prime installs a session rebuilt from entries the caller already loaded,
// unless one is live. The owner check of Resolve applies.
func (r *Registry) Prime(sessionID, ownerID string, entries []domain.HistoryEntry) (*Session, error) {
	if s, ok := r.lookup(sessionID); ok {
		if s.OwnerID() != ownerID {
			return nil, newError(ErrorSessionNotFound, "owner_mismatch", nil)
		}
		return s, nil
	}
	s, err := r.rehydrate(sessionID, entries)
	if err != nil {
		return nil, err
	}
	if s.OwnerID() != ownerID {
		return nil, newError(ErrorSessionNotFound, "owner_mismatch", nil)
	}
	return s, nil
}

// Invalidate drops the live copy of a session; the next access rebuilds it.
func (r *Registry) Invalidate(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *Registry) lookup(sessionID string) (*Session, bool) {
	v, ok := r.cache.Get(sessionID)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	// sliding expiry
	r.cache.Set(sessionID, s, cache.DefaultExpiration)
	return s, true
}

func (r *Registry) rehydrate(sessionID string, entries []domain.HistoryEntry) (*Session, error) {
	if len(entries) == 0 {
		return nil, newError(ErrorSessionNotFound, "empty_transcript", nil)
	}
	first := entries[0]
	goalID := coaching.GoalID(first.GoalID)
	s := newSession(sessionID, goalID, first.GoalLabel, first.OwnerID, r.systemPrompt(goalID, first.GoalLabel))
	for _, e := range entries {
		if strings.TrimSpace(e.UserInput) != "" {
			s.appendTurn(domain.RoleUser, e.UserInput)
		}
		if strings.TrimSpace(e.AssistantReply) != "" {
			s.appendTurn(domain.RoleAssistant, e.AssistantReply)
		}
	}
	// A session installed while the transcript was loading is kept.
	if err := r.cache.Add(sessionID, s, cache.DefaultExpiration); err != nil {
		if live, ok := r.lookup(sessionID); ok {
			return live, nil
		}
		r.cache.Set(sessionID, s, cache.DefaultExpiration)
	}
	r.logger.Debug("session rehydrated",
		zap.String("session_id", sessionID),
		zap.Int("entries", len(entries)),
		zap.Int("turns", len(s.turns)),
	)
	return s, nil
}

func (r *Registry) systemPrompt(goalID coaching.GoalID, goalLabel string) string {
	return buildSystemPrompt(goalLabel, r.bank.QuestionsFor(goalID))
}
