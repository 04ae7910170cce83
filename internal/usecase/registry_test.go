package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finance-coach/internal/coaching"
	"finance-coach/internal/domain"
)

func TestNewRegistry_ValidatesDependencies(t *testing.T) {
	_, err := NewRegistry(nil, coaching.DefaultQuestionBank(), 0, nil)
	require.Error(t, err)
	_, err = NewRegistry(&memStore{}, nil, 0, nil)
	require.Error(t, err)
}

func TestCreate_StartsWithSingleSystemTurn(t *testing.T) {
	f := newFixture(t, disabledGateway())
	s := f.reg.Create(coaching.GoalMonthlyBudget, "Budget mensuel", "owner-1")

	require.NotEmpty(t, s.ID())
	turns := s.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, domain.RoleSystem, turns[0].Role)
	require.Contains(t, turns[0].Content, "Budget mensuel")

	other := f.reg.Create(coaching.GoalMonthlyBudget, "Budget mensuel", "owner-1")
	require.NotEqual(t, s.ID(), other.ID())
}

func TestResolve_UnknownSession(t *testing.T) {
	f := newFixture(t, disabledGateway())
	_, err := f.reg.Resolve(context.Background(), "missing", "owner-1")
	expectCoachError(t, err, ErrorSessionNotFound, "empty_transcript")
}

func TestResolve_WrongOwner(t *testing.T) {
	f := newFixture(t, disabledGateway())
	s := f.reg.Create(coaching.GoalOther, "Autre", "owner-1")

	_, err := f.reg.Resolve(context.Background(), s.ID(), "owner-2")
	expectCoachError(t, err, ErrorSessionNotFound, "owner_mismatch")

	got, err := f.reg.Resolve(context.Background(), s.ID(), "owner-1")
	require.NoError(t, err)
	require.Same(t, s, got)
}

func TestResolve_WrongOwnerAfterEviction(t *testing.T) {
	f := newFixture(t, disabledGateway())
	s := f.reg.Create(coaching.GoalOther, "Autre", "owner-1")
	f.orch.Step(context.Background(), s, "hello")
	f.reg.Invalidate(s.ID())

	_, err := f.reg.Resolve(context.Background(), s.ID(), "owner-2")
	expectCoachError(t, err, ErrorSessionNotFound, "")
}

func TestResolve_StoreError(t *testing.T) {
	f := newFixture(t, disabledGateway())
	f.store.readErr = errBoom
	_, err := f.reg.Resolve(context.Background(), "abc", "owner-1")
	expectCoachError(t, err, ErrorInternal, "history_read_error")
	require.ErrorIs(t, err, errBoom)
}

func TestResolve_RehydratesFromTranscript(t *testing.T) {
	f := newFixture(t, disabledGateway())
	now := time.Now().UTC()
	f.store.entries = []domain.HistoryEntry{
		{ID: "1", SessionID: "s1", OwnerID: "owner-1", GoalID: "emergency_fund", GoalLabel: "Fonds d'urgence", UserInput: "8000", AssistantReply: "Merci !", Timestamp: now},
	}

	s, err := f.reg.Resolve(context.Background(), "s1", "owner-1")
	require.NoError(t, err)
	require.Equal(t, coaching.GoalEmergencyFund, s.GoalID())
	require.Equal(t, "Fonds d'urgence", s.GoalLabel())

	turns := s.Turns()
	require.Len(t, turns, 3)
	require.Equal(t, []string{domain.RoleSystem, domain.RoleUser, domain.RoleAssistant},
		[]string{turns[0].Role, turns[1].Role, turns[2].Role})
	require.Equal(t, "8000", turns[1].Content)

	fb := s.Fallback()
	require.Zero(t, fb.NextIndex())
	require.Empty(t, fb.Answers())
	require.False(t, fb.NoticeShown())
	require.False(t, fb.PlanDelivered())

	again, err := f.reg.Resolve(context.Background(), "s1", "owner-1")
	require.NoError(t, err)
	require.Same(t, s, again)
	require.Equal(t, 1, f.store.reads)
}

func TestResolve_RehydrationSkipsBlankFields(t *testing.T) {
	f := newFixture(t, disabledGateway())
	now := time.Now().UTC()
	f.store.entries = []domain.HistoryEntry{
		{SessionID: "s1", OwnerID: "o", GoalID: "other_goal", GoalLabel: "Autre", AssistantReply: "Salut", Timestamp: now},
		{SessionID: "s1", OwnerID: "o", GoalID: "other_goal", GoalLabel: "Autre", UserInput: "  ", AssistantReply: "Encore", Timestamp: now.Add(time.Second)},
	}
	s, err := f.reg.Resolve(context.Background(), "s1", "o")
	require.NoError(t, err)
	require.Len(t, s.Turns(), 3)
}

// Progress through the script is not persisted: a rebuilt session starts the
// question list over and shows the offline notice again.
func TestResolve_RehydrationResetsScriptProgress(t *testing.T) {
	f := newFixture(t, disabledGateway())
	ctx := context.Background()
	questions := f.bank.QuestionsFor(coaching.GoalEmergencyFund)
	s := f.reg.Create(coaching.GoalEmergencyFund, "Fonds d'urgence", "owner-1")

	f.orch.Step(ctx, s, "")
	f.orch.Step(ctx, s, "8000")
	require.Equal(t, 2, s.Fallback().NextIndex())

	f.reg.Invalidate(s.ID())
	rebuilt, err := f.reg.Resolve(ctx, s.ID(), "owner-1")
	require.NoError(t, err)
	require.NotSame(t, s, rebuilt)
	require.Zero(t, rebuilt.Fallback().NextIndex())
	// the opening row has no user input
	require.Len(t, rebuilt.Turns(), 4)

	res := f.orch.Step(ctx, rebuilt, "7000")
	require.Equal(t, coaching.OfflineNotice, res.Notice)
	require.Contains(t, res.Reply, questions[0])
}

func TestResolve_ConcurrentMissesShareOneLoad(t *testing.T) {
	f := newFixture(t, disabledGateway())
	f.store.entries = []domain.HistoryEntry{
		{SessionID: "s1", OwnerID: "o", GoalID: "other_goal", GoalLabel: "Autre", AssistantReply: "Salut", Timestamp: time.Now()},
	}

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	errs := make([]error, len(sessions))
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = f.reg.Resolve(context.Background(), "s1", "o")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, s := range sessions[1:] {
		require.Same(t, sessions[0], s)
	}
}

func TestPrime_UsesLoadedEntries(t *testing.T) {
	f := newFixture(t, disabledGateway())
	entries := []domain.HistoryEntry{
		{SessionID: "s1", OwnerID: "o", GoalID: "spending_cut", GoalLabel: "Dépenses", UserInput: "hi", AssistantReply: "hello"},
	}
	s, err := f.reg.Prime("s1", "o", entries)
	require.NoError(t, err)
	require.Len(t, s.Turns(), 3)
	require.Zero(t, f.store.reads)

	got, err := f.reg.Resolve(context.Background(), "s1", "o")
	require.NoError(t, err)
	require.Same(t, s, got)

	_, err = f.reg.Prime("s1", "intruder", entries)
	expectCoachError(t, err, ErrorSessionNotFound, "owner_mismatch")
}

// gatedReader holds the first transcript load until release is closed.
type gatedReader struct {
	*memStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReader) EntriesForSession(ctx context.Context, sessionID, ownerID string) ([]domain.HistoryEntry, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.memStore.EntriesForSession(ctx, sessionID, ownerID)
}

func TestResolve_KeepsSessionPrimedDuringLoad(t *testing.T) {
	f := newFixture(t, disabledGateway())
	ctx := context.Background()
	questions := f.bank.QuestionsFor(coaching.GoalEmergencyFund)
	entries := []domain.HistoryEntry{
		{ID: "1", SessionID: "s1", OwnerID: "o", GoalID: "emergency_fund", GoalLabel: "Fonds d'urgence", AssistantReply: "Bonjour", Timestamp: time.Now().UTC()},
	}
	f.store.entries = append(f.store.entries, entries...)

	reader := &gatedReader{memStore: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	reg, err := NewRegistry(reader, f.bank, 0, nil)
	require.NoError(t, err)

	var resolved *Session
	var resolveErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		resolved, resolveErr = reg.Resolve(ctx, "s1", "o")
	}()
	<-reader.entered

	primed, err := reg.Prime("s1", "o", entries)
	require.NoError(t, err)
	f.orch.Step(ctx, primed, "")
	f.orch.Step(ctx, primed, "8000")
	require.Equal(t, 2, primed.Fallback().NextIndex())

	close(reader.release)
	<-done
	require.NoError(t, resolveErr)
	require.Same(t, primed, resolved)
	require.Equal(t, 2, resolved.Fallback().NextIndex())
	require.Len(t, resolved.Fallback().Answers(), 1)

	next := f.orch.Step(ctx, resolved, "stables")
	require.True(t, strings.HasSuffix(next.Reply, questions[2]))

	again, err := reg.Resolve(ctx, "s1", "o")
	require.NoError(t, err)
	require.Same(t, primed, again)
}

func TestPrime_ConcurrentCallsShareOneSession(t *testing.T) {
	f := newFixture(t, disabledGateway())
	entries := []domain.HistoryEntry{
		{SessionID: "s1", OwnerID: "o", GoalID: "other_goal", GoalLabel: "Autre", AssistantReply: "Salut", Timestamp: time.Now()},
	}

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	errs := make([]error, len(sessions))
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = f.reg.Prime("s1", "o", entries)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	live, err := f.reg.Resolve(context.Background(), "s1", "o")
	require.NoError(t, err)
	for _, s := range sessions {
		require.Same(t, live, s)
	}
}
