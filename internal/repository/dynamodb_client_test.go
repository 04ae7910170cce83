package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"finance-coach/internal/domain"
)

type fakeDynamo struct {
	putErr      error
	queryOuts   []*dynamodb.QueryOutput
	queryErr    error
	txErr       error
	queryCalls  int
	lastPutIn   *dynamodb.PutItemInput
	queryInputs []*dynamodb.QueryInput
	txInputs    []*dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutIn = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	i := f.queryCalls
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if i >= len(f.queryOuts) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryOuts[i], nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txInputs = append(f.txInputs, in)
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func makeEntry(id, sessionID string, offset time.Duration) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:             id,
		SessionID:      sessionID,
		OwnerID:        "owner-1",
		GoalID:         "emergency_fund",
		GoalLabel:      "Fonds d'urgence",
		UserInput:      "3 mois",
		AssistantReply: "Très bien.",
		Timestamp:      baseTime.Add(offset),
	}
}

func page(next bool, entries ...domain.HistoryEntry) *dynamodb.QueryOutput {
	out := &dynamodb.QueryOutput{}
	for _, e := range entries {
		out.Items = append(out.Items, entryItem(e))
	}
	if next && len(entries) > 0 {
		last := out.Items[len(out.Items)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table", "")
	require.NoError(t, err)
	return c
}

func sValue(t *testing.T, v types.AttributeValue) string {
	t.Helper()
	s, ok := v.(*types.AttributeValueMemberS)
	require.True(t, ok, "expected string attribute, got %T", v)
	return s.Value
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t", "")
	require.ErrorContains(t, err, "api must not be nil")

	_, err = New(&fakeDynamo{}, " ", "")
	require.ErrorContains(t, err, "table name")

	c, err := New(&fakeDynamo{}, "t", "")
	require.NoError(t, err)
	require.Equal(t, "OwnerIndex", c.ownerIndex)
}

// ---------------------------------------------------------------------------
// Append
// ---------------------------------------------------------------------------

func TestAppend_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	e := makeEntry("e-1", "s-1", 0)
	e.ModelName = "gpt-4o-mini"
	e.Usage = domain.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	require.NoError(t, c.Append(context.Background(), e))

	in := db.lastPutIn
	require.NotNil(t, in)
	require.Equal(t, "test-table", *in.TableName)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *in.ConditionExpression)
	require.Equal(t, "SESSION#s-1", sValue(t, in.Item["PK"]))
	require.Equal(t, "ENTRY#2026-03-01T09:00:00.000000000Z#e-1", sValue(t, in.Item["SK"]))
	require.Equal(t, "owner-1", sValue(t, in.Item["ownerId"]))

	ttl, err := intAttr(in.Item, "ttl")
	require.NoError(t, err)
	require.Equal(t, int(baseTime.Add(30*24*time.Hour).Unix()), ttl)
}

func TestAppend_RequiresIdentifiers(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	err := c.Append(context.Background(), domain.HistoryEntry{ID: "e-1", SessionID: "s-1"})
	require.ErrorContains(t, err, "required")
	require.Nil(t, db.lastPutIn)
}

func TestAppend_PutError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("throttled")})
	err := c.Append(context.Background(), makeEntry("e-1", "s-1", 0))
	require.ErrorContains(t, err, "repository: Append")
	require.ErrorContains(t, err, "throttled")
}

// ---------------------------------------------------------------------------
// EntriesForSession
// ---------------------------------------------------------------------------

func TestEntriesForSession_FollowsPages(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		page(true, makeEntry("e-1", "s-1", 0), makeEntry("e-2", "s-1", time.Second)),
		page(false, makeEntry("e-3", "s-1", 2*time.Second)),
	}}
	c := mustNewClient(t, db)

	entries, err := c.EntriesForSession(context.Background(), "s-1", "owner-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []string{"e-1", "e-2", "e-3"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	require.Equal(t, "Fonds d'urgence", entries[0].GoalLabel)
	require.True(t, entries[2].Timestamp.Equal(baseTime.Add(2*time.Second)))

	require.Len(t, db.queryInputs, 2)
	first := db.queryInputs[0]
	require.Equal(t, "ownerId = :owner", *first.FilterExpression)
	require.True(t, *first.ScanIndexForward)
	require.Equal(t, "SESSION#s-1", sValue(t, first.ExpressionAttributeValues[":pk"]))
	require.Nil(t, first.ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestEntriesForSession_MalformedItem(t *testing.T) {
	item := entryItem(makeEntry("e-1", "s-1", 0))
	delete(item, "entryId")
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)

	_, err := c.EntriesForSession(context.Background(), "s-1", "owner-1")
	require.ErrorContains(t, err, "unmarshal")
}

func TestEntriesForSession_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.EntriesForSession(context.Background(), "s-1", "owner-1")
	require.ErrorContains(t, err, "EntriesForSession query")
}

// ---------------------------------------------------------------------------
// ListRecentSessions
// ---------------------------------------------------------------------------

func TestListRecentSessions_DedupesBySession(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		page(false,
			makeEntry("e-4", "s-2", 4*time.Second),
			makeEntry("e-3", "s-1", 3*time.Second),
			makeEntry("e-2", "s-2", 2*time.Second),
			makeEntry("e-1", "s-1", time.Second),
		),
	}}
	c := mustNewClient(t, db)

	entries, err := c.ListRecentSessions(context.Background(), "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "e-4", entries[0].ID)
	require.Equal(t, "e-3", entries[1].ID)

	in := db.queryInputs[0]
	require.Equal(t, "OwnerIndex", *in.IndexName)
	require.False(t, *in.ScanIndexForward)
	require.Equal(t, int32(150), *in.Limit)
}

func TestListRecentSessions_StopsOnceLimitReached(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		page(true, makeEntry("e-3", "s-3", 3*time.Second), makeEntry("e-2", "s-2", 2*time.Second)),
		page(false, makeEntry("e-1", "s-1", time.Second)),
	}}
	c := mustNewClient(t, db)

	entries, err := c.ListRecentSessions(context.Background(), "owner-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, db.queryCalls)
}

func TestListRecentSessions_CapsWindow(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.ListRecentSessions(context.Background(), "owner-1", 1000)
	require.NoError(t, err)
	require.Equal(t, int32(400), *db.queryInputs[0].Limit)
}

// ---------------------------------------------------------------------------
// Session mutations
// ---------------------------------------------------------------------------

func TestSetStarred_UpdatesEveryEntry(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		page(false, makeEntry("e-1", "s-1", 0), makeEntry("e-2", "s-1", time.Second)),
	}}
	c := mustNewClient(t, db)

	require.NoError(t, c.SetStarred(context.Background(), "s-1", "owner-1", true))
	require.Equal(t, "PK, SK", *db.queryInputs[0].ProjectionExpression)
	require.Len(t, db.txInputs, 1)

	items := db.txInputs[0].TransactItems
	require.Len(t, items, 2)
	upd := items[0].Update
	require.NotNil(t, upd)
	require.Equal(t, "SET #attr = :v", *upd.UpdateExpression)
	require.Equal(t, "starred", upd.ExpressionAttributeNames["#attr"])
	require.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, upd.ExpressionAttributeValues[":v"])
	require.Equal(t, "SESSION#s-1", sValue(t, upd.Key["PK"]))
}

func TestRename_SetsLabel(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{page(false, makeEntry("e-1", "s-1", 0))}}
	c := mustNewClient(t, db)

	require.NoError(t, c.Rename(context.Background(), "s-1", "owner-1", "Voyage au Japon"))
	upd := db.txInputs[0].TransactItems[0].Update
	require.Equal(t, "goalLabel", upd.ExpressionAttributeNames["#attr"])
	require.Equal(t, "Voyage au Japon", sValue(t, upd.ExpressionAttributeValues[":v"]))
}

func TestSessionMutations_NotFound(t *testing.T) {
	ctx := context.Background()
	c := mustNewClient(t, &fakeDynamo{})

	require.ErrorIs(t, c.SetStarred(ctx, "s-x", "owner-1", true), domain.ErrSessionNotFound)
	require.ErrorIs(t, c.Rename(ctx, "s-x", "owner-1", "x"), domain.ErrSessionNotFound)
	require.ErrorIs(t, c.Delete(ctx, "s-x", "owner-1"), domain.ErrSessionNotFound)
}

func TestDelete_ChunksTransactions(t *testing.T) {
	entries := make([]domain.HistoryEntry, 0, 150)
	for i := 0; i < 150; i++ {
		entries = append(entries, makeEntry(fmt.Sprintf("e-%03d", i), "s-1", time.Duration(i)*time.Second))
	}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{page(false, entries...)}}
	c := mustNewClient(t, db)

	require.NoError(t, c.Delete(context.Background(), "s-1", "owner-1"))
	require.Len(t, db.txInputs, 2)
	require.Len(t, db.txInputs[0].TransactItems, 100)
	require.Len(t, db.txInputs[1].TransactItems, 50)
	require.NotNil(t, db.txInputs[1].TransactItems[0].Delete)
}

func TestDelete_TransactError(t *testing.T) {
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{page(false, makeEntry("e-1", "s-1", 0))},
		txErr:     errors.New("conflict"),
	}
	c := mustNewClient(t, db)
	err := c.Delete(context.Background(), "s-1", "owner-1")
	require.ErrorContains(t, err, "repository: Delete")
	require.ErrorContains(t, err, "conflict")
}

// ---------------------------------------------------------------------------
// Item mapping
// ---------------------------------------------------------------------------

func TestEntrySK_SortsLexically(t *testing.T) {
	whole := entrySK(baseTime, "a")
	frac := entrySK(baseTime.Add(500*time.Millisecond), "a")
	later := entrySK(baseTime.Add(time.Second), "a")
	require.Less(t, whole, frac)
	require.Less(t, frac, later)
}

func TestItemToEntry_RoundTrip(t *testing.T) {
	e := makeEntry("e-1", "s-1", 1500*time.Millisecond)
	e.Starred = true
	e.Fallback = true
	e.ModelName = "gpt-4o-mini"
	e.Usage = domain.TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}

	got, err := itemToEntry(entryItem(e))
	require.NoError(t, err)
	require.True(t, got.Timestamp.Equal(e.Timestamp))
	got.Timestamp = e.Timestamp
	require.Equal(t, e, got)
}

func TestItemToEntry_BadNumber(t *testing.T) {
	item := entryItem(makeEntry("e-1", "s-1", 0))
	item["totalTokens"] = &types.AttributeValueMemberS{Value: "bad"}
	_, err := itemToEntry(item)
	require.ErrorContains(t, err, "not a number")
}
