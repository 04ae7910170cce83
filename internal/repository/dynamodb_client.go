package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"finance-coach/internal/domain"
)

const (
	skPrefixEntry     = "ENTRY#"
	defaultOwnerIndex = "OwnerIndex"
	ttlDuration       = 30 * 24 * time.Hour // 30-day TTL
	maxTransactItems  = 100

	// sortableTime keeps a fixed width so sort keys order lexically.
	sortableTime = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores coaching history in a single DynamoDB table. Entries of a
// session share the partition SESSION#<id>; a global secondary index on
// (ownerId, timestamp) serves the per-owner listing.
type Client struct {
	api        dynamodbAPI
	tableName  string
	ownerIndex string
}

// New creates a new repository Client. An empty ownerIndex uses "OwnerIndex".
func New(api dynamodbAPI, tableName, ownerIndex string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(ownerIndex) == "" {
		ownerIndex = defaultOwnerIndex
	}
	return &Client{api: api, tableName: tableName, ownerIndex: ownerIndex}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// entrySK orders entries chronologically; the id breaks timestamp ties.
func entrySK(ts time.Time, entryID string) string {
	return skPrefixEntry + ts.UTC().Format(sortableTime) + "#" + entryID
}

// ttlValue returns a Unix timestamp 30 days after ts.
func ttlValue(ts time.Time) int64 {
	return ts.Add(ttlDuration).Unix()
}

// Append writes one entry. Rewriting an existing key is rejected.
func (c *Client) Append(ctx context.Context, e domain.HistoryEntry) error {
	if e.ID == "" || e.SessionID == "" || e.OwnerID == "" {
		return errors.New("repository: Append: entry id, session id and owner id are required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                entryItem(e),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// EntriesForSession returns the owner's entries of a session, oldest first.
// A session owned by someone else reads as empty.
func (c *Client) EntriesForSession(ctx context.Context, sessionID, ownerID string) ([]domain.HistoryEntry, error) {
	items, err := c.querySession(ctx, sessionID, ownerID, "")
	if err != nil {
		return nil, fmt.Errorf("repository: EntriesForSession query: %w", err)
	}
	entries := make([]domain.HistoryEntry, 0, len(items))
	for _, item := range items {
		e, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("repository: EntriesForSession unmarshal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ListRecentSessions reads the owner index newest first and keeps the most
// recent entry of each session.
func (c *Client) ListRecentSessions(ctx context.Context, ownerID string, limit int) ([]domain.HistoryEntry, error) {
	limit = normalizeLimit(limit)
	window := listWindow(limit)

	var (
		entries  []domain.HistoryEntry
		sessions = map[string]struct{}{}
		startKey map[string]types.AttributeValue
	)
	for len(entries) < window {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			IndexName:              aws.String(c.ownerIndex),
			KeyConditionExpression: aws.String("ownerId = :owner"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: ownerID},
			},
			ScanIndexForward:  aws.Bool(false),
			Limit:             aws.Int32(int32(window - len(entries))),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListRecentSessions query: %w", err)
		}
		for _, item := range out.Items {
			e, err := itemToEntry(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListRecentSessions unmarshal: %w", err)
			}
			entries = append(entries, e)
			sessions[e.SessionID] = struct{}{}
		}
		if len(out.LastEvaluatedKey) == 0 || len(sessions) >= limit {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return latestPerSession(entries, limit), nil
}

// SetStarred flags every entry of the session.
func (c *Client) SetStarred(ctx context.Context, sessionID, ownerID string, starred bool) error {
	if err := c.updateSession(ctx, sessionID, ownerID, "starred", &types.AttributeValueMemberBOOL{Value: starred}); err != nil {
		return fmt.Errorf("repository: SetStarred: %w", err)
	}
	return nil
}

// Rename replaces the goal label on every entry of the session.
func (c *Client) Rename(ctx context.Context, sessionID, ownerID, newLabel string) error {
	if err := c.updateSession(ctx, sessionID, ownerID, "goalLabel", &types.AttributeValueMemberS{Value: newLabel}); err != nil {
		return fmt.Errorf("repository: Rename: %w", err)
	}
	return nil
}

// Delete removes every entry of the session.
func (c *Client) Delete(ctx context.Context, sessionID, ownerID string) error {
	keys, err := c.sessionKeys(ctx, sessionID, ownerID)
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	writes := make([]types.TransactWriteItem, 0, len(keys))
	for _, key := range keys {
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(c.tableName),
				Key:       key,
			},
		})
	}
	if err := c.transact(ctx, writes); err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (c *Client) updateSession(ctx context.Context, sessionID, ownerID, attr string, value types.AttributeValue) error {
	keys, err := c.sessionKeys(ctx, sessionID, ownerID)
	if err != nil {
		return err
	}
	writes := make([]types.TransactWriteItem, 0, len(keys))
	for _, key := range keys {
		writes = append(writes, types.TransactWriteItem{
			Update: &types.Update{
				TableName:           aws.String(c.tableName),
				Key:                 key,
				UpdateExpression:    aws.String("SET #attr = :v"),
				ConditionExpression: aws.String("ownerId = :owner"),
				ExpressionAttributeNames: map[string]string{
					"#attr": attr,
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":v":     value,
					":owner": &types.AttributeValueMemberS{Value: ownerID},
				},
			},
		})
	}
	return c.transact(ctx, writes)
}

// transact writes in chunks because a transaction holds at most 100 items.
func (c *Client) transact(ctx context.Context, writes []types.TransactWriteItem) error {
	for start := 0; start < len(writes); start += maxTransactItems {
		end := start + maxTransactItems
		if end > len(writes) {
			end = len(writes)
		}
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: writes[start:end],
		}); err != nil {
			return err
		}
	}
	return nil
}

// sessionKeys returns the primary keys of the owner's entries in a session,
// or domain.ErrSessionNotFound when there are none.
func (c *Client) sessionKeys(ctx context.Context, sessionID, ownerID string) ([]map[string]types.AttributeValue, error) {
	items, err := c.querySession(ctx, sessionID, ownerID, "PK, SK")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	return keys, nil
}

func (c *Client) querySession(ctx context.Context, sessionID, ownerID, projection string) ([]map[string]types.AttributeValue, error) {
	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			FilterExpression:       aws.String("ownerId = :owner"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
				":owner":  &types.AttributeValueMemberS{Value: ownerID},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		}
		if projection != "" {
			in.ProjectionExpression = aws.String(projection)
		}
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func entryItem(e domain.HistoryEntry) map[string]types.AttributeValue {
	ts := e.Timestamp.UTC()
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: sessionPK(e.SessionID)},
		"SK":               &types.AttributeValueMemberS{Value: entrySK(ts, e.ID)},
		"entryId":          &types.AttributeValueMemberS{Value: e.ID},
		"sessionId":        &types.AttributeValueMemberS{Value: e.SessionID},
		"ownerId":          &types.AttributeValueMemberS{Value: e.OwnerID},
		"goalId":           &types.AttributeValueMemberS{Value: e.GoalID},
		"goalLabel":        &types.AttributeValueMemberS{Value: e.GoalLabel},
		"userInput":        &types.AttributeValueMemberS{Value: e.UserInput},
		"assistantReply":   &types.AttributeValueMemberS{Value: e.AssistantReply},
		"timestamp":        &types.AttributeValueMemberS{Value: ts.Format(sortableTime)},
		"starred":          &types.AttributeValueMemberBOOL{Value: e.Starred},
		"modelName":        &types.AttributeValueMemberS{Value: e.ModelName},
		"promptTokens":     &types.AttributeValueMemberN{Value: strconv.Itoa(e.Usage.PromptTokens)},
		"completionTokens": &types.AttributeValueMemberN{Value: strconv.Itoa(e.Usage.CompletionTokens)},
		"totalTokens":      &types.AttributeValueMemberN{Value: strconv.Itoa(e.Usage.TotalTokens)},
		"fallback":         &types.AttributeValueMemberBOOL{Value: e.Fallback},
		"ttl":              &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(ts), 10)},
	}
}

// itemToEntry converts a DynamoDB attribute map to a HistoryEntry. Only the
// identifying attributes are mandatory.
func itemToEntry(item map[string]types.AttributeValue) (domain.HistoryEntry, error) {
	id, err := strAttr(item, "entryId")
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	ownerID, err := strAttr(item, "ownerId")
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	rawTS, err := strAttr(item, "timestamp")
	if err != nil {
		return domain.HistoryEntry{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return domain.HistoryEntry{}, fmt.Errorf("repository: parse attribute %q: %w", "timestamp", err)
	}

	e := domain.HistoryEntry{
		ID:        id,
		SessionID: sessionID,
		OwnerID:   ownerID,
		Timestamp: ts.UTC(),
	}
	e.GoalID, _ = strAttr(item, "goalId")
	e.GoalLabel, _ = strAttr(item, "goalLabel")
	e.UserInput, _ = strAttr(item, "userInput") // empty for the opening turn
	e.AssistantReply, _ = strAttr(item, "assistantReply")
	e.ModelName, _ = strAttr(item, "modelName")
	e.Starred = boolAttr(item, "starred")
	e.Fallback = boolAttr(item, "fallback")
	if e.Usage.PromptTokens, err = optionalIntAttr(item, "promptTokens"); err != nil {
		return domain.HistoryEntry{}, err
	}
	if e.Usage.CompletionTokens, err = optionalIntAttr(item, "completionTokens"); err != nil {
		return domain.HistoryEntry{}, err
	}
	if e.Usage.TotalTokens, err = optionalIntAttr(item, "totalTokens"); err != nil {
		return domain.HistoryEntry{}, err
	}
	return e, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func boolAttr(item map[string]types.AttributeValue, key string) bool {
	b, ok := item[key].(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func optionalIntAttr(item map[string]types.AttributeValue, key string) (int, error) {
	if _, ok := item[key]; !ok {
		return 0, nil
	}
	return intAttr(item, key)
}
