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

	"triage-agent/internal/domain"
)

const (
	skPrefixTurn   = "TURN#"
	skPrefixTriage = "TRIAGE#"
	itemTypeTurn   = "turn"
	itemTypeTriage = "triage"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client stores conversation turns and triage records in a single table keyed
// by conversation. Turn and record ids are ULIDs, so sort keys order
// chronologically.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
}

type Option func(*Client)

// WithTTL sets a DynamoDB TTL on every written item. Zero (the default)
// keeps items indefinitely.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		c.ttl = d
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func turnSK(id string) string {
	return skPrefixTurn + id
}

func triageSK(id string) string {
	return skPrefixTriage + id
}

// AppendTurn writes turn once. Re-appending a turn id that is already stored
// succeeds without overwriting, so callers may retry blindly.
func (c *Client) AppendTurn(ctx context.Context, turn domain.ConversationTurn) (string, error) {
	if turn.ConversationID == "" || turn.ID == "" {
		return "", fmt.Errorf("repository: AppendTurn: %w", domain.ErrMissingKey)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	if err := c.putOnce(ctx, c.turnItem(turn)); err != nil {
		return "", fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return turn.ID, nil
}

// ReadTurns returns up to limit of the most recent turns, oldest first.
func (c *Client) ReadTurns(ctx context.Context, conversationID string, limit int) ([]domain.ConversationTurn, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := c.api.Query(ctx, c.newestFirst(conversationID, skPrefixTurn, limit))
	if err != nil {
		return nil, fmt.Errorf("repository: ReadTurns query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ReadTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// WriteTriageRecord stores rec once under its conversation.
func (c *Client) WriteTriageRecord(ctx context.Context, rec domain.TriageRecord) (string, error) {
	if rec.ConversationID == "" || rec.ID == "" {
		return "", fmt.Errorf("repository: WriteTriageRecord: %w", domain.ErrMissingKey)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := c.putOnce(ctx, c.triageItem(rec)); err != nil {
		return "", fmt.Errorf("repository: WriteTriageRecord: %w", err)
	}
	return rec.ID, nil
}

// ReadTriageRecord returns the most recent record for a conversation, or nil
// when none exists.
func (c *Client) ReadTriageRecord(ctx context.Context, conversationID string) (*domain.TriageRecord, error) {
	out, err := c.api.Query(ctx, c.newestFirst(conversationID, skPrefixTriage, 1))
	if err != nil {
		return nil, fmt.Errorf("repository: ReadTriageRecord query: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return nil, nil
	}
	rec, err := itemToTriage(out.Items[0])
	if err != nil {
		return nil, fmt.Errorf("repository: ReadTriageRecord unmarshal: %w", err)
	}
	return &rec, nil
}

func (c *Client) newestFirst(conversationID, prefix string, limit int) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		// Read newest first so LIMIT favors the most recent items.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
		ConsistentRead:   aws.Bool(true),
	}
}

func (c *Client) putOnce(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	var exists *types.ConditionalCheckFailedException
	if errors.As(err, &exists) {
		return nil
	}
	return err
}

func (c *Client) withTTL(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if c.ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(c.ttl).Unix(), 10)}
	}
	return item
}

func (c *Client) turnItem(turn domain.ConversationTurn) map[string]types.AttributeValue {
	return c.withTTL(map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(turn.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: turnSK(turn.ID)},
		"type":           &types.AttributeValueMemberS{Value: itemTypeTurn},
		"id":             &types.AttributeValueMemberS{Value: turn.ID},
		"conversationId": &types.AttributeValueMemberS{Value: turn.ConversationID},
		"userId":         &types.AttributeValueMemberS{Value: turn.UserID},
		"channel":        &types.AttributeValueMemberS{Value: string(turn.Channel)},
		"userText":       &types.AttributeValueMemberS{Value: turn.UserText},
		"agentText":      &types.AttributeValueMemberS{Value: turn.AgentText},
		"createdAt":      &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
	})
}

func (c *Client) triageItem(rec domain.TriageRecord) map[string]types.AttributeValue {
	return c.withTTL(map[string]types.AttributeValue{
		"PK":                &types.AttributeValueMemberS{Value: convPK(rec.ConversationID)},
		"SK":                &types.AttributeValueMemberS{Value: triageSK(rec.ID)},
		"type":              &types.AttributeValueMemberS{Value: itemTypeTriage},
		"id":                &types.AttributeValueMemberS{Value: rec.ID},
		"conversationId":    &types.AttributeValueMemberS{Value: rec.ConversationID},
		"chiefComplaint":    &types.AttributeValueMemberS{Value: rec.ChiefComplaint},
		"symptoms":          &types.AttributeValueMemberS{Value: rec.Symptoms},
		"durationFrequency": &types.AttributeValueMemberS{Value: rec.DurationFrequency},
		"intensity":         &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Intensity)},
		"history":           &types.AttributeValueMemberS{Value: rec.History},
		"actionsTaken":      &types.AttributeValueMemberS{Value: rec.ActionsTaken},
		"createdAt":         &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)},
	})
}

func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	// Optional text attributes: absent means empty.
	userID, _ := strAttr(item, "userId")
	channel, _ := strAttr(item, "channel")
	userText, _ := strAttr(item, "userText")
	agentText, _ := strAttr(item, "agentText")

	return domain.ConversationTurn{
		ID:             id,
		ConversationID: convID,
		UserID:         userID,
		Channel:        domain.Channel(channel),
		UserText:       userText,
		AgentText:      agentText,
		CreatedAt:      createdAt,
	}, nil
}

func itemToTriage(item map[string]types.AttributeValue) (domain.TriageRecord, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.TriageRecord{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.TriageRecord{}, err
	}
	intensity, err := intAttr(item, "intensity")
	if err != nil {
		return domain.TriageRecord{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.TriageRecord{}, err
	}
	chief, _ := strAttr(item, "chiefComplaint")
	symptoms, _ := strAttr(item, "symptoms")
	duration, _ := strAttr(item, "durationFrequency")
	history, _ := strAttr(item, "history")
	actions, _ := strAttr(item, "actionsTaken")

	return domain.TriageRecord{
		ID:                id,
		ConversationID:    convID,
		ChiefComplaint:    chief,
		Symptoms:          symptoms,
		DurationFrequency: duration,
		Intensity:         intensity,
		History:           history,
		ActionsTaken:      actions,
		CreatedAt:         createdAt,
	}, nil
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
