package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/restobook/fiscalflow/internal/aws"
)

// ErrMissingScope indicates a store call without an API client or user id.
// Caching an unscoped response would be visible across tenants, so this is a
// caller contract violation and is never absorbed locally.
var ErrMissingScope = errors.New("idempotency record requires an api client id or a user id")

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 24*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// StoreParams carries everything needed to cache one executed request.
// Exactly one of APIClientID / UserID must be set.
type StoreParams struct {
	Key          string
	APIClientID  string
	UserID       string
	Method       string
	Path         string
	RequestHash  string
	StatusCode   int
	ResponseBody string
}

// recordKey folds the scope into the partition key. Returns "" when no scope
// is present.
func recordKey(apiClientID, userID, key string) string {
	switch {
	case apiClientID != "":
		return fmt.Sprintf("client#%s#%s", apiClientID, key)
	case userID != "":
		return fmt.Sprintf("user#%s#%s", userID, key)
	default:
		return ""
	}
}

// Store persists the outcome of the first successful execution for a
// (scope, key) pair. The write is conditional on the key not existing; when
// a concurrent writer got there first, the winner's record is read back and
// returned so both callers observe the same cached response.
func (s *Store) Store(ctx context.Context, p StoreParams) (*Record, error) {
	pk := recordKey(p.APIClientID, p.UserID, p.Key)
	if pk == "" {
		return nil, ErrMissingScope
	}

	now := s.nowFunc()
	rec := Record{
		RecordKey:      pk,
		IdempotencyKey: p.Key,
		APIClientID:    p.APIClientID,
		UserID:         p.UserID,
		Method:         p.Method,
		Path:           p.Path,
		RequestHash:    p.RequestHash,
		StatusCode:     p.StatusCode,
		ResponseBody:   p.ResponseBody,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	input := &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
		// Only create when attribute_not_exists(record_key)
		ConditionExpression: awsString("attribute_not_exists(record_key)"),
	}

	_, err = s.client.PutItem(ctx, input)
	if err != nil {
		// detect conditional check failure: a concurrent writer won
		var sc smithy.APIError
		if errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException" {
			existing, getErr := s.FindForClient(ctx, p.APIClientID, p.UserID, p.Key)
			if getErr != nil {
				return nil, fmt.Errorf("read back existing record: %w", getErr)
			}
			if existing != nil {
				return existing, nil
			}
			// condition failed but the row expired between the put and the
			// read; treat the new record as stored
			return &rec, nil
		}
		return nil, fmt.Errorf("put item: %w", err)
	}

	return &rec, nil
}

// FindForClient looks up a cached response by scope and key. Returns
// (nil, nil) when neither id is provided (no query is issued), when no
// record matches, or when the record has expired. DynamoDB TTL deletes
// expired rows eventually; the expiry check here makes absence immediate.
func (s *Store) FindForClient(ctx context.Context, apiClientID, userID, key string) (*Record, error) {
	pk := recordKey(apiClientID, userID, key)
	if pk == "" {
		return nil, nil
	}

	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"record_key": &types.AttributeValueMemberS{Value: pk},
		},
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if s.nowFunc().Unix() > rec.ExpiresAt {
		return nil, nil
	}
	return &rec, nil
}

// Helper
func awsString(s string) *string { return &s }
