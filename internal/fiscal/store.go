package fiscal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/restobook/fiscalflow/internal/aws"
)

// Secondary indexes on the receipts table.
const (
	providerRefIndex = "provider_ref-index"           // PK provider_ref
	restaurantIndex  = "restaurant_id-created_at-index" // PK restaurant_id, SK created_at
)

const defaultListLimit = 50

// ListFilter narrows a receipt listing. RestaurantID is required; Status
// and OrderID are optional. Limit falls back to defaultListLimit.
type ListFilter struct {
	RestaurantID string
	Status       string
	OrderID      string
	Limit        int
}

// Store encapsulates operations on the receipts table. State transitions
// are conditional writes so concurrent appliers (webhook vs. poll) cannot
// regress a terminal receipt.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new receipts Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create persists a new receipt row. The put is conditional on the id not
// existing; receipt ids are UUIDs so a collision means a caller bug.
func (s *Store) Create(ctx context.Context, r Receipt) error {
	now := s.nowFunc()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(receipt_id)"),
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a receipt by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, receiptID string) (*Receipt, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Receipt
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &r, nil
}

// GetByProviderRef resolves a receipt from the gateway-assigned tracking id
// (the correlation key for webhook callbacks). Returns (nil, nil) when no
// receipt matches.
func (s *Store) GetByProviderRef(ctx context.Context, providerRef string) (*Receipt, error) {
	if providerRef == "" {
		return nil, nil
	}
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(providerRefIndex),
		KeyConditionExpression: awsString("provider_ref = :pr"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pr": &types.AttributeValueMemberS{Value: providerRef},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query provider_ref index: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	var r Receipt
	if err := attributevalue.UnmarshalMap(out.Items[0], &r); err != nil {
		return nil, fmt.Errorf("unmarshal receipt: %w", err)
	}
	return &r, nil
}

// List returns a restaurant's receipts newest first, optionally filtered by
// status and order.
func (s *Store) List(ctx context.Context, f ListFilter) ([]Receipt, error) {
	if f.RestaurantID == "" {
		return nil, fmt.Errorf("restaurant id is required")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(restaurantIndex),
		KeyConditionExpression: awsString("restaurant_id = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": &types.AttributeValueMemberS{Value: f.RestaurantID},
		},
		ScanIndexForward: awsBool(false), // newest first
		Limit:            awsInt32(int32(limit)),
	}

	var filters []string
	if f.Status != "" {
		filters = append(filters, "#s = :status")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues[":status"] = &types.AttributeValueMemberS{Value: f.Status}
	}
	if f.OrderID != "" {
		filters = append(filters, "order_id = :oid")
		input.ExpressionAttributeValues[":oid"] = &types.AttributeValueMemberS{Value: f.OrderID}
	}
	if len(filters) > 0 {
		expr := filters[0]
		for _, part := range filters[1:] {
			expr += " AND " + part
		}
		input.FilterExpression = &expr
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("query restaurant index: %w", err)
	}

	receipts := make([]Receipt, 0, len(out.Items))
	for _, item := range out.Items {
		var r Receipt
		if err := attributevalue.UnmarshalMap(item, &r); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// MarkProcessing moves pending -> processing and records the provider ref.
func (s *Store) MarkProcessing(ctx context.Context, receiptID, providerRef string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
		UpdateExpression:         awsString("SET #s = :processing, provider_ref = :pr, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
			":pending":    &types.AttributeValueMemberS{Value: StatusPending},
			":pr":         &types.AttributeValueMemberS{Value: providerRef},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :pending"),
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return &InvalidStateError{Reason: fmt.Sprintf("receipt %s is not pending", receiptID)}
		}
		return fmt.Errorf("update item (mark processing): %w", err)
	}
	return nil
}

// MarkDone resolves a receipt to done and stores the fiscal document
// fields. A receipt already in a terminal state is left untouched and no
// error is returned, so redelivered callbacks are safe.
func (s *Store) MarkDone(ctx context.Context, receiptID string, doc DocumentFields, raw string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
		UpdateExpression: awsString("SET #s = :done, fiscal_document_number = :fdn, fiscal_document_attribute = :fda, fn_number = :fn, shift_number = :sn, receipt_datetime = :rd, ofd_sum = :os, callback_response = :cr, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":pending":    &types.AttributeValueMemberS{Value: StatusPending},
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
			":fdn":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", doc.FiscalDocumentNumber)},
			":fda":        &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", doc.FiscalDocumentAttribute)},
			":fn":         &types.AttributeValueMemberS{Value: doc.FNNumber},
			":sn":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", doc.ShiftNumber)},
			":rd":         &types.AttributeValueMemberS{Value: doc.ReceiptDatetime},
			":os":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", doc.OFDSum)},
			":cr":         &types.AttributeValueMemberS{Value: raw},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s IN (:pending, :processing)"),
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			// already terminal: double-delivery, not an error
			return nil
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

// MarkFailed resolves a receipt to fail with the provider diagnostics.
// Idempotent on terminal receipts, same as MarkDone.
func (s *Store) MarkFailed(ctx context.Context, receiptID, message, raw string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"receipt_id": &types.AttributeValueMemberS{Value: receiptID},
		},
		UpdateExpression:         awsString("SET #s = :fail, error_message = :em, callback_response = :cr, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fail":       &types.AttributeValueMemberS{Value: StatusFail},
			":pending":    &types.AttributeValueMemberS{Value: StatusPending},
			":processing": &types.AttributeValueMemberS{Value: StatusProcessing},
			":em":         &types.AttributeValueMemberS{Value: message},
			":cr":         &types.AttributeValueMemberS{Value: raw},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s IN (:pending, :processing)"),
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }
