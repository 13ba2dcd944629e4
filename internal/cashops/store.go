package cashops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/restobook/fiscalflow/internal/aws"
)

// Operation types / categories written by the fiscal engine. The wider cash
// bookkeeping lives elsewhere; the refund flow only appends one expense
// entry per successful refund submission.
const (
	TypeExpense    = "expense"
	CategoryRefund = "refund"
)

// Operation is one append-only cash ledger entry.
type Operation struct {
	OperationID  string    `dynamodbav:"operation_id"` // PK
	RestaurantID string    `dynamodbav:"restaurant_id"`
	OrderID      string    `dynamodbav:"order_id,omitempty"`
	Type         string    `dynamodbav:"type"`
	Category     string    `dynamodbav:"category"`
	Amount       float64   `dynamodbav:"amount"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
}

// Store appends cash operations to the ledger table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new cash operations Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// AppendRefundExpense records the single refund-side ledger entry for an
// order. The id is generated here; the put is guarded so an accidental
// duplicate id never overwrites an existing entry.
func (s *Store) AppendRefundExpense(ctx context.Context, restaurantID, orderID string, amount float64) (*Operation, error) {
	op := Operation{
		OperationID:  uuid.NewString(),
		RestaurantID: restaurantID,
		OrderID:      orderID,
		Type:         TypeExpense,
		Category:     CategoryRefund,
		Amount:       amount,
		CreatedAt:    s.nowFunc(),
	}

	item, err := attributevalue.MarshalMap(op)
	if err != nil {
		return nil, fmt.Errorf("marshal operation: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(operation_id)"),
	})
	if err != nil {
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return nil, fmt.Errorf("duplicate operation id %s", op.OperationID)
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &op, nil
}

func awsString(s string) *string { return &s }
