package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsDynamo "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/restobook/fiscalflow/internal/cashops"
	"github.com/restobook/fiscalflow/internal/fiscal"
	"github.com/restobook/fiscalflow/internal/orders"
)

// --- mock implementations ---

// mockDynamo keeps one receipts table and supports the Get/Update calls the
// reconcile path makes.
type mockDynamo struct {
	receipts map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{receipts: map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) PutItem(ctx context.Context, in *awsDynamo.PutItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.PutItemOutput, error) {
	k := in.Item["receipt_id"].(*types.AttributeValueMemberS).Value
	m.receipts[k] = in.Item
	return &awsDynamo.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *awsDynamo.GetItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.GetItemOutput, error) {
	k := in.Key["receipt_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.receipts[k]
	if !ok {
		return &awsDynamo.GetItemOutput{}, nil
	}
	return &awsDynamo.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *awsDynamo.UpdateItemInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.UpdateItemOutput, error) {
	k := in.Key["receipt_id"].(*types.AttributeValueMemberS).Value
	item, ok := m.receipts[k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	// condition used by terminal transitions: #s IN (:pending, :processing)
	if in.ConditionExpression != nil && strings.Contains(*in.ConditionExpression, " IN ") {
		status := item["status"].(*types.AttributeValueMemberS).Value
		if status != fiscal.StatusPending && status != fiscal.StatusProcessing {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	// naive SET application over known value refs
	for ref, v := range in.ExpressionAttributeValues {
		switch ref {
		case ":done", ":fail":
			item["status"] = v
		case ":fdn":
			item["fiscal_document_number"] = v
		case ":fn":
			item["fn_number"] = v
		case ":em":
			item["error_message"] = v
		case ":cr":
			item["callback_response"] = v
		case ":ua":
			item["updated_at"] = v
		}
	}
	m.receipts[k] = item
	return &awsDynamo.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *awsDynamo.QueryInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.QueryOutput, error) {
	return nil, errors.New("unexpected Query in worker tests")
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *awsDynamo.TransactWriteItemsInput, optFns ...func(*awsDynamo.Options)) (*awsDynamo.TransactWriteItemsOutput, error) {
	return nil, errors.New("unexpected TransactWriteItems in worker tests")
}

type fakeGateway struct {
	checkCalls int
	result     *fiscal.StatusResult
	err        error
}

func (g *fakeGateway) Sell(ctx context.Context, req fiscal.SubmitRequest) (*fiscal.SubmitAck, error) {
	return nil, errors.New("unexpected Sell")
}

func (g *fakeGateway) SellRefund(ctx context.Context, req fiscal.SubmitRequest) (*fiscal.SubmitAck, error) {
	return nil, errors.New("unexpected SellRefund")
}

func (g *fakeGateway) CheckStatus(ctx context.Context, providerRef string) (*fiscal.StatusResult, error) {
	g.checkCalls++
	return g.result, g.err
}

func (g *fakeGateway) ParseCallback(payload map[string]interface{}) (*fiscal.CallbackResult, error) {
	return nil, errors.New("unexpected ParseCallback")
}

func (g *fakeGateway) IsEnabled() bool { return true }

func (g *fakeGateway) Token() (string, bool) { return "tok", true }

// --- helpers ---

func seedReceipt(t *testing.T, mock *mockDynamo, id, status, providerRef string) {
	t.Helper()
	r := fiscal.Receipt{
		ReceiptID:    id,
		RestaurantID: "rest-1",
		OrderID:      "o1",
		Operation:    fiscal.OperationSell,
		ExternalID:   "ext-" + id,
		ProviderRef:  providerRef,
		Status:       status,
		Total:        100,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		t.Fatalf("marshal receipt: %v", err)
	}
	mock.receipts[id] = item
}

func newWorker(mock *mockDynamo, gw fiscal.Gateway) *Processor {
	engine := fiscal.NewEngine(fiscal.Deps{
		Receipts: fiscal.NewStore(mock, "receipts"),
		Orders:   orders.NewStore(mock, "orders"),
		Cash:     cashops.NewStore(mock, "cash_operations"),
		Gateway:  gw,
	})
	return NewProcessor(engine)
}

func reconcileEvent(t *testing.T, receiptID string) events.SQSEvent {
	t.Helper()
	body, err := json.Marshal(map[string]string{"receipt_id": receiptID, "restaurant_id": "rest-1"})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return events.SQSEvent{Records: []events.SQSMessage{{Body: string(body)}}}
}

// --- test cases ---

func TestWorker_ResolvesProcessingReceipt(t *testing.T) {
	mock := newMockDynamo()
	seedReceipt(t, mock, "r1", fiscal.StatusProcessing, "ref-1")
	gw := &fakeGateway{result: &fiscal.StatusResult{
		Status:   fiscal.ResolutionDone,
		Document: &fiscal.DocumentFields{FiscalDocumentNumber: 5, FNNumber: "fn-1"},
	}}
	p := newWorker(mock, gw)

	if err := p.Handle(context.Background(), reconcileEvent(t, "r1")); err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if gw.checkCalls != 1 {
		t.Fatalf("expected one poll, got %d", gw.checkCalls)
	}
	status := mock.receipts["r1"]["status"].(*types.AttributeValueMemberS).Value
	if status != fiscal.StatusDone {
		t.Fatalf("receipt status = %s, want done", status)
	}
}

func TestWorker_DuplicateDeliveryIsNoOp(t *testing.T) {
	mock := newMockDynamo()
	seedReceipt(t, mock, "r1", fiscal.StatusDone, "ref-1")
	gw := &fakeGateway{}
	p := newWorker(mock, gw)

	if err := p.Handle(context.Background(), reconcileEvent(t, "r1")); err != nil {
		t.Fatalf("unexpected worker error: %v", err)
	}
	if gw.checkCalls != 0 {
		t.Fatalf("terminal receipt must not be polled, got %d calls", gw.checkCalls)
	}
}

func TestWorker_UnresolvedReceiptTriggersRedelivery(t *testing.T) {
	mock := newMockDynamo()
	seedReceipt(t, mock, "r1", fiscal.StatusProcessing, "ref-1")
	gw := &fakeGateway{result: &fiscal.StatusResult{Status: fiscal.ResolutionWait}}
	p := newWorker(mock, gw)

	if err := p.Handle(context.Background(), reconcileEvent(t, "r1")); err == nil {
		t.Fatal("expected error so SQS redelivers an unresolved receipt")
	}
	status := mock.receipts["r1"]["status"].(*types.AttributeValueMemberS).Value
	if status != fiscal.StatusProcessing {
		t.Fatalf("wait resolution mutated status to %s", status)
	}
}

func TestWorker_UnknownReceiptIsSwallowed(t *testing.T) {
	mock := newMockDynamo()
	gw := &fakeGateway{}
	p := newWorker(mock, gw)

	if err := p.Handle(context.Background(), reconcileEvent(t, "ghost")); err != nil {
		t.Fatalf("stale message must be swallowed, got %v", err)
	}
}
