package fiscal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Test table names shared by the engine tests.
const (
	testReceiptsTable = "receipts"
	testOrdersTable   = "orders"
	testCashTable     = "cash_operations"
)

// mockDynamo is an in-memory stand-in for DynamoDB covering the calls the
// receipt/order/cash stores make: conditional puts, naive condition
// expressions on updates, and the two receipt GSIs.
// NOTE: intentionally minimal, not production-grade.
type mockDynamo struct {
	mu     sync.Mutex
	pkAttr map[string]string // table -> partition key attribute
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		pkAttr: map[string]string{
			testReceiptsTable: "receipt_id",
			testOrdersTable:   "order_id",
			testCashTable:     "operation_id",
		},
		tables: map[string]map[string]map[string]types.AttributeValue{
			testReceiptsTable: {},
			testOrdersTable:   {},
			testCashTable:     {},
		},
	}
}

func strVal(av types.AttributeValue) string {
	if s, ok := av.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func numVal(av types.AttributeValue) string {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return ""
}

// setReceiptStatus rewrites a receipt's status directly, for fixtures that
// need a state the engine would not produce on its own.
func (m *mockDynamo) setReceiptStatus(receiptID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.tables[testReceiptsTable][receiptID]; ok {
		item["status"] = &types.AttributeValueMemberS{Value: status}
	}
}

func (m *mockDynamo) pkOf(table string, item map[string]types.AttributeValue) (string, error) {
	attr, ok := m.pkAttr[table]
	if !ok {
		return "", errors.New("unknown table " + table)
	}
	av := item[attr]
	if av == nil {
		return "", errors.New("missing " + attr)
	}
	return strVal(av), nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	k, err := m.pkOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_not_exists") {
		if _, ok := m.tables[table][k]; ok {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][k] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	k, err := m.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// resolveName maps "#s" through ExpressionAttributeNames; plain names pass
// through.
func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		return names[name]
	}
	return name
}

// checkCondition evaluates the two condition shapes the stores use:
// "attr = :v" and "attr IN (:a, :b)".
func checkCondition(cond string, item map[string]types.AttributeValue, names map[string]string, vals map[string]types.AttributeValue) bool {
	if strings.Contains(cond, " IN ") {
		parts := strings.SplitN(cond, " IN ", 2)
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		current := strVal(item[attr])
		list := strings.Trim(strings.TrimSpace(parts[1]), "()")
		for _, ref := range strings.Split(list, ",") {
			if strVal(vals[strings.TrimSpace(ref)]) == current {
				return true
			}
		}
		return false
	}
	parts := strings.SplitN(cond, "=", 2)
	attr := resolveName(strings.TrimSpace(parts[0]), names)
	ref := strings.TrimSpace(parts[1])
	return strVal(item[attr]) == strVal(vals[ref])
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	k, err := m.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][k]
	if !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil {
		if !checkCondition(*params.ConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	// apply "SET a = :x, b = :y" assignments
	expr := strings.TrimPrefix(*params.UpdateExpression, "SET ")
	for _, assign := range strings.Split(expr, ",") {
		parts := strings.SplitN(assign, "=", 2)
		attr := resolveName(strings.TrimSpace(parts[0]), params.ExpressionAttributeNames)
		ref := strings.TrimSpace(parts[1])
		if v, ok := params.ExpressionAttributeValues[ref]; ok {
			item[attr] = v
		}
	}
	m.tables[table][k] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := m.tables[*params.TableName]
	vals := params.ExpressionAttributeValues

	var matched []map[string]types.AttributeValue
	switch *params.IndexName {
	case providerRefIndex:
		want := strVal(vals[":pr"])
		for _, item := range table {
			if strVal(item["provider_ref"]) == want {
				matched = append(matched, item)
			}
		}
	case restaurantIndex:
		want := strVal(vals[":rid"])
		for _, item := range table {
			if strVal(item["restaurant_id"]) != want {
				continue
			}
			if params.FilterExpression != nil {
				f := *params.FilterExpression
				if strings.Contains(f, ":status") && strVal(item["status"]) != strVal(vals[":status"]) {
					continue
				}
				if strings.Contains(f, ":oid") && strVal(item["order_id"]) != strVal(vals[":oid"]) {
					continue
				}
			}
			matched = append(matched, item)
		}
		desc := params.ScanIndexForward != nil && !*params.ScanIndexForward
		sort.Slice(matched, func(i, j int) bool {
			a, b := strVal(matched[i]["created_at"]), strVal(matched[j]["created_at"])
			if desc {
				return a > b
			}
			return a < b
		})
	default:
		return nil, errors.New("unknown index " + *params.IndexName)
	}

	if params.Limit != nil && len(matched) > int(*params.Limit) {
		matched = matched[:int(*params.Limit)]
	}
	return &dyn.QueryOutput{Items: matched}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("unexpected TransactWriteItems in fiscal tests")
}
