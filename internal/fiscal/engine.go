package fiscal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/restobook/fiscalflow/internal/aws"
	"github.com/restobook/fiscalflow/internal/cashops"
	"github.com/restobook/fiscalflow/internal/orders"
)

// Customer contact is bounded; anything longer is rejected before the
// gateway ever sees it.
const maxContactLength = 100

// ReconcileQueuer enqueues reconcile messages for processing receipts.
// Satisfied by *aws.Publisher.
type ReconcileQueuer interface {
	PublishReconcile(ctx context.Context, msg aws.ReconcileMessage) error
}

// MetricsRecorder records receipt lifecycle events. Satisfied by
// *aws.Metrics.
type MetricsRecorder interface {
	RecordReceiptEvent(ctx context.Context, metric, restaurantID, operation string)
}

// Deps groups the engine's collaborators. Queue and Metrics are optional;
// when nil the engine skips reconcile enqueues and metric publishing.
type Deps struct {
	Receipts *Store
	Orders   *orders.Store
	Cash     *cashops.Store
	Gateway  Gateway
	Config   GatewayConfig
	Queue    ReconcileQueuer
	Metrics  MetricsRecorder
}

// Engine owns the fiscal receipt state machine. It submits registrations to
// the gateway, applies callback/poll resolutions idempotently, and performs
// the refund side effects. It never retries a gateway call internally:
// every retry is an explicit caller action that spawns a new receipt row.
type Engine struct {
	receipts *Store
	orders   *orders.Store
	cash     *cashops.Store
	gateway  Gateway
	config   GatewayConfig
	queue    ReconcileQueuer
	metrics  MetricsRecorder
	nowFunc  func() time.Time
}

// NewEngine wires an Engine from its dependencies.
func NewEngine(d Deps) *Engine {
	return &Engine{
		receipts: d.Receipts,
		orders:   d.Orders,
		cash:     d.Cash,
		gateway:  d.Gateway,
		config:   d.Config,
		queue:    d.Queue,
		metrics:  d.Metrics,
		nowFunc:  time.Now,
	}
}

// Submit validates eligibility, creates a pending receipt with a fresh
// external id, and synchronously submits it to the gateway. Gateway
// acceptance advances the receipt to processing; rejection or a transport
// failure resolves it to fail with the diagnostics recorded. A gateway
// failure is never returned as an error — the fail receipt is the result,
// and the caller recovers via an explicit retry.
func (e *Engine) Submit(ctx context.Context, order *orders.Order, operation, contact string) (*Receipt, error) {
	if order == nil {
		return nil, ErrNotFound
	}
	switch operation {
	case OperationSell, OperationSellRefund:
	default:
		return nil, &ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown operation %q", operation)}
	}
	if err := e.checkEligibility(order, operation); err != nil {
		return nil, err
	}
	return e.submit(ctx, order, operation, contact)
}

// submit is Submit past the eligibility guard. Retry of a failed refund
// enters here directly: by then the order is already refunded, which the
// guard would wrongly reject.
func (e *Engine) submit(ctx context.Context, order *orders.Order, operation, contact string) (*Receipt, error) {
	if contact == "" {
		contact = order.Phone
	}
	if len(contact) > maxContactLength {
		return nil, &ValidationError{Field: "customer_contact", Reason: fmt.Sprintf("must be at most %d characters", maxContactLength)}
	}

	items := make([]Item, 0, len(order.Lines))
	for _, l := range order.Lines {
		items = append(items, Item{Name: l.Name, Quantity: l.Quantity, Price: l.Price})
	}

	receipt := Receipt{
		ReceiptID:    uuid.NewString(),
		RestaurantID: order.RestaurantID,
		OrderID:      order.OrderID,
		Operation:    operation,
		ExternalID:   uuid.NewString(), // fresh per attempt, never reused
		Status:       StatusPending,
		Total:        order.Total,
		Items:        items,
		Payments:     []Payment{{Method: order.PaymentMethod, Sum: order.Total}},
		CreatedAt:    e.nowFunc(),
	}
	if strings.Contains(contact, "@") {
		receipt.CustomerEmail = contact
	} else {
		receipt.CustomerPhone = contact
	}

	if err := e.receipts.Create(ctx, receipt); err != nil {
		return nil, fmt.Errorf("create receipt: %w", err)
	}

	req := SubmitRequest{
		ExternalID:   receipt.ExternalID,
		RestaurantID: receipt.RestaurantID,
		Total:        receipt.Total,
		Items:        receipt.Items,
		Payments:     receipt.Payments,
		Contact:      contact,
	}

	var ack *SubmitAck
	var err error
	// the operation alone decides the gateway method
	switch operation {
	case OperationSell:
		ack, err = e.gateway.Sell(ctx, req)
	case OperationSellRefund:
		ack, err = e.gateway.SellRefund(ctx, req)
	}
	if err != nil {
		raw := ""
		var ge *GatewayError
		if errors.As(err, &ge) {
			raw = ge.Raw
		}
		if markErr := e.receipts.MarkFailed(ctx, receipt.ReceiptID, err.Error(), raw); markErr != nil {
			return nil, fmt.Errorf("record submission failure: %w", markErr)
		}
		receipt.Status = StatusFail
		receipt.ErrorMessage = err.Error()
		receipt.CallbackResponse = raw
		e.record(ctx, aws.MetricReceiptFailed, &receipt)
		log.Printf("[fiscal] submit failed receipt=%s order=%s op=%s: %v", receipt.ReceiptID, order.OrderID, operation, err)
		return &receipt, nil
	}

	if err := e.receipts.MarkProcessing(ctx, receipt.ReceiptID, ack.ProviderRef); err != nil {
		return nil, fmt.Errorf("advance receipt to processing: %w", err)
	}
	receipt.Status = StatusProcessing
	receipt.ProviderRef = ack.ProviderRef
	e.record(ctx, aws.MetricReceiptSubmitted, &receipt)

	if e.queue != nil {
		msg := aws.ReconcileMessage{ReceiptID: receipt.ReceiptID, RestaurantID: receipt.RestaurantID}
		if qErr := e.queue.PublishReconcile(ctx, msg); qErr != nil {
			// the webhook remains the primary resolution path; losing the
			// reconcile message only delays manual polling
			log.Printf("[fiscal] enqueue reconcile failed receipt=%s: %v", receipt.ReceiptID, qErr)
		}
	}

	return &receipt, nil
}

func (e *Engine) checkEligibility(order *orders.Order, operation string) error {
	switch operation {
	case OperationSellRefund:
		if order.PaymentStatus != orders.PaymentStatusPaid {
			return &InvalidStateError{Reason: fmt.Sprintf("order %s is %s, only paid orders can be refunded", order.OrderID, order.PaymentStatus)}
		}
	case OperationSell:
		if order.Total <= 0 {
			return &InvalidStateError{Reason: fmt.Sprintf("order %s has no payable total", order.OrderID)}
		}
		if order.PaymentStatus == orders.PaymentStatusRefunded {
			return &InvalidStateError{Reason: fmt.Sprintf("order %s is refunded", order.OrderID)}
		}
	}
	return nil
}

// MarkAsProcessing is the pure pending -> processing transition, exposed
// for adapters that receive the provider ref out of band.
func (e *Engine) MarkAsProcessing(ctx context.Context, receiptID, providerRef string) error {
	return e.receipts.MarkProcessing(ctx, receiptID, providerRef)
}

// MarkAsDone resolves a receipt to done with its fiscal document fields.
// No-op when the receipt is already terminal.
func (e *Engine) MarkAsDone(ctx context.Context, receiptID string, doc DocumentFields, raw string) error {
	return e.receipts.MarkDone(ctx, receiptID, doc, raw)
}

// MarkAsFailed resolves a receipt to fail with the diagnostic payload.
// No-op when the receipt is already terminal.
func (e *Engine) MarkAsFailed(ctx context.Context, receiptID, message, raw string) error {
	return e.receipts.MarkFailed(ctx, receiptID, message, raw)
}

// CheckStatus polls the gateway for an unresolved receipt and applies the
// outcome. Terminal receipts and pending receipts without a provider ref
// are returned unchanged, so re-checking is always safe.
func (e *Engine) CheckStatus(ctx context.Context, receiptID string) (*Receipt, error) {
	receipt, err := e.receipts.Get(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrNotFound
	}
	if receipt.Terminal() || receipt.ProviderRef == "" {
		return receipt, nil
	}

	result, err := e.gateway.CheckStatus(ctx, receipt.ProviderRef)
	if err != nil {
		// same policy as submission: a provider failure is absorbed into
		// the receipt, not surfaced as a server error
		if markErr := e.receipts.MarkFailed(ctx, receipt.ReceiptID, err.Error(), ""); markErr != nil {
			return nil, fmt.Errorf("record poll failure: %w", markErr)
		}
		e.record(ctx, aws.MetricReceiptFailed, receipt)
		return e.receipts.Get(ctx, receiptID)
	}

	if err := e.applyResolution(ctx, receipt, result.Status, result.Document, result.ErrorMessage, result.Raw); err != nil {
		return nil, err
	}
	return e.receipts.Get(ctx, receiptID)
}

// HandleCallback correlates a provider webhook to a receipt by tracking id
// and applies it idempotently. An unknown tracking id returns (nil, nil)
// and mutates nothing — a stale or malicious callback can never touch an
// unrelated record.
func (e *Engine) HandleCallback(ctx context.Context, payload map[string]interface{}) (*Receipt, error) {
	result, err := e.gateway.ParseCallback(payload)
	if err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}

	receipt, err := e.receipts.GetByProviderRef(ctx, result.ProviderRef)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, nil
	}

	if err := e.applyResolution(ctx, receipt, result.Status, result.Document, result.ErrorMessage, result.Raw); err != nil {
		return nil, err
	}
	return e.receipts.Get(ctx, receipt.ReceiptID)
}

func (e *Engine) applyResolution(ctx context.Context, receipt *Receipt, status string, doc *DocumentFields, errMsg, raw string) error {
	switch status {
	case ResolutionDone:
		fields := DocumentFields{}
		if doc != nil {
			fields = *doc
		}
		if err := e.receipts.MarkDone(ctx, receipt.ReceiptID, fields, raw); err != nil {
			return err
		}
		if !receipt.Terminal() {
			e.record(ctx, aws.MetricReceiptDone, receipt)
		}
	case ResolutionFail:
		if err := e.receipts.MarkFailed(ctx, receipt.ReceiptID, errMsg, raw); err != nil {
			return err
		}
		if !receipt.Terminal() {
			e.record(ctx, aws.MetricReceiptFailed, receipt)
		}
	case ResolutionWait:
		// still unresolved at the provider
	default:
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown resolution status %q", status)}
	}
	return nil
}

// Retry resubmits a failed receipt's (order, operation) pair as a brand-new
// receipt row, preserving the failed attempt for audit. Receipts in any
// other state are rejected.
func (e *Engine) Retry(ctx context.Context, receiptID string) (*Receipt, error) {
	receipt, err := e.receipts.Get(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrNotFound
	}
	if receipt.Status != StatusFail {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("receipt %s is %s, only failed receipts can be retried", receiptID, receipt.Status)}
	}

	order, err := e.orders.Get(ctx, receipt.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}

	contact := receipt.CustomerEmail
	if contact == "" {
		contact = receipt.CustomerPhone
	}

	e.record(ctx, aws.MetricReceiptRetried, receipt)

	// the operation field of the failed receipt alone decides the gateway
	// method; the eligibility guard is skipped because the order state has
	// already moved past it (a refunded order retrying its refund receipt)
	return e.submit(ctx, order, receipt.Operation, contact)
}

// Refund submits a sell_refund for a paid order. Only after the gateway
// accepts the submission does it flip the order to refunded and append the
// single cash ledger entry; an immediate fail receipt produces no side
// effects beyond the receipt itself.
func (e *Engine) Refund(ctx context.Context, orderID, customerContact string) (*Receipt, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if order.PaymentStatus != orders.PaymentStatusPaid {
		return nil, &InvalidStateError{Reason: fmt.Sprintf("order %s is %s, only paid orders can be refunded", orderID, order.PaymentStatus)}
	}
	if len(customerContact) > maxContactLength {
		return nil, &ValidationError{Field: "customer_contact", Reason: fmt.Sprintf("must be at most %d characters", maxContactLength)}
	}

	receipt, err := e.Submit(ctx, order, OperationSellRefund, customerContact)
	if err != nil {
		return nil, err
	}
	if receipt.Status == StatusFail {
		return receipt, nil
	}

	// conditional transition is the race guard: of two refunds that both
	// observed "paid", only the winner emits the ledger entry
	if err := e.orders.UpdatePaymentStatus(ctx, orderID, orders.PaymentStatusPaid, orders.PaymentStatusRefunded); err != nil {
		if errors.Is(err, orders.ErrPaymentStatusMismatch) {
			log.Printf("[fiscal] concurrent refund detected order=%s receipt=%s", orderID, receipt.ReceiptID)
			return receipt, nil
		}
		return nil, fmt.Errorf("mark order refunded: %w", err)
	}

	if _, err := e.cash.AppendRefundExpense(ctx, order.RestaurantID, orderID, order.Total); err != nil {
		// the refund is already registered with the provider; surface the
		// ledger gap in logs rather than failing the whole operation
		log.Printf("[fiscal] cash ledger append failed order=%s: %v", orderID, err)
	}

	return receipt, nil
}

// List returns receipts for a restaurant, newest first.
func (e *Engine) List(ctx context.Context, f ListFilter) ([]Receipt, error) {
	return e.receipts.List(ctx, f)
}

// Get returns a receipt with its order. ErrNotFound when the receipt is
// unknown; the order may be nil if it was since deleted.
func (e *Engine) Get(ctx context.Context, receiptID string) (*Receipt, *orders.Order, error) {
	receipt, err := e.receipts.Get(ctx, receiptID)
	if err != nil {
		return nil, nil, err
	}
	if receipt == nil {
		return nil, nil, ErrNotFound
	}
	order, err := e.orders.Get(ctx, receipt.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return receipt, order, nil
}

// GatewayStatus reports the provider health triple for the status endpoint.
// Token validity is only consulted when the gateway is enabled.
func (e *Engine) GatewayStatus() (enabled, testMode, tokenValid bool) {
	enabled = e.gateway.IsEnabled()
	if enabled {
		_, tokenValid = e.gateway.Token()
	}
	return enabled, e.config.TestMode, tokenValid
}

func (e *Engine) record(ctx context.Context, metric string, r *Receipt) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordReceiptEvent(ctx, metric, r.RestaurantID, r.Operation)
}
