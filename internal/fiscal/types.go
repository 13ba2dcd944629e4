package fiscal

import "time"

// Receipt statuses. A receipt only ever moves forward:
// pending -> processing -> done | fail. Terminal rows are immutable; the
// only way out of fail is a retry, which creates a new receipt row.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFail       = "fail"
)

// Fiscal operations.
const (
	OperationSell       = "sell"
	OperationSellRefund = "sell_refund"
)

// Item is one receipt line entry.
type Item struct {
	Name     string  `dynamodbav:"name" json:"name"`
	Quantity int     `dynamodbav:"quantity" json:"quantity"`
	Price    float64 `dynamodbav:"price" json:"price"`
}

// Payment is one tender on the receipt.
type Payment struct {
	Method string  `dynamodbav:"method" json:"method"`
	Sum    float64 `dynamodbav:"sum" json:"sum"`
}

// DocumentFields are the registrar-assigned fiscal document attributes,
// populated only when a receipt reaches done.
type DocumentFields struct {
	FiscalDocumentNumber    int64   `dynamodbav:"fiscal_document_number,omitempty" json:"fiscal_document_number,omitempty"`
	FiscalDocumentAttribute int64   `dynamodbav:"fiscal_document_attribute,omitempty" json:"fiscal_document_attribute,omitempty"`
	FNNumber                string  `dynamodbav:"fn_number,omitempty" json:"fn_number,omitempty"`
	ShiftNumber             int     `dynamodbav:"shift_number,omitempty" json:"shift_number,omitempty"`
	ReceiptDatetime         string  `dynamodbav:"receipt_datetime,omitempty" json:"receipt_datetime,omitempty"`
	OFDSum                  float64 `dynamodbav:"ofd_sum,omitempty" json:"ofd_sum,omitempty"`
}

// Receipt is one registration attempt for an (order, operation) pair.
// ExternalID is the idempotency token presented to the gateway; it is
// generated fresh for every attempt and never reused, so a retried
// submission can never double-register at the registrar.
type Receipt struct {
	ReceiptID    string `dynamodbav:"receipt_id" json:"receipt_id"` // PK
	RestaurantID string `dynamodbav:"restaurant_id" json:"restaurant_id"`
	OrderID      string `dynamodbav:"order_id" json:"order_id"`
	Operation    string `dynamodbav:"operation" json:"operation"`
	ExternalID   string `dynamodbav:"external_id" json:"external_id"`
	ProviderRef  string `dynamodbav:"provider_ref,omitempty" json:"provider_ref,omitempty"`
	Status       string `dynamodbav:"status" json:"status"`

	Total    float64   `dynamodbav:"total" json:"total"`
	Items    []Item    `dynamodbav:"items,omitempty" json:"items,omitempty"`
	Payments []Payment `dynamodbav:"payments,omitempty" json:"payments,omitempty"`

	DocumentFields

	ErrorMessage     string `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	CallbackResponse string `dynamodbav:"callback_response,omitempty" json:"callback_response,omitempty"`

	CustomerEmail string `dynamodbav:"customer_email,omitempty" json:"customer_email,omitempty"`
	CustomerPhone string `dynamodbav:"customer_phone,omitempty" json:"customer_phone,omitempty"`

	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Terminal reports whether the receipt is in a final state.
func (r *Receipt) Terminal() bool {
	return r.Status == StatusDone || r.Status == StatusFail
}
