package orders

import "time"

// Payment statuses
const (
	PaymentStatusUnpaid   = "unpaid"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
)

// Payment methods
const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// Line is a single purchasable position on an order.
type Line struct {
	Name     string  `dynamodbav:"name" json:"name"`
	Quantity int     `dynamodbav:"quantity" json:"quantity"`
	Price    float64 `dynamodbav:"price" json:"price"`
}

// Order is the back-office order the fiscal engine registers receipts for.
// The engine never creates orders; it only reads them and flips
// payment_status paid -> refunded after a successful refund submission.
type Order struct {
	OrderID       string    `dynamodbav:"order_id" json:"order_id"` // PK
	RestaurantID  string    `dynamodbav:"restaurant_id" json:"restaurant_id"`
	Total         float64   `dynamodbav:"total" json:"total"`
	PaymentStatus string    `dynamodbav:"payment_status" json:"payment_status"`
	PaymentMethod string    `dynamodbav:"payment_method" json:"payment_method"`
	Phone         string    `dynamodbav:"phone,omitempty" json:"phone,omitempty"`
	Email         string    `dynamodbav:"email,omitempty" json:"email,omitempty"`
	Lines         []Line    `dynamodbav:"lines,omitempty" json:"lines,omitempty"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
