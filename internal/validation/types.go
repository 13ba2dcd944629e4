package validation

// RefundRequest is the payload for POST /fiscal/orders/{orderId}/refund.
// CustomerContact is optional; when omitted the receipt copy goes to the
// phone stored on the order.
type RefundRequest struct {
	CustomerContact string `json:"customer_contact,omitempty" validate:"omitempty,max=100"` // email or phone
}

// ListReceiptsQuery is the query-string shape for GET /fiscal.
type ListReceiptsQuery struct {
	RestaurantID string `form:"restaurant_id" validate:"required"`
	Status       string `form:"status" validate:"omitempty,oneof=pending processing done fail"`
	OrderID      string `form:"order_id"`
	Limit        int    `form:"limit" validate:"omitempty,min=1,max=200"`
}
