package fiscal

import "context"

// disabledGateway is wired when no fiscal provider is configured. Every
// submission records a fail receipt explaining the misconfiguration instead
// of crashing the API.
type disabledGateway struct{}

// NewDisabledGateway returns a Gateway that rejects every call.
func NewDisabledGateway() Gateway {
	return disabledGateway{}
}

func (disabledGateway) Sell(ctx context.Context, req SubmitRequest) (*SubmitAck, error) {
	return nil, &GatewayError{Message: "fiscal gateway is disabled"}
}

func (disabledGateway) SellRefund(ctx context.Context, req SubmitRequest) (*SubmitAck, error) {
	return nil, &GatewayError{Message: "fiscal gateway is disabled"}
}

func (disabledGateway) CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	return nil, &GatewayError{Message: "fiscal gateway is disabled"}
}

func (disabledGateway) ParseCallback(payload map[string]interface{}) (*CallbackResult, error) {
	return nil, &GatewayError{Message: "fiscal gateway is disabled"}
}

func (disabledGateway) IsEnabled() bool { return false }

func (disabledGateway) Token() (string, bool) { return "", false }
