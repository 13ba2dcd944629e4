package fiscal

import "context"

// GatewayConfig is the provider configuration passed to the concrete
// adapter at construction. The engine itself only consults Enabled/TestMode
// through the adapter's capability methods.
type GatewayConfig struct {
	Enabled     bool
	TestMode    bool
	GroupCode   string
	CompanyINN  string
	CompanyName string
}

// SubmitRequest is the normalized registration request handed to the
// gateway. ExternalID is the at-most-once token: resubmitting the same
// ExternalID must not register a second document at the provider.
type SubmitRequest struct {
	ExternalID   string
	RestaurantID string
	Total        float64
	Items        []Item
	Payments     []Payment
	Contact      string // customer email or phone for the receipt copy
}

// SubmitAck is the provider's acceptance of a submission.
type SubmitAck struct {
	ProviderRef string // gateway-assigned tracking id
	Raw         string // raw provider response
}

// Resolution statuses reported by polls and callbacks. "wait" means the
// provider has not resolved the document yet.
const (
	ResolutionWait = "wait"
	ResolutionDone = "done"
	ResolutionFail = "fail"
)

// StatusResult is the outcome of polling the provider for a submission.
type StatusResult struct {
	Status       string // wait | done | fail
	Document     *DocumentFields
	ErrorMessage string
	Raw          string
}

// CallbackResult is a provider webhook decoded into the same shape, plus
// the tracking id used to correlate it to a receipt.
type CallbackResult struct {
	ProviderRef  string
	Status       string // wait | done | fail
	Document     *DocumentFields
	ErrorMessage string
	Raw          string
}

// Gateway is the capability set of the concrete fiscal-provider client. The
// engine consumes it and never implements it; unit tests satisfy it with a
// scripted double, production wires an HTTP client. Every call may fail and
// the engine treats any error as a submission failure to record, never to
// re-throw — retries are explicit and caller-initiated.
type Gateway interface {
	Sell(ctx context.Context, req SubmitRequest) (*SubmitAck, error)
	SellRefund(ctx context.Context, req SubmitRequest) (*SubmitAck, error)
	CheckStatus(ctx context.Context, providerRef string) (*StatusResult, error)
	ParseCallback(payload map[string]interface{}) (*CallbackResult, error)
	IsEnabled() bool
	Token() (string, bool)
}
