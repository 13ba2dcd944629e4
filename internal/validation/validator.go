package validation

import (
	"strings"
	"unicode"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// a customer contact must be deliverable: either an email-looking
	// string or a phone-looking string
	v.RegisterStructValidation(refundRequestStructValidation, RefundRequest{})

	return v
}

func refundRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(RefundRequest)
	if req.CustomerContact == "" {
		return
	}
	if !looksLikeEmail(req.CustomerContact) && !looksLikePhone(req.CustomerContact) {
		sl.ReportError(req.CustomerContact, "customer_contact", "CustomerContact", "contact_shape", "must be an email or a phone number")
	}
}

func looksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}

func looksLikePhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 5
}
