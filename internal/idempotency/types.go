package idempotency

import "time"

// Record is the cached outcome of the first successful execution of a
// mutating request, persisted in the idempotency DynamoDB table. A record is
// scoped to exactly one API client or one authenticated user; the scope is
// folded into the partition key so a key stored for one client can never be
// read back under another identity.
type Record struct {
	RecordKey      string    `dynamodbav:"record_key"` // PK: "<scope>#<idempotency_key>"
	IdempotencyKey string    `dynamodbav:"idempotency_key"`
	APIClientID    string    `dynamodbav:"api_client_id,omitempty"`
	UserID         string    `dynamodbav:"user_id,omitempty"`
	Method         string    `dynamodbav:"method"`
	Path           string    `dynamodbav:"path"`
	RequestHash    string    `dynamodbav:"request_hash"`
	StatusCode     int       `dynamodbav:"status_code"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"` // small responses only; else use S3 pointer
	CreatedAt      time.Time `dynamodbav:"created_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
