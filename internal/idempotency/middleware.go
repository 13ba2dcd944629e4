package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Request headers consumed by the middleware. Exactly one of the scope
// headers must accompany the key for caching to apply; auth (out of band)
// is expected to have validated them already.
const (
	HeaderKey         = "Idempotency-Key"
	HeaderAPIClientID = "X-Api-Client-Id"
	HeaderUserID      = "X-User-Id"
)

// Middleware gives at-most-once semantics to mutating endpoints. A replayed
// (scope, key) pair returns the originally cached response without
// re-executing; reusing a key with a different request body is rejected,
// since serving the cached response for different content would silently
// drop the new request.
func Middleware(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !mutating(c.Request.Method) {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderKey)
		apiClientID := c.GetHeader(HeaderAPIClientID)
		userID := c.GetHeader(HeaderUserID)
		if key == "" || (apiClientID == "" && userID == "") {
			// nothing to scope the cache to; execute normally
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		reqHash := hashRequest(c.Request.Method, c.Request.URL.Path, body)

		ctx := c.Request.Context()
		rec, err := store.FindForClient(ctx, apiClientID, userID, key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "idempotency_lookup_failed", "detail": err.Error()})
			return
		}
		if rec != nil {
			if rec.RequestHash != reqHash {
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
					"error": "idempotency_key_reuse_mismatch",
					"msg":   "idempotency key was already used with a different request body",
				})
				return
			}
			c.Data(rec.StatusCode, "application/json", []byte(rec.ResponseBody))
			c.Abort()
			return
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			// only the first successful execution is cached; failures stay
			// retryable
			return
		}

		_, err = store.Store(ctx, StoreParams{
			Key:          key,
			APIClientID:  apiClientID,
			UserID:       userID,
			Method:       c.Request.Method,
			Path:         c.Request.URL.Path,
			RequestHash:  reqHash,
			StatusCode:   status,
			ResponseBody: cw.buf.String(),
		})
		if err != nil {
			// ErrMissingScope cannot happen here (scope checked above); a
			// store failure just means the next replay re-executes
			log.Printf("[idempotency] store failed for key=%s: %v", key, err)
		}
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// captureWriter tees the response body so it can be cached after the handler
// runs.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
