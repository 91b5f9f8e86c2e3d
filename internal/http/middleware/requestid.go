package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the standard header name used to propagate request IDs.
	RequestIDHeader = "X-Request-ID"
	// CorrelationIDHeader is the id the editor attaches to every WOPI call.
	CorrelationIDHeader = "X-WOPI-CorrelationID"
	// RequestIDLocalKey is the key used to store the request ID in Fiber's context locals.
	RequestIDLocalKey = "request_id"
)

// RequestID ensures every request has a request ID. It takes X-Request-ID,
// then the editor's X-WOPI-CorrelationID, and generates a UUID otherwise.
// The value is stored under RequestIDLocalKey and echoed in X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = c.Get(CorrelationIDHeader)
		}
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}
