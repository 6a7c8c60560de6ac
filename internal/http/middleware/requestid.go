package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID on requests and responses.
	RequestIDHeader = "X-Request-ID"
	// ClientRequestIDHeader is the correlation header OData clients send; it is echoed back unchanged.
	ClientRequestIDHeader = "client-request-id"
	// RequestIDLocalKey is the fiber locals key holding the request ID.
	RequestIDLocalKey = "request_id"

	maxRequestIDLen = 128
)

// RequestID assigns every request an ID. A caller supplied X-Request-ID, or else
// client-request-id, is kept when it is a short printable token; otherwise a UUID is generated.
// The ID ends up in the logs, in OData error bodies and in the X-Request-ID response header.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := c.Get(ClientRequestIDHeader)
		id := c.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = clientID
		}
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)
		if validRequestID(clientID) {
			c.Set(ClientRequestIDHeader, clientID)
		}
		return c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
