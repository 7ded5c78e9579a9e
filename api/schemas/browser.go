package schemas

import (
	"context"
)

// -- Browser Event Schemas --

// BodyFunc retrieves the body of a network response. It may block until the
// response has finished loading and fails when the body is not retrievable
// (redirect hop, aborted connection, evicted from the browser's buffer).
type BodyFunc func(ctx context.Context) ([]byte, error)

// NetworkResponse is a single response observed on the browser's network stream.
type NetworkResponse struct {
	URL         string
	ContentType string
	Status      int64
	Body        BodyFunc
}

// ResponseHandler consumes network responses. Implementations must not block:
// handlers are invoked on the browser's event dispatch path.
type ResponseHandler func(resp NetworkResponse)
