package executor

import (
	"context"
	"time"
)

// Page is the minimal contract the engine needs from a browser page.
// The concrete implementation (a remote automation client) lives
// outside the engine.
type Page interface {
	// Navigate loads the given URL and returns once navigation settles.
	Navigate(ctx context.Context, url string) error

	// WaitFor blocks until the selector is present or the timeout
	// elapses. A timeout is reported as ErrWaitTimeout.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Click dispatches a click to the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Query returns the first element matching selector, or an error if
	// none is present.
	Query(ctx context.Context, selector string) (Element, error)
}

// Element is a handle to a located DOM element.
type Element interface {
	// Attribute returns the value of the named attribute and whether it
	// is present.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// Text returns the element's inner text.
	Text(ctx context.Context) (string, error)
}
