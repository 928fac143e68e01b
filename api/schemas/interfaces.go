// File: api/schemas/interfaces.go
package schemas

import "context"

// SessionContext is the contract for a single instrumented browser tab. The
// driver and orchestrator depend on this interface, never on chromedp
// directly, which keeps them testable with fakes.
type SessionContext interface {
	// ID returns the unique identifier for this session.
	ID() string

	// Navigate loads a URL and waits for the document to become ready.
	// Exceeding the page-load timeout is run-fatal.
	Navigate(ctx context.Context, url string) error

	// EnsureCapture verifies the capture shim has attached to the page's
	// analytics queue, polling within the configured retry budget. A missing
	// queue after the budget returns an error the caller records as a
	// run-level warning, never as a fatal failure.
	EnsureCapture(ctx context.Context) error

	// DrainCaptured reads the in-page capture buffer without clearing it.
	// Safe to call repeatedly; later calls return a superset.
	DrainCaptured(ctx context.Context) ([]CapturedEvent, error)

	// Click dispatches a click on the element identified by selector and
	// waits for it to be visible and enabled first.
	Click(ctx context.Context, selector string) error

	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// result into out.
	Evaluate(ctx context.Context, expr string, out any) error

	// PageContainerIDs harvests tag-manager container ids visible in the
	// page context (script tags, globals).
	PageContainerIDs(ctx context.Context) ([]string, error)

	// Close terminates the tab and releases its resources.
	Close(ctx context.Context) error
}

// Locator resolves a logical element descriptor to a concrete selector.
type Locator interface {
	// Locate runs the strategy chain and returns a unique CSS selector for
	// the one visible, interactable element matching the descriptor. When
	// every strategy is exhausted it returns an error carrying the
	// attempted-strategy trace.
	Locate(ctx context.Context, d Descriptor) (string, error)
}

// Reporter renders a finished ValidationRun. Implementations hold no
// validation logic and never see pre-match capture data.
type Reporter interface {
	Write(run *ValidationRun) error
	Close() error
}
