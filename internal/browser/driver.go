// Package browser adapts the external automation capability (Playwright)
// behind a narrow interface the session and command layers depend on.
package browser

import (
	"context"

	"github.com/cloudpeek/browsergrid/pkg/models"
)

// ContextOptions parameterizes a fresh isolated browsing context.
type ContextOptions struct {
	Proxy       *models.ProxyConfig
	RecordVideo bool
	VideoDir    string
	VideoWidth  int
	VideoHeight int
}

// Driver opens isolated browsing contexts. One driver is shared by all
// sessions; each context is exclusively owned by a single session.
type Driver interface {
	OpenContext(ctx context.Context, opts ContextOptions) (AutomationContext, error)
	Close() error
}

// AutomationContext is an isolated browser profile with its own cookies,
// storage, and navigation state, carrying exactly one addressable target.
type AutomationContext interface {
	// Target returns the context's live page. Errors if none exists.
	Target() (Target, error)
	// Close tears the context down. For recording contexts the capture
	// flushes on close, so VideoPath is only meaningful afterwards.
	Close() error
	// VideoPath returns the location of the flushed capture, if any.
	VideoPath() (string, error)
}

// Cookie is the wire-agnostic cookie shape used by the cookie commands.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	URL    string `json:"url,omitempty"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Target is the page-like addressable target command handlers run against.
// Each method is a near-literal pass-through to the automation library.
// Timeouts are in milliseconds, matching the library's convention.
type Target interface {
	Navigate(url string, timeoutMs float64) (string, error)
	Click(selector string, timeoutMs float64) error
	Fill(selector, value string, timeoutMs float64) error
	Extract(selector string) (string, error)
	Screenshot(fullPage bool) ([]byte, error)
	Cookies(urls ...string) (any, error)
	SetCookies(cookies []Cookie) error
	SetHeaders(headers map[string]string) error
	Evaluate(expression string) (any, error)
	WaitFor(selector, state string, timeoutMs float64) error
}
