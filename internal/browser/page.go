// Package browser drives NotebookLM pages over the Chrome DevTools Protocol.
//
// The Page interface addresses elements by selector and index so higher
// layers (answer waiting, citation extraction, login) stay independent of
// chromedp and can be tested against an in-memory fake. Selectors prefixed
// with "xpath=" are evaluated as XPath expressions; everything else is a CSS
// selector.
package browser

import "context"

// Cookie is one browser cookie. Expires is a unix timestamp in seconds; -1
// marks a session cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  float64
	HTTPOnly bool
	Secure   bool
	SameSite string
}

// Page is the element-level surface the automation layers build on.
type Page interface {
	// Navigate loads url and waits for the document body to appear.
	Navigate(ctx context.Context, url string) error

	// Location returns the current page URL.
	Location(ctx context.Context) (string, error)

	// WaitVisible blocks until the first match for sel is visible.
	WaitVisible(ctx context.Context, sel string) error

	// Count returns how many elements match sel.
	Count(ctx context.Context, sel string) (int, error)

	// Text returns the trimmed innerText of match idx of sel. A missing
	// element is an error; empty text is not.
	Text(ctx context.Context, sel string, idx int) (string, error)

	// Visible reports whether match idx of sel exists and is rendered.
	Visible(ctx context.Context, sel string, idx int) (bool, error)

	// Attribute returns the named attribute of match idx of sel. The second
	// return is false when the attribute is absent.
	Attribute(ctx context.Context, sel string, idx int, name string) (string, bool, error)

	// Click clicks the first match of sel.
	Click(ctx context.Context, sel string) error

	// Type focuses the first match of sel and types text with human pacing.
	Type(ctx context.Context, sel, text string) error

	// Hover moves the pointer over the center of match idx of sel.
	Hover(ctx context.Context, sel string, idx int) error

	// MoveMouse moves the pointer to absolute viewport coordinates, used to
	// dismiss hover popovers.
	MoveMouse(ctx context.Context, x, y float64) error

	// Evaluate runs a JavaScript expression and decodes the result into out.
	// Pass nil to discard the result.
	Evaluate(ctx context.Context, expr string, out any) error

	// Cookies returns the browser's cookies for the current page.
	Cookies(ctx context.Context) ([]Cookie, error)

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}
