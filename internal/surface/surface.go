// Package surface defines the UI automation contract the session core consumes.
// The core never talks to a browser driver directly: element lookup, interaction,
// scripted value injection and network observation all go through these interfaces,
// which keeps the workflow testable against an in-memory fake.
package surface

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a locator matches no element.
	ErrNotFound = errors.New("surface: element not found")
	// ErrStale is returned when an element handle no longer refers to a live node,
	// typically because the UI re-rendered it.
	ErrStale = errors.New("surface: stale element handle")
	// ErrIntercepted is returned when a direct click would land on another element
	// (an overlay, a toast, a modal backdrop).
	ErrIntercepted = errors.New("surface: click intercepted")
	// ErrNotInteractable is returned when the element refuses direct interaction
	// (zero-size box, hidden, detached from layout).
	ErrNotInteractable = errors.New("surface: element not interactable")
)

// Strategy selects the query language of a Locator.
type Strategy int

const (
	ByCSS Strategy = iota
	ByXPath
)

func (s Strategy) String() string {
	if s == ByXPath {
		return "xpath"
	}
	return "css"
}

// Locator identifies elements on the page. It is the only durable way to refer to
// UI state; Element handles are short lived.
type Locator struct {
	Strategy Strategy
	Value    string
}

// CSS builds a CSS selector locator.
func CSS(sel string) Locator { return Locator{Strategy: ByCSS, Value: sel} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Value: expr} }

// ParseLocator converts a configuration string into a Locator. Explicit "css:" and
// "xpath:" prefixes win; otherwise expressions starting with "/" or "(" are XPath.
func ParseLocator(raw string) Locator {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "xpath:"):
		return XPath(strings.TrimSpace(strings.TrimPrefix(raw, "xpath:")))
	case strings.HasPrefix(raw, "css:"):
		return CSS(strings.TrimSpace(strings.TrimPrefix(raw, "css:")))
	case strings.HasPrefix(raw, "/"), strings.HasPrefix(raw, "("):
		return XPath(raw)
	default:
		return CSS(raw)
	}
}

// IsZero reports whether the locator is unset.
func (l Locator) IsZero() bool { return l.Value == "" }

func (l Locator) String() string { return l.Strategy.String() + ":" + l.Value }

// Element is a non-cacheable handle to a node resolved from a Locator. Any mutating
// action may invalidate it; operations on an invalidated handle return ErrStale.
type Element struct {
	ID int64
}

// PayloadKind classifies an observed traffic payload.
type PayloadKind string

const (
	WebSocketReceived PayloadKind = "ws-received"
	WebSocketSent     PayloadKind = "ws-sent"
	XHRResponse       PayloadKind = "xhr-response"
	EventSourceData   PayloadKind = "event-source"
)

// Payload is one unit of observed network traffic.
type Payload struct {
	Kind PayloadKind
	URL  string
	Body string
	At   time.Time
}

// TrafficObserver exposes the network side channel. ObserveTraffic returns the
// payloads captured since the previous call and clears them.
type TrafficObserver interface {
	ObserveTraffic(ctx context.Context) ([]Payload, error)
}

// Surface is the set of UI operations the session core relies on.
type Surface interface {
	TrafficObserver

	Navigate(ctx context.Context, url string) error
	FindElement(ctx context.Context, loc Locator) (Element, error)
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// FindWithin resolves a CSS selector relative to parent.
	FindWithin(ctx context.Context, parent Element, css string) ([]Element, error)

	Click(ctx context.Context, el Element) error
	ForceClick(ctx context.Context, el Element) error
	Type(ctx context.Context, el Element, text string) error
	PressEnter(ctx context.Context, el Element) error
	PressEscape(ctx context.Context) error
	ScrollIntoView(ctx context.Context, el Element) error
	// InjectValueAndEvents sets the value (or innerText for rich-text fields) and
	// dispatches synthetic input and keyup events.
	InjectValueAndEvents(ctx context.Context, el Element, text string) error
	// ClearValue empties a plain or rich-text field.
	ClearValue(ctx context.Context, el Element) error

	Attribute(ctx context.Context, el Element, name string) (string, bool, error)
	Text(ctx context.Context, el Element) (string, error)
	OuterHTML(ctx context.Context, el Element) (string, error)
	Visible(ctx context.Context, el Element) (bool, error)
}

// Page is an isolated browsing context. It shares no cookies, storage or traffic
// log with any other Page.
type Page interface {
	Surface
	ID() string
}

// Browser creates and destroys isolated contexts.
type Browser interface {
	NewIsolatedContext(ctx context.Context) (Page, error)
	CloseContext(ctx context.Context, page Page) error
}
