// Package surfacetest provides an in-memory surface.Page for exercising the session
// core without a browser. Nodes are registered under locators, carry attributes,
// text and visibility, and may run behaviours when clicked or submitted.
package surfacetest

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// Node is a fake DOM element.
type Node struct {
	Name  string
	Tag   string
	Attrs map[string]string
	Text  string
	Value string

	Hidden    bool
	Detached  bool
	Intercept bool

	// Children are rendered into OuterHTML.
	Children []*Node
	// Match lists the CSS selectors FindWithin resolves to this node.
	Match []string

	OnClick func(f *Fake, n *Node)
	OnEnter func(f *Fake, n *Node)
	OnInput func(f *Fake, n *Node)

	id int64
}

// NewNode builds a node with the given name, tag and attributes.
func NewNode(name, tag string, attrs map[string]string) *Node {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Node{Name: name, Tag: tag, Attrs: attrs}
}

// HasClass reports whether the class attribute contains c.
func (n *Node) HasClass(c string) bool {
	for _, existing := range strings.Fields(n.Attrs["class"]) {
		if existing == c {
			return true
		}
	}
	return false
}

// AddClass appends c to the class attribute.
func (n *Node) AddClass(c string) {
	if n.HasClass(c) {
		return
	}
	n.Attrs["class"] = strings.TrimSpace(n.Attrs["class"] + " " + c)
}

// RemoveClass drops c from the class attribute.
func (n *Node) RemoveClass(c string) {
	var kept []string
	for _, existing := range strings.Fields(n.Attrs["class"]) {
		if existing != c {
			kept = append(kept, existing)
		}
	}
	n.Attrs["class"] = strings.Join(kept, " ")
}

// Fake implements surface.Page.
type Fake struct {
	mu sync.Mutex

	id     string
	nextID int64
	nodes  map[int64]*Node
	locs   map[surface.Locator][]*Node

	traffic    []surface.Payload
	observeErr error

	clicks      map[string]int
	forceClicks map[string]int
	enters      map[string]int
	navigated   []string
	escapes     int
}

var _ surface.Page = (*Fake)(nil)

// New returns an empty fake page.
func New(id string) *Fake {
	return &Fake{
		id:          id,
		nodes:       make(map[int64]*Node),
		locs:        make(map[surface.Locator][]*Node),
		clicks:      make(map[string]int),
		forceClicks: make(map[string]int),
		enters:      make(map[string]int),
	}
}

func (f *Fake) ID() string { return f.id }

// Add registers nodes under loc, in document order.
func (f *Fake) Add(loc surface.Locator, nodes ...*Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range nodes {
		f.register(n)
	}
	f.locs[loc] = append(f.locs[loc], nodes...)
}

// Set replaces the nodes registered under loc.
func (f *Fake) Set(loc surface.Locator, nodes ...*Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range nodes {
		f.register(n)
	}
	f.locs[loc] = append([]*Node(nil), nodes...)
}

func (f *Fake) register(n *Node) {
	if n.id == 0 {
		f.nextID++
		n.id = f.nextID
		f.nodes[n.id] = n
	}
	for _, c := range n.Children {
		f.register(c)
	}
}

// Emit appends a payload to the traffic log.
func (f *Fake) Emit(kind surface.PayloadKind, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traffic = append(f.traffic, surface.Payload{Kind: kind, Body: body, At: time.Now()})
}

// FailObservation makes ObserveTraffic return err until cleared with nil.
func (f *Fake) FailObservation(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observeErr = err
}

// Clicks counts direct and forced clicks on the named node.
func (f *Fake) Clicks(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clicks[name] + f.forceClicks[name]
}

// ForceClicks counts script-level clicks on the named node.
func (f *Fake) ForceClicks(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceClicks[name]
}

// Enters counts Enter presses on the named node.
func (f *Fake) Enters(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enters[name]
}

// Escapes counts PressEscape calls.
func (f *Fake) Escapes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.escapes
}

// Navigated returns the URLs passed to Navigate.
func (f *Fake) Navigated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigated...)
}

func (f *Fake) node(el surface.Element) (*Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[el.ID]
	if !ok || n.Detached {
		return nil, surface.ErrStale
	}
	return n, nil
}

func (f *Fake) ObserveTraffic(ctx context.Context) ([]surface.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observeErr != nil {
		return nil, f.observeErr
	}
	out := f.traffic
	f.traffic = nil
	return out, nil
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigated = append(f.navigated, url)
	return nil
}

func (f *Fake) FindElement(ctx context.Context, loc surface.Locator) (surface.Element, error) {
	all, _ := f.FindAll(ctx, loc)
	if len(all) == 0 {
		return surface.Element{}, fmt.Errorf("%w: %s", surface.ErrNotFound, loc)
	}
	return all[0], nil
}

func (f *Fake) FindAll(ctx context.Context, loc surface.Locator) ([]surface.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []surface.Element
	for _, n := range f.locs[loc] {
		if !n.Detached {
			out = append(out, surface.Element{ID: n.id})
		}
	}
	return out, nil
}

func (f *Fake) FindWithin(ctx context.Context, parent surface.Element, css string) ([]surface.Element, error) {
	p, err := f.node(parent)
	if err != nil {
		return nil, err
	}
	var out []surface.Element
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if c.Detached {
				continue
			}
			for _, m := range c.Match {
				if m == css {
					out = append(out, surface.Element{ID: c.id})
					break
				}
			}
			walk(c)
		}
	}
	f.mu.Lock()
	walk(p)
	f.mu.Unlock()
	return out, nil
}

func (f *Fake) Click(ctx context.Context, el surface.Element) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	switch {
	case n.Hidden:
		return surface.ErrNotInteractable
	case n.Intercept:
		return surface.ErrIntercepted
	}
	f.mu.Lock()
	f.clicks[n.Name]++
	f.mu.Unlock()
	if n.OnClick != nil {
		n.OnClick(f, n)
	}
	return nil
}

func (f *Fake) ForceClick(ctx context.Context, el surface.Element) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.forceClicks[n.Name]++
	f.mu.Unlock()
	if n.OnClick != nil {
		n.OnClick(f, n)
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, el surface.Element, text string) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	n.Value += text
	if n.OnInput != nil {
		n.OnInput(f, n)
	}
	return nil
}

func (f *Fake) PressEnter(ctx context.Context, el surface.Element) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.enters[n.Name]++
	f.mu.Unlock()
	if n.OnEnter != nil {
		n.OnEnter(f, n)
	}
	return nil
}

func (f *Fake) PressEscape(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escapes++
	return nil
}

func (f *Fake) ScrollIntoView(ctx context.Context, el surface.Element) error {
	_, err := f.node(el)
	return err
}

func (f *Fake) InjectValueAndEvents(ctx context.Context, el surface.Element, text string) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	n.Value = text
	if n.OnInput != nil {
		n.OnInput(f, n)
	}
	return nil
}

func (f *Fake) ClearValue(ctx context.Context, el surface.Element) error {
	n, err := f.node(el)
	if err != nil {
		return err
	}
	n.Value = ""
	return nil
}

func (f *Fake) Attribute(ctx context.Context, el surface.Element, name string) (string, bool, error) {
	n, err := f.node(el)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attrs[name]
	return v, ok, nil
}

func (f *Fake) Text(ctx context.Context, el surface.Element) (string, error) {
	n, err := f.node(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (f *Fake) OuterHTML(ctx context.Context, el surface.Element) (string, error) {
	n, err := f.node(el)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	render(&b, n)
	return b.String(), nil
}

func (f *Fake) Visible(ctx context.Context, el surface.Element) (bool, error) {
	n, err := f.node(el)
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

func render(b *strings.Builder, n *Node) {
	tag := n.Tag
	if tag == "" {
		tag = "div"
	}
	b.WriteString("<" + tag)
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, ` %s="%s"`, k, html.EscapeString(n.Attrs[k]))
	}
	b.WriteString(">")
	b.WriteString(html.EscapeString(n.Text))
	for _, c := range n.Children {
		if !c.Detached {
			render(b, c)
		}
	}
	b.WriteString("</" + tag + ">")
}
