package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// Page is one tab in its own browser context. Element handles carry the
// node's backend id, so they survive nothing but the node itself.
type Page struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	harvester *Harvester
}

var _ surface.Page = (*Page)(nil)

func (p *Page) ID() string { return p.id }

// run executes actions on the tab, aborting when either the caller's ctx or
// the tab ends. Cancelling the caller never closes the tab.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *Page) close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		err := chromedp.Cancel(p.ctx)
		p.cancel()
		p.harvester.Stop()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to close page %s: %w", p.id, err)
		}
		p.logger.Debug("Isolated context closed.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing page %s: %w", p.id, ctx.Err())
	}
}

func (p *Page) ObserveTraffic(ctx context.Context) ([]surface.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ctx.Err(); err != nil {
		return nil, fmt.Errorf("page %s is closed: %w", p.id, err)
	}
	return p.harvester.Drain(), nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *Page) FindElement(ctx context.Context, loc surface.Locator) (surface.Element, error) {
	els, err := p.FindAll(ctx, loc)
	if err != nil {
		return surface.Element{}, err
	}
	if len(els) == 0 {
		return surface.Element{}, fmt.Errorf("%w: %s", surface.ErrNotFound, loc)
	}
	return els[0], nil
}

func (p *Page) FindAll(ctx context.Context, loc surface.Locator) ([]surface.Element, error) {
	var els []surface.Element
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		doc, exc, err := runtime.Evaluate("document").Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return scriptError(exc)
		}
		defer release(ctx, doc.ObjectID)

		els, err = collect(ctx, doc.ObjectID, jsFindAll, loc.Strategy == surface.ByXPath, loc.Value)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", loc, err)
	}
	return els, nil
}

func (p *Page) FindWithin(ctx context.Context, parent surface.Element, css string) ([]surface.Element, error) {
	var els []surface.Element
	err := p.onNode(ctx, parent, func(ctx context.Context, obj runtime.RemoteObjectID) error {
		var err error
		els, err = collect(ctx, obj, jsFindWithin, css)
		return err
	})
	return els, err
}

func (p *Page) Click(ctx context.Context, el surface.Element) error {
	var point [2]float64
	if err := p.call(ctx, el, jsClickPoint, &point); err != nil {
		return err
	}
	return p.run(ctx, chromedp.MouseClickXY(point[0], point[1]))
}

func (p *Page) ForceClick(ctx context.Context, el surface.Element) error {
	return p.call(ctx, el, jsForceClick, nil)
}

func (p *Page) Type(ctx context.Context, el surface.Element, text string) error {
	if err := p.call(ctx, el, jsFocus, nil); err != nil {
		return err
	}
	return p.run(ctx, chromedp.KeyEvent(text))
}

func (p *Page) PressEnter(ctx context.Context, el surface.Element) error {
	if err := p.call(ctx, el, jsFocus, nil); err != nil {
		return err
	}
	return p.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (p *Page) PressEscape(ctx context.Context) error {
	return p.run(ctx, chromedp.KeyEvent(kb.Escape))
}

func (p *Page) ScrollIntoView(ctx context.Context, el surface.Element) error {
	return p.call(ctx, el, jsScrollIntoView, nil)
}

func (p *Page) InjectValueAndEvents(ctx context.Context, el surface.Element, text string) error {
	return p.call(ctx, el, jsSetValue, nil, text)
}

func (p *Page) ClearValue(ctx context.Context, el surface.Element) error {
	return p.call(ctx, el, jsSetValue, nil, "")
}

func (p *Page) Attribute(ctx context.Context, el surface.Element, name string) (string, bool, error) {
	var res struct {
		Value   string `json:"value"`
		Present bool   `json:"present"`
	}
	if err := p.call(ctx, el, jsAttribute, &res, name); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

func (p *Page) Text(ctx context.Context, el surface.Element) (string, error) {
	var s string
	err := p.call(ctx, el, jsText, &s)
	return s, err
}

func (p *Page) OuterHTML(ctx context.Context, el surface.Element) (string, error) {
	var s string
	err := p.call(ctx, el, jsOuterHTML, &s)
	return s, err
}

func (p *Page) Visible(ctx context.Context, el surface.Element) (bool, error) {
	var v bool
	err := p.call(ctx, el, jsVisible, &v)
	return v, err
}

// call runs an element script and decodes its by-value result into res.
func (p *Page) call(ctx context.Context, el surface.Element, fn string, res interface{}, args ...interface{}) error {
	return p.onNode(ctx, el, func(ctx context.Context, obj runtime.RemoteObjectID) error {
		r, err := callFunction(ctx, obj, fn, true, args...)
		if err != nil {
			return err
		}
		if res == nil || r == nil || len(r.Value) == 0 {
			return nil
		}
		return json.Unmarshal(r.Value, res)
	})
}

// onNode resolves the handle to a remote object for the duration of fn.
func (p *Page) onNode(ctx context.Context, el surface.Element, fn func(context.Context, runtime.RemoteObjectID) error) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(cdp.BackendNodeID(el.ID)).Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: node %d: %v", surface.ErrStale, el.ID, err)
		}
		defer release(ctx, obj.ObjectID)
		return fn(ctx, obj.ObjectID)
	}))
}

func callFunction(ctx context.Context, obj runtime.RemoteObjectID, fn string, byValue bool, args ...interface{}) (*runtime.RemoteObject, error) {
	callArgs := make([]*runtime.CallArgument, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		callArgs = append(callArgs, &runtime.CallArgument{Value: raw})
	}

	r, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj).
		WithArguments(callArgs).
		WithReturnByValue(byValue).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, scriptError(exc)
	}
	return r, nil
}

// collect calls a script returning an array of elements and turns each entry
// into a handle.
func collect(ctx context.Context, obj runtime.RemoteObjectID, fn string, args ...interface{}) ([]surface.Element, error) {
	arr, err := callFunction(ctx, obj, fn, false, args...)
	if err != nil {
		return nil, err
	}
	if arr == nil || arr.ObjectID == "" {
		return nil, nil
	}
	defer release(ctx, arr.ObjectID)

	props, _, _, exc, err := runtime.GetProperties(arr.ObjectID).WithOwnProperties(true).Do(ctx)
	if err != nil {
		return nil, err
	}
	if exc != nil {
		return nil, scriptError(exc)
	}

	type indexed struct {
		i  int
		id runtime.RemoteObjectID
	}
	items := make([]indexed, 0, len(props))
	for _, prop := range props {
		i, err := strconv.Atoi(prop.Name)
		if err != nil || prop.Value == nil || prop.Value.ObjectID == "" {
			continue
		}
		items = append(items, indexed{i: i, id: prop.Value.ObjectID})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].i < items[b].i })

	els := make([]surface.Element, 0, len(items))
	for _, it := range items {
		node, err := dom.DescribeNode().WithObjectID(it.id).Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe node: %w", err)
		}
		els = append(els, surface.Element{ID: int64(node.BackendNodeID)})
	}
	return els, nil
}

func release(ctx context.Context, obj runtime.RemoteObjectID) {
	if obj == "" {
		return
	}
	_ = runtime.ReleaseObject(obj).Do(ctx)
}

// scriptError maps a thrown marker back to its surface sentinel.
func scriptError(exc *runtime.ExceptionDetails) error {
	msg := exc.Text
	if exc.Exception != nil && exc.Exception.Description != "" {
		msg = exc.Exception.Description
	}
	switch {
	case strings.Contains(msg, markStale):
		return surface.ErrStale
	case strings.Contains(msg, markHidden):
		return surface.ErrNotInteractable
	case strings.Contains(msg, markIntercepted):
		return surface.ErrIntercepted
	}
	return fmt.Errorf("script error: %s", msg)
}
