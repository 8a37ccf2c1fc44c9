package browser

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

const bodyFetchTimeout = 15 * time.Second

// bodyFetcher loads a finished response body. It is swapped out in tests.
type bodyFetcher func(ctx context.Context, id network.RequestID) ([]byte, error)

// HarvesterOptions select what the harvester keeps.
type HarvesterOptions struct {
	// Keywords pick the XHR/fetch responses whose bodies are captured. A
	// response matches when its URL contains any keyword.
	Keywords      []string
	CaptureBodies bool
	// MaxBodyBytes truncates captured bodies and frames. Zero keeps them whole.
	MaxBodyBytes int
}

// Harvester listens to a tab's network events and keeps the realtime payloads
// until they are drained.
type Harvester struct {
	logger *zap.Logger
	opts   HarvesterOptions
	fetch  bodyFetcher

	// The context for the browser tab this harvester is attached to.
	sessionCtx context.Context
	// A separate context for the listener so it can be stopped cleanly.
	listenerCtx    context.Context
	cancelListener context.CancelFunc

	lock     sync.Mutex
	sockets  map[network.RequestID]string
	pending  map[network.RequestID]string
	payloads []surface.Payload

	// Tracks active body fetching goroutines so Stop can wait for them.
	bodyFetchWG sync.WaitGroup

	isStarted bool
	now       func() time.Time
}

// NewHarvester creates a harvester for the tab behind sessionCtx.
func NewHarvester(sessionCtx context.Context, logger *zap.Logger, opts HarvesterOptions) *Harvester {
	h := &Harvester{
		logger:     logger.Named("harvester"),
		opts:       opts,
		sessionCtx: sessionCtx,
		sockets:    make(map[network.RequestID]string),
		pending:    make(map[network.RequestID]string),
		now:        time.Now,
	}
	h.fetch = h.fetchBody
	return h
}

// Start enables the network domain and begins listening.
func (h *Harvester) Start() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.isStarted {
		return nil
	}

	// Derived from the session, so the listener dies with the tab.
	h.listenerCtx, h.cancelListener = context.WithCancel(h.sessionCtx)
	chromedp.ListenTarget(h.listenerCtx, h.handleEvent)

	if err := chromedp.Run(h.sessionCtx, network.Enable()); err != nil {
		h.cancelListener()
		return err
	}

	h.isStarted = true
	h.logger.Debug("Harvester started and listening for events.")
	return nil
}

// Stop detaches the listener and waits for in-flight body fetches.
func (h *Harvester) Stop() {
	h.lock.Lock()
	if h.cancelListener != nil {
		h.cancelListener()
	}
	h.isStarted = false
	h.lock.Unlock()
	h.bodyFetchWG.Wait()
}

// Drain returns every payload observed since the previous call and forgets
// them.
func (h *Harvester) Drain() []surface.Payload {
	h.lock.Lock()
	defer h.lock.Unlock()
	out := h.payloads
	h.payloads = nil
	return out
}

// handleEvent runs on the chromedp event goroutine and must not block.
func (h *Harvester) handleEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventWebSocketCreated:
		h.lock.Lock()
		h.sockets[e.RequestID] = e.URL
		h.lock.Unlock()

	case *network.EventWebSocketClosed:
		h.lock.Lock()
		delete(h.sockets, e.RequestID)
		h.lock.Unlock()

	case *network.EventWebSocketFrameReceived:
		if e.Response != nil {
			h.record(surface.WebSocketReceived, h.socketURL(e.RequestID), e.Response.PayloadData)
		}

	case *network.EventWebSocketFrameSent:
		if e.Response != nil {
			h.record(surface.WebSocketSent, h.socketURL(e.RequestID), e.Response.PayloadData)
		}

	case *network.EventEventSourceMessageReceived:
		h.record(surface.EventSourceData, "", e.Data)

	case *network.EventResponseReceived:
		if !h.opts.CaptureBodies || e.Response == nil {
			return
		}
		if e.Type != network.ResourceTypeXHR && e.Type != network.ResourceTypeFetch {
			return
		}
		if !matchesKeyword(e.Response.URL, h.opts.Keywords) {
			return
		}
		h.lock.Lock()
		h.pending[e.RequestID] = e.Response.URL
		h.lock.Unlock()

	case *network.EventLoadingFinished:
		h.lock.Lock()
		u, ok := h.pending[e.RequestID]
		delete(h.pending, e.RequestID)
		// Add happens under the lock so it cannot race with Wait in Stop.
		if !ok || !h.isStarted {
			h.lock.Unlock()
			return
		}
		ctx := h.listenerCtx
		h.bodyFetchWG.Add(1)
		h.lock.Unlock()
		go func() {
			defer h.bodyFetchWG.Done()
			h.captureBody(ctx, e.RequestID, u)
		}()

	case *network.EventLoadingFailed:
		h.lock.Lock()
		delete(h.pending, e.RequestID)
		h.lock.Unlock()
	}
}

// captureBody runs under the listener context, so Stop cuts short any fetch
// still in flight.
func (h *Harvester) captureBody(listenerCtx context.Context, id network.RequestID, u string) {
	ctx, cancel := context.WithTimeout(listenerCtx, bodyFetchTimeout)
	defer cancel()

	body, err := h.fetch(ctx, id)
	if err != nil {
		if listenerCtx.Err() != nil {
			return
		}
		h.logger.Debug("Failed to fetch response body.", zap.String("url", u), zap.Error(err))
		return
	}
	h.record(surface.XHRResponse, u, string(body))
}

func (h *Harvester) fetchBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(ctx)
		return err
	}))
	return body, err
}

func (h *Harvester) socketURL(id network.RequestID) string {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.sockets[id]
}

func (h *Harvester) record(kind surface.PayloadKind, u, body string) {
	body = truncate(body, h.opts.MaxBodyBytes)
	h.lock.Lock()
	h.payloads = append(h.payloads, surface.Payload{Kind: kind, URL: u, Body: body, At: h.now()})
	h.lock.Unlock()
}

func matchesKeyword(u string, keywords []string) bool {
	lower := strings.ToLower(u)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}
