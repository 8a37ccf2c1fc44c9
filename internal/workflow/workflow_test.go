package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/colorsRGB/AutomationScripts/internal/oracle"
	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/surface/surfacetest"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

var (
	inputLoc  = surface.CSS("textarea.chat-input")
	sendLoc   = surface.XPath("//span[normalize-space()='Send']/ancestor::button[1]")
	closeLoc  = surface.XPath("//span[normalize-space()='Close']/ancestor::button[1]")
	yesLoc    = surface.XPath("//p-checkbox[./label[normalize-space()='Yes']]//div[contains(@class,'p-checkbox-box')]")
	noLoc     = surface.XPath("//p-checkbox[./label[normalize-space()='No']]//div[contains(@class,'p-checkbox-box')]")
	submitLoc = surface.XPath("//span[normalize-space()='Submit']/ancestor::button[1]")
	okLoc     = surface.XPath("//button[normalize-space()='OK']")
	labelLoc  = surface.XPath("//p-dropdown//span[contains(@class,'p-dropdown-label')]")
	trigLoc   = surface.XPath("//p-dropdown//div[contains(@class,'p-dropdown')]")
	optLoc    = surface.XPath("//li[@role='option'][1]")
	cardsLoc  = surface.XPath("//app-chat-item/div[contains(@class,'chat-item')]")
)

func testConfig() Config {
	return Config{
		Selectors: Selectors{
			Input:         inputLoc,
			Send:          []surface.Locator{sendLoc},
			Close:         closeLoc,
			Yes:           yesLoc,
			No:            noLoc,
			ReasonLabel:   labelLoc,
			ReasonTrigger: trigLoc,
			ReasonOption:  optLoc,
			Submit:        submitLoc,
			Acknowledge:   okLoc,
		},
		Timing: Timing{
			ElementWait:     10 * time.Second,
			EnableWait:      3 * time.Second,
			NudgeWait:       2 * time.Second,
			SendConfirm:     60 * time.Second,
			RetryConfirm:    10 * time.Second,
			ConfirmPoll:     250 * time.Millisecond,
			Poll:            200 * time.Millisecond,
			PostSendPause:   300 * time.Millisecond,
			DispositionWait: 5 * time.Second,
			ReasonProbe:     2 * time.Second,
			Acknowledge:     5 * time.Second,
			InputGone:       5 * time.Second,
			CardSettle:      4 * time.Second,
			SettlePause:     700 * time.Millisecond,
			FinalPause:      200 * time.Millisecond,
		},
		Disposition: DispositionYes,
	}
}

// chatPage is a fake agent console with one open chat. The send button
// publishes the input value as a WebSocket frame unless drop rejects it.
type chatPage struct {
	*surfacetest.Fake
	input, send               *surfacetest.Node
	closeBtn, yes, no, submit *surfacetest.Node
	ok, card                  *surfacetest.Node
	label, trigger, option    *surfacetest.Node
	drop                      func(text string) bool
	sent                      []string
}

func newChatPage() *chatPage {
	p := &chatPage{Fake: surfacetest.New("page-1")}

	p.input = surfacetest.NewNode("input", "textarea", map[string]string{"class": "chat-input"})
	p.send = surfacetest.NewNode("send", "button", map[string]string{"class": "p-button", "disabled": ""})
	p.input.OnInput = func(f *surfacetest.Fake, n *surfacetest.Node) { p.syncSend() }
	p.send.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) { p.publish(f) }

	p.closeBtn = surfacetest.NewNode("close", "button", map[string]string{"class": "p-button"})
	p.yes = surfacetest.NewNode("yes", "div", map[string]string{"class": "p-checkbox-box"})
	p.no = surfacetest.NewNode("no", "div", map[string]string{"class": "p-checkbox-box"})
	p.submit = surfacetest.NewNode("submit", "button", map[string]string{"class": "p-button", "disabled": ""})
	p.ok = surfacetest.NewNode("ok", "button", nil)
	p.ok.Hidden = true
	p.card = surfacetest.NewNode("card", "div", map[string]string{"class": "chat-item selected"})

	toggle := func(f *surfacetest.Fake, n *surfacetest.Node) {
		if n.HasClass("p-highlight") {
			n.RemoveClass("p-highlight")
		} else {
			n.AddClass("p-highlight")
		}
		p.syncSubmit()
	}
	p.yes.OnClick = toggle
	p.no.OnClick = toggle
	p.submit.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) { p.ok.Hidden = false }
	p.ok.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) {
		p.ok.Hidden = true
		p.input.Hidden = true
		p.card.AddClass("closed")
	}

	p.Add(inputLoc, p.input)
	p.Add(sendLoc, p.send)
	p.Add(closeLoc, p.closeBtn)
	p.Add(yesLoc, p.yes)
	p.Add(noLoc, p.no)
	p.Add(submitLoc, p.submit)
	p.Add(okLoc, p.ok)
	p.Add(cardsLoc, p.card)
	return p
}

// withReason adds a reason dropdown that still shows its placeholder and
// only lets submit through once an option is picked.
func (p *chatPage) withReason() *chatPage {
	p.label = surfacetest.NewNode("label", "span", map[string]string{"class": "p-dropdown-label"})
	p.label.Text = "Select a reason"
	p.trigger = surfacetest.NewNode("trigger", "div", map[string]string{"class": "p-dropdown p-component"})
	p.option = surfacetest.NewNode("option", "li", map[string]string{"role": "option"})
	p.option.Hidden = true
	p.trigger.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) { p.option.Hidden = false }
	p.option.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) {
		p.label.Text = "Resolved"
		p.option.Hidden = true
		p.syncSubmit()
	}
	p.Add(labelLoc, p.label)
	p.Add(trigLoc, p.trigger)
	p.Add(optLoc, p.option)
	return p
}

func (p *chatPage) syncSend() {
	if p.input.Value != "" {
		delete(p.send.Attrs, "disabled")
	} else {
		p.send.Attrs["disabled"] = ""
	}
}

func (p *chatPage) syncSubmit() {
	ready := p.yes.HasClass("p-highlight") && !p.no.HasClass("p-highlight")
	if p.label != nil && strings.Contains(strings.ToLower(p.label.Text), "select") {
		ready = false
	}
	if ready {
		delete(p.submit.Attrs, "disabled")
	} else {
		p.submit.Attrs["disabled"] = ""
	}
}

func (p *chatPage) publish(f *surfacetest.Fake) {
	text := p.input.Value
	if p.drop == nil || !p.drop(text) {
		p.sent = append(p.sent, text)
		f.Emit(surface.WebSocketReceived, `{"type":"message","text":"`+text+`"}`)
	}
	p.input.Value = ""
	p.syncSend()
}

func newWorkflow(t *testing.T, cfg Config, opts ...Option) *Workflow {
	clock := wait.NewManualClock(time.Now())
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(cfg, oracle.NewTokenSource(oracle.DefaultTokenLength), zaptest.NewLogger(t), opts...)
}

type countingRecorder struct{ confirmed, missed int }

func (r *countingRecorder) MessageConfirmed()   { r.confirmed++ }
func (r *countingRecorder) ConfirmationMissed() { r.missed++ }

func TestRunAllConfirmedClosesSession(t *testing.T) {
	page := newChatPage()
	core, logs := observer.New(zap.DebugLevel)
	clock := wait.NewManualClock(time.Now())
	cards := queue.NewSelector(queue.Config{Cards: cardsLoc, Clock: clock}, zap.NewNop())
	rec := &countingRecorder{}
	wf := New(testConfig(), oracle.NewTokenSource(8), zap.New(core),
		WithClock(clock), WithCardTracker(cards), WithRecorder(rec))

	res, err := wf.Run(context.Background(), page, Plan{Session: 1, Messages: 5, Close: true})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Planned)
	assert.Equal(t, 5, res.Confirmed)
	assert.True(t, res.Closed)
	assert.Equal(t, Closed, res.State)
	assert.Equal(t, 5, rec.confirmed)
	assert.Zero(t, rec.missed)

	require.Len(t, page.sent, 5)
	for i, text := range page.sent {
		assert.True(t, strings.HasPrefix(text, "Automated message #"+string(rune('1'+i))+" ["), text)
	}
	assert.Equal(t, 1, page.Clicks("close"))
	assert.Equal(t, 1, page.Clicks("yes"))
	assert.Zero(t, page.Clicks("no"))
	assert.Equal(t, 1, page.Clicks("submit"))
	assert.Equal(t, 1, page.Clicks("ok"))
	assert.True(t, page.card.HasClass("closed"), "active card turned grey")
	assert.Zero(t, logs.FilterMessage("Closed card never turned grey.").Len())

	assert.Equal(t, []State{CloseInit, SetDisposition, Submit, Acknowledge, AwaitSettled, Closed},
		res.Trace[len(res.Trace)-6:])
}

func TestRunAbortsWhenConfirmationFailsTwice(t *testing.T) {
	page := newChatPage()
	page.drop = func(text string) bool { return strings.Contains(text, "#3 ") }
	rec := &countingRecorder{}
	wf := newWorkflow(t, testConfig(), WithRecorder(rec))

	res, err := wf.Run(context.Background(), page, Plan{Session: 2, Messages: 5, Close: true})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	var abort *AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, Confirm, abort.State)
	assert.Equal(t, 2, abort.Confirmed)
	assert.Equal(t, 5, abort.Planned)

	assert.Equal(t, 2, res.Confirmed)
	assert.False(t, res.Closed)
	assert.Equal(t, Aborted, res.State)
	assert.NotContains(t, res.Trace, CloseInit)
	assert.Zero(t, page.Clicks("close"), "close is never invoked after an abort")
	assert.Equal(t, 4, page.Clicks("send"), "two sends plus the first attempt and retry for #3")
	assert.Equal(t, 2, rec.missed)
}

func TestRunWithoutClose(t *testing.T) {
	page := newChatPage()
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Session: 3, Messages: 2})
	require.NoError(t, err)
	assert.Equal(t, Delivered, res.State)
	assert.False(t, res.Closed)
	assert.Zero(t, page.Clicks("close"))
	require.Len(t, page.sent, 2)
	assert.NotEqual(t, page.sent[0][len(page.sent[0])-10:], page.sent[1][len(page.sent[1])-10:])
}

func TestRunMissingInputAborts(t *testing.T) {
	page := surfacetest.New("empty")
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1, Close: true})
	require.ErrorIs(t, err, ErrAborted)
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, Open, abort.State)
	assert.Zero(t, res.Confirmed)
}

func TestAwaitEnabledNudge(t *testing.T) {
	page := newChatPage()
	inputs := 0
	page.input.OnInput = func(f *surfacetest.Fake, n *surfacetest.Node) {
		inputs++
		// Validation only reacts to the change after the nudge.
		if inputs >= 3 {
			delete(page.send.Attrs, "disabled")
		}
	}
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 3, inputs, "compose plus a two-step nudge")
	assert.Equal(t, 1, page.Clicks("send"))
	assert.Zero(t, page.Enters("input"))
}

func TestAwaitEnabledFallsBackToEnter(t *testing.T) {
	page := newChatPage()
	page.input.OnInput = nil
	page.input.OnEnter = func(f *surfacetest.Fake, n *surfacetest.Node) {
		f.Emit(surface.WebSocketSent, n.Value)
		n.Value = ""
	}
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Messages: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Confirmed)
	assert.Equal(t, 2, page.Enters("input"))
	assert.Zero(t, page.Clicks("send"))
	assert.Contains(t, res.Trace, AwaitEnabled)
}

func TestRunSendIntercepted(t *testing.T) {
	page := newChatPage()
	page.send.Intercept = true
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Confirmed)
	assert.Equal(t, 1, page.ForceClicks("send"))
}

func TestSetDispositionIsIdempotent(t *testing.T) {
	page := newChatPage()
	page.no.AddClass("p-highlight")
	wf := newWorkflow(t, testConfig())
	ctx := context.Background()

	require.NoError(t, wf.SetDisposition(ctx, page))
	assert.Equal(t, 1, page.Clicks("yes"))
	assert.Equal(t, 1, page.Clicks("no"), "the opposite answer is cleared")
	assert.True(t, page.yes.HasClass("p-highlight"))
	assert.False(t, page.no.HasClass("p-highlight"))

	require.NoError(t, wf.SetDisposition(ctx, page))
	assert.Equal(t, 1, page.Clicks("yes"), "no redundant toggle")
	assert.Equal(t, 1, page.Clicks("no"))
}

func TestSetDispositionNo(t *testing.T) {
	page := newChatPage()
	cfg := testConfig()
	cfg.Disposition = DispositionNo
	wf := newWorkflow(t, cfg)

	require.NoError(t, wf.SetDisposition(context.Background(), page))
	assert.True(t, page.no.HasClass("p-highlight"))
	assert.Zero(t, page.Clicks("yes"))
}

func TestSetDispositionPicksReason(t *testing.T) {
	page := newChatPage().withReason()
	wf := newWorkflow(t, testConfig())

	require.NoError(t, wf.SetDisposition(context.Background(), page))
	assert.Equal(t, 1, page.Clicks("trigger"))
	assert.Equal(t, 1, page.Clicks("option"))
	assert.Equal(t, "Resolved", page.label.Text)
	assert.NotContains(t, page.submit.Attrs, "disabled")

	require.NoError(t, wf.SetDisposition(context.Background(), page))
	assert.Equal(t, 1, page.Clicks("option"), "a chosen reason is left alone")
}

func TestCloseSkipsDispositionWhenSubmitAlreadyEnabled(t *testing.T) {
	page := newChatPage()
	page.yes.AddClass("p-highlight")
	page.syncSubmit()
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1, Close: true})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Zero(t, page.Clicks("yes"))
	assert.Zero(t, page.Clicks("no"))
	assert.Equal(t, 1, page.Clicks("submit"))
}

func TestCloseWithoutAcknowledgeDialog(t *testing.T) {
	page := newChatPage()
	page.submit.OnClick = func(f *surfacetest.Fake, n *surfacetest.Node) {
		page.input.Hidden = true
		page.card.Detached = true
	}
	clock := wait.NewManualClock(time.Now())
	cards := queue.NewSelector(queue.Config{Cards: cardsLoc, Clock: clock}, zap.NewNop())
	wf := New(testConfig(), oracle.NewTokenSource(8), zaptest.NewLogger(t),
		WithClock(clock), WithCardTracker(cards))

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1, Close: true})
	require.NoError(t, err, "a missing OK dialog and a replaced card are both fine")
	assert.Equal(t, Closed, res.State)
	assert.Zero(t, page.Clicks("ok"))
}

func TestTransitionHook(t *testing.T) {
	page := newChatPage()
	var seen []State
	wf := newWorkflow(t, testConfig(), WithTransitionHook(func(from, to State) {
		if len(seen) > 0 {
			assert.Equal(t, seen[len(seen)-1], from)
		}
		seen = append(seen, to)
	}))

	res, err := wf.Run(context.Background(), page, Plan{Messages: 1, Close: true})
	require.NoError(t, err)
	assert.Equal(t, []State{Compose, AwaitEnabled, Commit, Confirm, CloseInit, SetDisposition,
		Submit, Acknowledge, AwaitSettled, Closed}, seen)
	assert.Equal(t, append([]State{Open}, seen...), res.Trace)
}

func TestRunHonoursCancellation(t *testing.T) {
	page := newChatPage()
	page.drop = func(string) bool { return true }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	wf := newWorkflow(t, testConfig())

	res, err := wf.Run(ctx, page, Plan{Messages: 3})
	require.Error(t, err)
	assert.Zero(t, res.Confirmed)
	assert.Equal(t, Aborted, res.State)
}

func TestMessageCount(t *testing.T) {
	for i := 0; i < 50; i++ {
		n := MessageCount(3, 5)
		assert.GreaterOrEqual(t, n, 3)
		assert.LessOrEqual(t, n, 5)
	}
	assert.Equal(t, 4, MessageCount(4, 4))
	assert.Equal(t, 4, MessageCount(4, 2))
}

func TestNewMessage(t *testing.T) {
	m := NewMessage("", 2, "ABCD2345")
	assert.Equal(t, "Automated message #2 [ABCD2345]", m.Text)
	assert.Equal(t, "ABCD2345", m.Token)

	m = NewMessage("Ping %d %s", 7, "ZZZZ")
	assert.Equal(t, "Ping 7 ZZZZ", m.Text)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "await-settled", AwaitSettled.String())
	assert.Equal(t, "state(99)", State(99).String())
	assert.True(t, Aborted.Terminal())
	assert.True(t, Delivered.Terminal())
	assert.False(t, Confirm.Terminal())
}
