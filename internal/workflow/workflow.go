// Package workflow drives a single chat session: open, send N messages with each
// one confirmed against network traffic, then close through the disposition dialog.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/oracle"
	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

// Disposition is the answer set in the close dialog.
type Disposition string

const (
	DispositionYes Disposition = "yes"
	DispositionNo  Disposition = "no"
)

// Selectors locate the chat panel and close dialog controls. Optional controls
// are left zero.
type Selectors struct {
	Input         surface.Locator
	Send          []surface.Locator
	Close         surface.Locator
	Yes           surface.Locator
	No            surface.Locator
	ReasonLabel   surface.Locator
	ReasonTrigger surface.Locator
	ReasonOption  surface.Locator
	Submit        surface.Locator
	Acknowledge   surface.Locator
}

// Timing bounds every wait the workflow performs.
type Timing struct {
	ElementWait     time.Duration
	EnableWait      time.Duration
	NudgeWait       time.Duration
	SendConfirm     time.Duration
	RetryConfirm    time.Duration
	ConfirmPoll     time.Duration
	Poll            time.Duration
	PostSendPause   time.Duration
	DispositionWait time.Duration
	ReasonProbe     time.Duration
	Acknowledge     time.Duration
	InputGone       time.Duration
	CardSettle      time.Duration
	SettlePause     time.Duration
	FinalPause      time.Duration
}

// Config is everything a Workflow needs besides its collaborators.
type Config struct {
	Selectors       Selectors
	Timing          Timing
	Disposition     Disposition
	MessageTemplate string
}

// Recorder receives per-message outcomes.
type Recorder interface {
	MessageConfirmed()
	ConfirmationMissed()
}

type nopRecorder struct{}

func (nopRecorder) MessageConfirmed()   {}
func (nopRecorder) ConfirmationMissed() {}

// Plan describes one session run.
type Plan struct {
	Session  int
	Messages int
	Close    bool
}

// Result summarises a run. Confirmed never exceeds Planned and Closed is only
// true when Confirmed == Planned.
type Result struct {
	Planned   int
	Confirmed int
	Closed    bool
	State     State
	Trace     []State
}

// Workflow runs sessions against pages. It holds no per-session state and can be
// shared by concurrent sessions.
type Workflow struct {
	cfg          Config
	tokens       *oracle.TokenSource
	cards        *queue.Selector
	clock        wait.Clock
	logger       *zap.Logger
	recorder     Recorder
	onTransition func(from, to State)
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock injects the clock used by every wait and pause.
func WithClock(c wait.Clock) Option { return func(w *Workflow) { w.clock = c } }

// WithCardTracker makes close wait for the active queue card to turn grey.
func WithCardTracker(s *queue.Selector) Option { return func(w *Workflow) { w.cards = s } }

// WithRecorder reports message outcomes.
func WithRecorder(r Recorder) Option { return func(w *Workflow) { w.recorder = r } }

// WithTransitionHook is called on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(w *Workflow) { w.onTransition = fn }
}

// New creates a Workflow. tokens must be shared by every session of the run.
func New(cfg Config, tokens *oracle.TokenSource, logger *zap.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		cfg:      cfg,
		tokens:   tokens,
		clock:    wait.RealClock{},
		logger:   logger.Named("workflow"),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cfg.Disposition == "" {
		w.cfg.Disposition = DispositionYes
	}
	return w
}

type commitMode int

const (
	commitClick commitMode = iota
	commitEnter
)

// execution carries the state of one Run.
type execution struct {
	w      *Workflow
	page   surface.Page
	oracle *oracle.Oracle
	logger *zap.Logger
	res    Result
}

// Run drives one session. Any failure returns an *AbortError with the partial
// Result; a session is closed only after every planned message was confirmed.
func (w *Workflow) Run(ctx context.Context, page surface.Page, plan Plan) (Result, error) {
	logger := w.logger.With(zap.Int("session", plan.Session), zap.String("page", page.ID()))
	x := &execution{
		w:      w,
		page:   page,
		logger: logger,
		oracle: oracle.New(page, logger,
			oracle.WithClock(w.clock),
			oracle.WithPollInterval(w.cfg.Timing.ConfirmPoll)),
		res: Result{Planned: plan.Messages, State: Open, Trace: []State{Open}},
	}

	if _, err := wait.Present(ctx, page, w.cfg.Selectors.Input, w.opts(w.cfg.Timing.ElementWait)); err != nil {
		return x.abort(fmt.Errorf("message input never appeared: %w", err))
	}

	for i := 1; i <= plan.Messages; i++ {
		msg := NewMessage(w.cfg.MessageTemplate, i, w.tokens.Next())
		if err := x.send(ctx, msg); err != nil {
			return x.abort(err)
		}
		x.res.Confirmed++
		logger.Info("Message confirmed.", zap.Int("message", i), zap.Int("planned", plan.Messages), zap.String("token", msg.Token))
		if err := wait.Sleep(ctx, w.clock, w.cfg.Timing.PostSendPause); err != nil {
			return x.abort(err)
		}
	}

	if !plan.Close {
		x.enter(Delivered)
		return x.res, nil
	}
	if err := x.close(ctx); err != nil {
		return x.abort(err)
	}
	x.enter(Closed)
	x.res.Closed = true
	return x.res, nil
}

func (w *Workflow) opts(timeout time.Duration) wait.Options {
	return wait.Options{Timeout: timeout, Interval: w.cfg.Timing.Poll, Clock: w.clock}
}

func (w *Workflow) sendResolver() wait.Resolver {
	return wait.FirstVisible(w.cfg.Selectors.Send...)
}

func (x *execution) enter(to State) {
	from := x.res.State
	x.res.State = to
	x.res.Trace = append(x.res.Trace, to)
	if x.w.onTransition != nil {
		x.w.onTransition(from, to)
	}
}

func (x *execution) abort(err error) (Result, error) {
	at := x.res.State
	x.enter(Aborted)
	return x.res, &AbortError{State: at, Confirmed: x.res.Confirmed, Planned: x.res.Planned, Err: err}
}

// send runs Compose → AwaitEnabled → Commit → Confirm for one message, with one
// retry cycle when the first confirmation times out.
func (x *execution) send(ctx context.Context, msg Message) error {
	w := x.w
	x.enter(Compose)
	if err := x.compose(ctx, msg.Text); err != nil {
		return fmt.Errorf("compose message #%d: %w", msg.Index, err)
	}

	x.enter(AwaitEnabled)
	mode, err := x.awaitEnabled(ctx, msg.Text)
	if err != nil {
		return fmt.Errorf("send control for message #%d: %w", msg.Index, err)
	}

	x.enter(Commit)
	x.commit(ctx, mode)

	x.enter(Confirm)
	if x.oracle.Confirm(ctx, msg.Token, w.cfg.Timing.SendConfirm) {
		w.recorder.MessageConfirmed()
		return nil
	}
	w.recorder.ConfirmationMissed()
	if err := ctx.Err(); err != nil {
		return err
	}
	x.logger.Warn("Message not confirmed, retrying once.", zap.Int("message", msg.Index), zap.String("token", msg.Token))

	if err := x.nudge(ctx, msg.Text); err != nil {
		x.logger.Debug("Nudge before retry failed.", zap.Error(err))
	}
	mode = commitEnter
	if wait.IsEnabledNow(ctx, x.page, w.sendResolver()) {
		mode = commitClick
	}
	x.enter(Commit)
	x.commit(ctx, mode)

	x.enter(Confirm)
	if x.oracle.Confirm(ctx, msg.Token, w.cfg.Timing.RetryConfirm) {
		w.recorder.MessageConfirmed()
		return nil
	}
	w.recorder.ConfirmationMissed()
	return fmt.Errorf("message #%d [%s]: %w", msg.Index, msg.Token, ErrConfirmationTimeout)
}

// withInput resolves the message input and runs fn on it, re-resolving once if
// the handle went stale in between.
func (x *execution) withInput(ctx context.Context, fn func(el surface.Element) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var el surface.Element
		el, err = wait.Visible(ctx, x.page, x.w.cfg.Selectors.Input, x.w.opts(x.w.cfg.Timing.ElementWait))
		if err != nil {
			return err
		}
		if err = fn(el); !errors.Is(err, surface.ErrStale) {
			return err
		}
	}
	return err
}

func (x *execution) compose(ctx context.Context, text string) error {
	return x.withInput(ctx, func(el surface.Element) error {
		_ = x.page.ScrollIntoView(ctx, el)
		if err := wait.Click(ctx, x.page, el); err != nil {
			return err
		}
		if err := x.page.ClearValue(ctx, el); err != nil {
			return err
		}
		return x.page.InjectValueAndEvents(ctx, el, text)
	})
}

// nudge re-injects the text with a trailing space and back so reactive
// validation sees a change.
func (x *execution) nudge(ctx context.Context, text string) error {
	return x.withInput(ctx, func(el surface.Element) error {
		if err := x.page.InjectValueAndEvents(ctx, el, text+" "); err != nil {
			return err
		}
		return x.page.InjectValueAndEvents(ctx, el, text)
	})
}

func (x *execution) awaitEnabled(ctx context.Context, text string) (commitMode, error) {
	w := x.w
	send := w.sendResolver()
	if _, err := wait.Enabled(ctx, x.page, send, w.opts(w.cfg.Timing.EnableWait)); err == nil {
		return commitClick, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := x.nudge(ctx, text); err != nil {
		return 0, fmt.Errorf("input lost while nudging: %w", err)
	}
	if _, err := wait.Enabled(ctx, x.page, send, w.opts(w.cfg.Timing.NudgeWait)); err == nil {
		return commitClick, nil
	}
	x.logger.Debug("Send control still disabled, falling back to Enter.")
	return commitEnter, nil
}

// commit dispatches the message. Failures are only logged: the oracle decides
// whether anything was sent.
func (x *execution) commit(ctx context.Context, mode commitMode) {
	if mode == commitEnter {
		if err := x.withInput(ctx, func(el surface.Element) error {
			return x.page.PressEnter(ctx, el)
		}); err != nil {
			x.logger.Debug("Enter fallback failed.", zap.Error(err))
		}
		return
	}

	send := x.w.sendResolver()
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var el surface.Element
		if el, err = send(ctx, x.page); err != nil {
			break
		}
		if err = wait.Click(ctx, x.page, el); !errors.Is(err, surface.ErrStale) {
			break
		}
	}
	if err != nil {
		x.logger.Debug("Send click failed.", zap.Error(err))
	}
}
