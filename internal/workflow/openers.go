package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

// ErrOpenFailed means the chat panel never became usable.
var ErrOpenFailed = errors.New("workflow: chat panel did not open")

// WidgetOpener starts a fresh conversation in the customer widget.
type WidgetOpener struct {
	URL      string
	Frame    surface.Locator
	Launcher surface.Locator
	UserID   surface.Locator
	Start    surface.Locator
	Input    surface.Locator
	Prefix   string
	Timeout  time.Duration
	Poll     time.Duration
	Clock    wait.Clock
}

// NewWidgetOpener reads the widget section of cfg.
func NewWidgetOpener(cfg *config.Config) *WidgetOpener {
	w := cfg.Widget
	input := w.InputSelector
	if input == "" {
		input = cfg.Chat.InputSelector
	}
	return &WidgetOpener{
		URL:      w.URL,
		Frame:    surface.ParseLocator(w.FrameSelector),
		Launcher: surface.ParseLocator(w.LauncherSelector),
		UserID:   surface.ParseLocator(w.UserIDSelector),
		Start:    surface.ParseLocator(w.StartSelector),
		Input:    surface.ParseLocator(input),
		Prefix:   w.UserIDPrefix,
		Timeout:  w.OpenTimeout,
		Poll:     cfg.Workflow.PollInterval,
	}
}

// userID is the identity typed into the pre-chat form for session index.
func (o *WidgetOpener) userID(index int) string {
	return fmt.Sprintf("%s %d-%s", o.Prefix, index, uuid.NewString()[:6])
}

// Open navigates to the widget and walks the pre-chat form until the message
// input is visible.
func (o *WidgetOpener) Open(ctx context.Context, page surface.Page, index int) error {
	opts := wait.Options{Timeout: o.Timeout, Interval: o.Poll, Clock: o.Clock}

	if err := page.Navigate(ctx, o.URL); err != nil {
		return fmt.Errorf("navigate to widget: %w", err)
	}

	// The widget lives in a cross-origin iframe; load its document directly so
	// every later lookup and the traffic log see the widget itself.
	if !o.Frame.IsZero() {
		frame, err := wait.Present(ctx, page, o.Frame, opts)
		if err != nil {
			return fmt.Errorf("%w: widget frame: %v", ErrOpenFailed, err)
		}
		src, ok, err := page.Attribute(ctx, frame, "src")
		if err != nil || !ok || src == "" {
			return fmt.Errorf("%w: widget frame has no src", ErrOpenFailed)
		}
		if err := page.Navigate(ctx, src); err != nil {
			return fmt.Errorf("navigate to widget frame: %w", err)
		}
	}

	if !o.Launcher.IsZero() {
		if err := clickWhenReady(ctx, page, o.Launcher, opts); err != nil {
			return fmt.Errorf("%w: launcher: %v", ErrOpenFailed, err)
		}
	}
	if !o.UserID.IsZero() {
		field, err := wait.Visible(ctx, page, o.UserID, opts)
		if err != nil {
			return fmt.Errorf("%w: user id field: %v", ErrOpenFailed, err)
		}
		if err := page.ClearValue(ctx, field); err != nil {
			return err
		}
		if err := page.Type(ctx, field, o.userID(index)); err != nil {
			return fmt.Errorf("type user id: %w", err)
		}
	}
	if !o.Start.IsZero() {
		if err := clickWhenReady(ctx, page, o.Start, opts); err != nil {
			return fmt.Errorf("%w: start chat: %v", ErrOpenFailed, err)
		}
	}
	if _, err := wait.Visible(ctx, page, o.Input, opts); err != nil {
		return fmt.Errorf("%w: message input: %v", ErrOpenFailed, err)
	}
	return nil
}

// ConsoleEntry signs an agent into the console and switches them to accepting chats.
type ConsoleEntry struct {
	URL          string
	Username     string
	Password     string
	UserField    surface.Locator
	PassField    surface.Locator
	SignIn       surface.Locator
	ChatsMenu    surface.Locator
	DirectMenu   surface.Locator
	Toast        surface.Locator
	Avatar       surface.Locator
	NotAccepting surface.Locator
	Accepting    surface.Locator
	ElementWait  time.Duration
	MenuProbe    time.Duration
	ToastAppear  time.Duration
	ToastGone    time.Duration
	Poll         time.Duration
	Clock        wait.Clock
	Logger       *zap.Logger
}

// NewConsoleEntry reads the console section of cfg.
func NewConsoleEntry(cfg *config.Config, logger *zap.Logger) *ConsoleEntry {
	c := cfg.Console
	return &ConsoleEntry{
		URL:          c.URL,
		Username:     c.Username,
		Password:     c.Password,
		UserField:    surface.ParseLocator(c.UsernameSelector),
		PassField:    surface.ParseLocator(c.PasswordSelector),
		SignIn:       surface.ParseLocator(c.SignInSelector),
		ChatsMenu:    surface.ParseLocator(c.ChatsMenuSelector),
		DirectMenu:   surface.ParseLocator(c.DirectMenuSelector),
		Toast:        surface.ParseLocator(cfg.Chat.ToastSelector),
		Avatar:       surface.ParseLocator(c.AvatarSelector),
		NotAccepting: surface.ParseLocator(c.NotAcceptingSelector),
		Accepting:    surface.ParseLocator(c.AcceptingSelector),
		ElementWait:  cfg.Workflow.ElementWaitTimeout,
		MenuProbe:    c.MenuProbeTimeout,
		ToastAppear:  cfg.Workflow.OverlayAppearTimeout,
		ToastGone:    cfg.Workflow.OverlayTimeout,
		Poll:         cfg.Workflow.PollInterval,
		Logger:       logger.Named("console"),
	}
}

// Enter logs in, opens the direct chats list and turns on chat acceptance.
func (e *ConsoleEntry) Enter(ctx context.Context, page surface.Page) error {
	if e.Username == "" || e.Password == "" {
		return errors.New("console credentials are not configured")
	}
	opts := wait.Options{Timeout: e.ElementWait, Interval: e.Poll, Clock: e.Clock}

	e.Logger.Info("Signing in.", zap.String("url", e.URL))
	if err := page.Navigate(ctx, e.URL); err != nil {
		return fmt.Errorf("navigate to console: %w", err)
	}
	if err := typeInto(ctx, page, e.UserField, e.Username, opts); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if err := typeInto(ctx, page, e.PassField, e.Password, opts); err != nil {
		return fmt.Errorf("password: %w", err)
	}
	if err := clickWhenReady(ctx, page, e.SignIn, opts); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	e.Logger.Info("Opening direct chats.")
	if err := clickWhenReady(ctx, page, e.ChatsMenu, opts); err != nil {
		return fmt.Errorf("chats menu: %w", err)
	}
	if err := clickWhenReady(ctx, page, e.DirectMenu, opts); err != nil {
		return fmt.Errorf("direct menu: %w", err)
	}

	e.waitToasts(ctx, page)
	if err := clickWhenReady(ctx, page, e.Avatar, opts); err != nil {
		return fmt.Errorf("avatar menu: %w", err)
	}

	probe := wait.Options{Timeout: e.MenuProbe, Interval: e.Poll, Clock: e.Clock}
	for _, loc := range []surface.Locator{e.NotAccepting, e.Accepting} {
		if loc.IsZero() {
			continue
		}
		el, err := wait.Present(ctx, page, loc, probe)
		if err != nil {
			continue
		}
		if err := wait.Click(ctx, page, el); err != nil {
			e.Logger.Debug("Availability toggle click failed.", zap.Stringer("locator", loc), zap.Error(err))
		}
	}
	return page.PressEscape(ctx)
}

func (e *ConsoleEntry) waitToasts(ctx context.Context, page surface.Page) {
	WaitOverlay(ctx, page, e.Toast, e.ToastAppear, e.ToastGone, e.Poll, e.Clock)
}

// WaitOverlay gives a toast or spinner the chance to clear. Never fails.
func WaitOverlay(ctx context.Context, s surface.Surface, loc surface.Locator, appear, gone, poll time.Duration, clk wait.Clock) bool {
	if loc.IsZero() {
		return true
	}
	return wait.OverlayGone(ctx, s, loc,
		wait.Options{Timeout: appear, Interval: poll, Clock: clk},
		wait.Options{Timeout: gone, Interval: poll, Clock: clk})
}

// CardOpener activates a queue card and waits for its chat panel.
type CardOpener struct {
	Assign        surface.Locator
	Input         surface.Locator
	AssignTimeout time.Duration
	OpenTimeout   time.Duration
	Poll          time.Duration
	Clock         wait.Clock
}

// NewCardOpener reads the queue section of cfg.
func NewCardOpener(cfg *config.Config) *CardOpener {
	return &CardOpener{
		Assign:        surface.ParseLocator(cfg.Queue.AssignSelector),
		Input:         surface.ParseLocator(cfg.Chat.InputSelector),
		AssignTimeout: cfg.Queue.AssignTimeout,
		OpenTimeout:   cfg.Queue.OpenTimeout,
		Poll:          cfg.Workflow.PollInterval,
	}
}

// Open clicks card, claims it when the console asks, and waits for the input.
func (o *CardOpener) Open(ctx context.Context, page surface.Page, card queue.Card) error {
	_ = page.ScrollIntoView(ctx, card.Element)
	if err := wait.Click(ctx, page, card.Element); err != nil {
		return fmt.Errorf("%w: click card %d: %v", ErrOpenFailed, card.Index, err)
	}
	if !o.Assign.IsZero() {
		assign, err := wait.Clickable(ctx, page, o.Assign, wait.Options{Timeout: o.AssignTimeout, Interval: o.Poll, Clock: o.Clock})
		if err == nil {
			_ = wait.Click(ctx, page, assign)
		}
	}
	if _, err := wait.Present(ctx, page, o.Input, wait.Options{Timeout: o.OpenTimeout, Interval: o.Poll, Clock: o.Clock}); err != nil {
		return fmt.Errorf("%w: card %d: %v", ErrOpenFailed, card.Index, err)
	}
	return nil
}

func clickWhenReady(ctx context.Context, s surface.Surface, loc surface.Locator, opts wait.Options) error {
	el, err := wait.Clickable(ctx, s, loc, opts)
	if err != nil {
		return err
	}
	return wait.Click(ctx, s, el)
}

func typeInto(ctx context.Context, s surface.Surface, loc surface.Locator, text string, opts wait.Options) error {
	el, err := wait.Present(ctx, s, loc, opts)
	if err != nil {
		return err
	}
	return s.Type(ctx, el, text)
}
