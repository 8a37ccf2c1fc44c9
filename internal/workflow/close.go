package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/uistate"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

func (x *execution) close(ctx context.Context) error {
	w := x.w
	sel := w.cfg.Selectors
	t := w.cfg.Timing

	var card queue.Card
	var tracked bool
	if w.cards != nil {
		card, tracked = w.cards.Selected(ctx, x.page)
	}

	x.enter(CloseInit)
	closeBtn, err := wait.Clickable(ctx, x.page, sel.Close, w.opts(t.ElementWait))
	if err != nil {
		return fmt.Errorf("close control: %w", err)
	}
	if err := wait.Click(ctx, x.page, closeBtn); err != nil {
		return fmt.Errorf("click close: %w", err)
	}

	x.enter(SetDisposition)
	submit := wait.ByLocator(sel.Submit)
	if _, err := wait.Present(ctx, x.page, sel.Submit, w.opts(t.ElementWait)); err != nil {
		return fmt.Errorf("close dialog never appeared: %w", err)
	}
	if wait.IsEnabledNow(ctx, x.page, submit) {
		x.logger.Debug("Submit already enabled, leaving disposition untouched.")
	} else if err := w.SetDisposition(ctx, x.page); err != nil {
		return err
	}

	x.enter(Submit)
	submitBtn, err := wait.Enabled(ctx, x.page, submit, w.opts(t.DispositionWait))
	if err != nil {
		return fmt.Errorf("submit never enabled: %w", err)
	}
	if err := wait.Click(ctx, x.page, submitBtn); err != nil {
		return fmt.Errorf("click submit: %w", err)
	}

	x.enter(Acknowledge)
	x.acknowledge(ctx)

	x.enter(AwaitSettled)
	if !wait.Gone(ctx, x.page, sel.Input, w.opts(t.InputGone)) {
		x.logger.Debug("Message input still visible after close.")
	}
	if tracked {
		if wait.CardSettled(ctx, x.page, card.Element, w.opts(t.CardSettle)) {
			if err := wait.Sleep(ctx, w.clock, t.SettlePause); err != nil {
				return err
			}
		} else {
			x.logger.Warn("Closed card never turned grey.", zap.Int("card", card.Index))
		}
	}
	return wait.Sleep(ctx, w.clock, t.FinalPause)
}

// acknowledge dismisses the post-submit confirmation if one shows up.
func (x *execution) acknowledge(ctx context.Context) {
	w := x.w
	loc := w.cfg.Selectors.Acknowledge
	if loc.IsZero() {
		return
	}
	opts := w.opts(w.cfg.Timing.Acknowledge)
	ok, err := wait.Clickable(ctx, x.page, loc, opts)
	if err != nil {
		return
	}
	if err := wait.Click(ctx, x.page, ok); err != nil {
		x.logger.Debug("Acknowledge click failed.", zap.Error(err))
		return
	}
	wait.Gone(ctx, x.page, loc, opts)
}

// SetDisposition makes the configured answer the only checked one and fills a
// reason still showing its placeholder. Controls already in the wanted state are
// not clicked, so calling it twice is a no-op the second time.
func (w *Workflow) SetDisposition(ctx context.Context, s surface.Surface) error {
	sel := w.cfg.Selectors
	want, other := sel.Yes, sel.No
	if w.cfg.Disposition == DispositionNo {
		want, other = sel.No, sel.Yes
	}
	if err := w.ensureChecked(ctx, s, want, true); err != nil {
		return fmt.Errorf("disposition %s: %w", w.cfg.Disposition, err)
	}
	if !other.IsZero() {
		if err := w.ensureChecked(ctx, s, other, false); err != nil {
			return fmt.Errorf("clear opposite disposition: %w", err)
		}
	}
	if err := w.pickReason(ctx, s); err != nil {
		return fmt.Errorf("close reason: %w", err)
	}
	return nil
}

func (w *Workflow) ensureChecked(ctx context.Context, s surface.Surface, loc surface.Locator, want bool) error {
	box, err := wait.Present(ctx, s, loc, w.opts(w.cfg.Timing.ElementWait))
	if err != nil {
		return err
	}
	snap, err := uistate.Capture(ctx, s, box)
	if err != nil {
		return err
	}
	if uistate.IsChecked(snap) == want {
		return nil
	}
	if err := wait.Click(ctx, s, box); err != nil {
		return err
	}
	if !wait.Until(ctx, w.opts(w.cfg.Timing.DispositionWait), func(ctx context.Context) bool {
		el, err := s.FindElement(ctx, loc)
		if err != nil {
			return false
		}
		snap, err := uistate.Capture(ctx, s, el)
		return err == nil && uistate.IsChecked(snap) == want
	}) {
		return fmt.Errorf("%s did not become checked=%t: %w", loc, want, wait.ErrTimeout)
	}
	return nil
}

func (w *Workflow) pickReason(ctx context.Context, s surface.Surface) error {
	sel := w.cfg.Selectors
	if sel.ReasonLabel.IsZero() {
		return nil
	}
	label, err := wait.Present(ctx, s, sel.ReasonLabel, w.opts(w.cfg.Timing.ReasonProbe))
	if err != nil {
		return nil
	}
	if !w.placeholderShown(ctx, s, label) {
		return nil
	}

	trigger, err := wait.Clickable(ctx, s, sel.ReasonTrigger, w.opts(w.cfg.Timing.ElementWait))
	if err != nil {
		return err
	}
	if err := wait.Click(ctx, s, trigger); err != nil {
		return err
	}
	option, err := wait.Clickable(ctx, s, sel.ReasonOption, w.opts(w.cfg.Timing.ElementWait))
	if err != nil {
		return err
	}
	if err := wait.Click(ctx, s, option); err != nil {
		return err
	}
	if !wait.Until(ctx, w.opts(w.cfg.Timing.DispositionWait), func(ctx context.Context) bool {
		el, err := s.FindElement(ctx, sel.ReasonLabel)
		return err == nil && !w.placeholderShown(ctx, s, el)
	}) {
		return fmt.Errorf("reason still unset: %w", wait.ErrTimeout)
	}
	return nil
}

func (w *Workflow) placeholderShown(ctx context.Context, s surface.Surface, el surface.Element) bool {
	snap, err := uistate.Capture(ctx, s, el)
	return err == nil && uistate.IsPlaceholder(snap)
}
