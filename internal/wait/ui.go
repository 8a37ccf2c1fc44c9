package wait

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/uistate"
)

// Resolver locates an element afresh. Waits call it on every poll so a handle
// invalidated by a re-render is never reused.
type Resolver func(ctx context.Context, s surface.Surface) (surface.Element, error)

// ByLocator resolves the first element matching loc.
func ByLocator(loc surface.Locator) Resolver {
	return func(ctx context.Context, s surface.Surface) (surface.Element, error) {
		return s.FindElement(ctx, loc)
	}
}

// FirstVisible tries each locator in order and returns the first visible match.
func FirstVisible(locs ...surface.Locator) Resolver {
	return func(ctx context.Context, s surface.Surface) (surface.Element, error) {
		for _, loc := range locs {
			if loc.IsZero() {
				continue
			}
			el, err := s.FindElement(ctx, loc)
			if err != nil {
				continue
			}
			if ok, err := s.Visible(ctx, el); err == nil && ok {
				return el, nil
			}
		}
		return surface.Element{}, fmt.Errorf("%w: none of %d candidates visible", surface.ErrNotFound, len(locs))
	}
}

// Present waits for an element to exist.
func Present(ctx context.Context, s surface.Surface, loc surface.Locator, opts Options) (surface.Element, error) {
	return Poll(ctx, opts, func(ctx context.Context) (surface.Element, bool, error) {
		el, err := s.FindElement(ctx, loc)
		return el, err == nil, err
	})
}

// Visible waits for an element to exist and be displayed.
func Visible(ctx context.Context, s surface.Surface, loc surface.Locator, opts Options) (surface.Element, error) {
	return Poll(ctx, opts, func(ctx context.Context) (surface.Element, bool, error) {
		el, err := s.FindElement(ctx, loc)
		if err != nil {
			return el, false, err
		}
		ok, err := s.Visible(ctx, el)
		return el, ok, err
	})
}

// Clickable waits for an element to be displayed and pass the enablement check.
func Clickable(ctx context.Context, s surface.Surface, loc surface.Locator, opts Options) (surface.Element, error) {
	return Enabled(ctx, s, func(ctx context.Context, s surface.Surface) (surface.Element, error) {
		el, err := s.FindElement(ctx, loc)
		if err != nil {
			return el, err
		}
		if ok, err := s.Visible(ctx, el); err != nil || !ok {
			return el, fmt.Errorf("%w: %s hidden", surface.ErrNotInteractable, loc)
		}
		return el, nil
	}, opts)
}

// Enabled waits until the element produced by resolve passes uistate.IsEnabled.
// The element is re-resolved on every poll.
func Enabled(ctx context.Context, s surface.Surface, resolve Resolver, opts Options) (surface.Element, error) {
	return Poll(ctx, opts, func(ctx context.Context) (surface.Element, bool, error) {
		el, err := resolve(ctx, s)
		if err != nil {
			return el, false, err
		}
		snap, err := uistate.Capture(ctx, s, el)
		if err != nil {
			return el, false, err
		}
		return el, uistate.IsEnabled(snap), nil
	})
}

// IsEnabledNow is a single, non-waiting enablement check.
func IsEnabledNow(ctx context.Context, s surface.Surface, resolve Resolver) bool {
	el, err := resolve(ctx, s)
	if err != nil {
		return false
	}
	snap, err := uistate.Capture(ctx, s, el)
	return err == nil && uistate.IsEnabled(snap)
}

// Gone waits until no visible element matches loc. A missing element counts as gone.
func Gone(ctx context.Context, s surface.Surface, loc surface.Locator, opts Options) bool {
	return Until(ctx, opts, func(ctx context.Context) bool {
		return !displayed(ctx, s, loc)
	})
}

// OverlayGone waits for a cosmetic overlay (toast, spinner) to go away. An
// overlay that never shows up within appear counts as gone. One still visible at
// timeout is reported as false and never treated as an error.
func OverlayGone(ctx context.Context, s surface.Surface, loc surface.Locator, appear Options, opts Options) bool {
	appeared := Until(ctx, appear, func(ctx context.Context) bool {
		return displayed(ctx, s, loc)
	})
	if !appeared {
		return true
	}
	return Gone(ctx, s, loc, opts)
}

// CardSettled waits for a card to show a closed or grey marker. A handle that
// went stale means the UI replaced the card, which counts as settled.
func CardSettled(ctx context.Context, s surface.Surface, card surface.Element, opts Options) bool {
	return Until(ctx, opts, func(ctx context.Context) bool {
		snap, err := uistate.Capture(ctx, s, card)
		if errors.Is(err, surface.ErrStale) {
			return true
		}
		if err != nil {
			return false
		}
		return uistate.IsClosedCard(snap)
	})
}

// Click tries a direct click and falls back to a script-level click when the
// direct path is intercepted or the element refuses interaction.
func Click(ctx context.Context, s surface.Surface, el surface.Element) error {
	err := s.Click(ctx, el)
	if err == nil {
		return nil
	}
	if errors.Is(err, surface.ErrIntercepted) || errors.Is(err, surface.ErrNotInteractable) {
		if ferr := s.ForceClick(ctx, el); ferr != nil {
			return fmt.Errorf("forced click after %v: %w", err, ferr)
		}
		return nil
	}
	return err
}

func displayed(ctx context.Context, s surface.Surface, loc surface.Locator) bool {
	els, err := s.FindAll(ctx, loc)
	if err != nil {
		return false
	}
	for _, el := range els {
		if ok, err := s.Visible(ctx, el); err == nil && ok {
			return true
		}
	}
	return false
}
