package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/surface/surfacetest"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func manualOpts(timeout time.Duration) (Options, *ManualClock) {
	clk := NewManualClock(epoch)
	return Options{Timeout: timeout, Interval: 250 * time.Millisecond, Clock: clk}, clk
}

func TestPoll(t *testing.T) {
	t.Run("returns first satisfied value", func(t *testing.T) {
		opts, clk := manualOpts(time.Second)
		calls := 0
		v, err := Poll(context.Background(), opts, func(ctx context.Context) (int, bool, error) {
			calls++
			return calls, calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, v)
		assert.Equal(t, 500*time.Millisecond, clk.Now().Sub(epoch))
	})

	t.Run("times out exactly at the deadline", func(t *testing.T) {
		opts, clk := manualOpts(time.Second)
		calls := 0
		_, err := Poll(context.Background(), opts, func(ctx context.Context) (int, bool, error) {
			calls++
			return 0, false, nil
		})
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 5, calls, "probe at 0, 250, 500, 750 and 1000ms")
		assert.Equal(t, time.Second, clk.Now().Sub(epoch))
	})

	t.Run("probe errors mean not yet", func(t *testing.T) {
		opts, _ := manualOpts(time.Second)
		calls := 0
		v, err := Poll(context.Background(), opts, func(ctx context.Context) (string, bool, error) {
			calls++
			if calls < 2 {
				return "", true, errors.New("transient")
			}
			return "ok", true, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		opts, _ := manualOpts(time.Second)
		_, err := Poll(ctx, opts, func(ctx context.Context) (int, bool, error) { return 0, false, nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSleep(t *testing.T) {
	clk := NewManualClock(epoch)
	require.NoError(t, Sleep(context.Background(), clk, 700*time.Millisecond))
	assert.Equal(t, 700*time.Millisecond, clk.Now().Sub(epoch))
}

func TestEnabled_ReResolvesEachPoll(t *testing.T) {
	page := surfacetest.New("p1")
	loc := surface.CSS("button.send")
	first := surfacetest.NewNode("send-old", "button", map[string]string{"class": "p-button p-disabled"})
	page.Set(loc, first)

	opts, _ := manualOpts(2 * time.Second)
	polls := 0
	resolve := func(ctx context.Context, s surface.Surface) (surface.Element, error) {
		polls++
		if polls == 3 {
			// The UI re-renders the button; the old handle goes stale.
			first.Detached = true
			page.Set(loc, surfacetest.NewNode("send-new", "button", map[string]string{"class": "p-button"}))
		}
		return s.FindElement(ctx, loc)
	}

	el, err := Enabled(context.Background(), page, resolve, opts)
	require.NoError(t, err)
	text, _, err := page.Attribute(context.Background(), el, "class")
	require.NoError(t, err)
	assert.Equal(t, "p-button", text)
	assert.Equal(t, 3, polls)
}

func TestEnabled_TimesOut(t *testing.T) {
	page := surfacetest.New("p1")
	loc := surface.CSS("button.send")
	page.Set(loc, surfacetest.NewNode("send", "button", map[string]string{"aria-disabled": "true"}))

	opts, _ := manualOpts(time.Second)
	_, err := Enabled(context.Background(), page, ByLocator(loc), opts)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestFirstVisible(t *testing.T) {
	page := surfacetest.New("p1")
	hidden := surfacetest.NewNode("hidden", "button", nil)
	hidden.Hidden = true
	page.Set(surface.CSS("#a"), hidden)
	page.Set(surface.CSS("#b"), surfacetest.NewNode("shown", "button", nil))

	el, err := FirstVisible(surface.CSS("#missing"), surface.CSS("#a"), surface.CSS("#b"))(context.Background(), page)
	require.NoError(t, err)
	ok, _ := page.Visible(context.Background(), el)
	assert.True(t, ok)

	_, err = FirstVisible(surface.CSS("#a"))(context.Background(), page)
	assert.ErrorIs(t, err, surface.ErrNotFound)
}

func TestOverlayGone(t *testing.T) {
	loc := surface.CSS(".p-toast")
	appear, _ := manualOpts(500 * time.Millisecond)

	t.Run("never appeared", func(t *testing.T) {
		page := surfacetest.New("p1")
		opts, _ := manualOpts(6 * time.Second)
		assert.True(t, OverlayGone(context.Background(), page, loc, appear, opts))
	})

	t.Run("appeared then disappeared", func(t *testing.T) {
		page := surfacetest.New("p1")
		toast := surfacetest.NewNode("toast", "div", nil)
		page.Set(loc, toast)
		s := &hookedSurface{Fake: page, onVisible: func(calls int) {
			if calls == 4 {
				toast.Hidden = true
			}
		}}
		opts, _ := manualOpts(6 * time.Second)
		assert.True(t, OverlayGone(context.Background(), s, loc, appear, opts))
	})

	t.Run("still visible is swallowed", func(t *testing.T) {
		page := surfacetest.New("p1")
		page.Set(loc, surfacetest.NewNode("toast", "div", nil))
		opts, _ := manualOpts(6 * time.Second)
		assert.False(t, OverlayGone(context.Background(), page, loc, appear, opts))
	})
}

func TestCardSettled(t *testing.T) {
	t.Run("card turns grey", func(t *testing.T) {
		page := surfacetest.New("p1")
		card := surfacetest.NewNode("card", "div", map[string]string{"class": "chat-item selected"})
		page.Set(surface.CSS(".chat-item"), card)
		el, err := page.FindElement(context.Background(), surface.CSS(".chat-item"))
		require.NoError(t, err)

		s := &hookedSurface{Fake: page, onOuterHTML: func(calls int) {
			if calls == 3 {
				card.AddClass("closed-item-light")
			}
		}}
		opts, clk := manualOpts(4 * time.Second)
		assert.True(t, CardSettled(context.Background(), s, el, opts))
		assert.Equal(t, 500*time.Millisecond, clk.Now().Sub(epoch))
	})

	t.Run("stale handle counts as settled", func(t *testing.T) {
		page := surfacetest.New("p1")
		card := surfacetest.NewNode("card", "div", map[string]string{"class": "chat-item"})
		page.Set(surface.CSS(".chat-item"), card)
		el, _ := page.FindElement(context.Background(), surface.CSS(".chat-item"))
		card.Detached = true

		opts, _ := manualOpts(4 * time.Second)
		assert.True(t, CardSettled(context.Background(), page, el, opts))
	})

	t.Run("open card never settles", func(t *testing.T) {
		page := surfacetest.New("p1")
		page.Set(surface.CSS(".chat-item"), surfacetest.NewNode("card", "div", map[string]string{"class": "chat-item"}))
		el, _ := page.FindElement(context.Background(), surface.CSS(".chat-item"))

		opts, _ := manualOpts(4 * time.Second)
		assert.False(t, CardSettled(context.Background(), page, el, opts))
	})
}

func TestClick(t *testing.T) {
	ctx := context.Background()

	t.Run("direct click", func(t *testing.T) {
		page := surfacetest.New("p1")
		page.Set(surface.CSS("#b"), surfacetest.NewNode("b", "button", nil))
		el, _ := page.FindElement(ctx, surface.CSS("#b"))
		require.NoError(t, Click(ctx, page, el))
		assert.Equal(t, 1, page.Clicks("b"))
		assert.Equal(t, 0, page.ForceClicks("b"))
	})

	t.Run("intercepted falls back to forced click", func(t *testing.T) {
		page := surfacetest.New("p1")
		n := surfacetest.NewNode("b", "button", nil)
		n.Intercept = true
		page.Set(surface.CSS("#b"), n)
		el, _ := page.FindElement(ctx, surface.CSS("#b"))
		require.NoError(t, Click(ctx, page, el))
		assert.Equal(t, 1, page.ForceClicks("b"))
	})

	t.Run("stale handle is not retried", func(t *testing.T) {
		page := surfacetest.New("p1")
		n := surfacetest.NewNode("b", "button", nil)
		page.Set(surface.CSS("#b"), n)
		el, _ := page.FindElement(ctx, surface.CSS("#b"))
		n.Detached = true
		assert.ErrorIs(t, Click(ctx, page, el), surface.ErrStale)
		assert.Equal(t, 0, page.Clicks("b"))
	})
}

// hookedSurface lets a test mutate the fake between observations.
type hookedSurface struct {
	*surfacetest.Fake
	visibleCalls int
	outerCalls   int
	onVisible    func(calls int)
	onOuterHTML  func(calls int)
}

func (h *hookedSurface) Visible(ctx context.Context, el surface.Element) (bool, error) {
	h.visibleCalls++
	if h.onVisible != nil {
		h.onVisible(h.visibleCalls)
	}
	return h.Fake.Visible(ctx, el)
}

func (h *hookedSurface) OuterHTML(ctx context.Context, el surface.Element) (string, error) {
	h.outerCalls++
	if h.onOuterHTML != nil {
		h.onOuterHTML(h.outerCalls)
	}
	return h.Fake.OuterHTML(ctx, el)
}
