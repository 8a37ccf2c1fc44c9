package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

// WidgetRunner runs one customer-side session per isolated page.
type WidgetRunner struct {
	Opener      *WidgetOpener
	Workflow    *Workflow
	MinMessages int
	MaxMessages int
	Close       bool
}

// RunSession opens the widget on page and drives the workflow. The caller owns page.
func (r *WidgetRunner) RunSession(ctx context.Context, page surface.Page, index int) error {
	if err := r.Opener.Open(ctx, page, index); err != nil {
		return err
	}
	_, err := r.Workflow.Run(ctx, page, Plan{
		Session:  index,
		Messages: MessageCount(r.MinMessages, r.MaxMessages),
		Close:    r.Close,
	})
	return err
}

// maxOpenFailures stops the queue loop when cards keep refusing to open.
const maxOpenFailures = 3

// QueueReport summarises a queue run.
type QueueReport struct {
	Processed int
	Partial   int
	Skipped   int
	Elapsed   time.Duration
}

// QueueRunner works through the agent console queue one card at a time on a
// single page.
type QueueRunner struct {
	Entry       *ConsoleEntry
	Cards       *queue.Selector
	Opener      *CardOpener
	Workflow    *Workflow
	MinMessages int
	MaxMessages int
	// MaxChats caps attempted chats. Zero means until the queue is empty.
	MaxChats int
	Toast    surface.Locator
	Appear   time.Duration
	Gone     time.Duration
	Poll     time.Duration
	Clock    wait.Clock
	Logger   *zap.Logger
}

// Run signs in and processes cards until the queue is exhausted, MaxChats is
// reached or ctx ends. Chats whose messages were not all confirmed are left open
// and not picked again during this run.
func (r *QueueRunner) Run(ctx context.Context, page surface.Page) (rep QueueReport, err error) {
	clk := r.Clock
	if clk == nil {
		clk = wait.RealClock{}
	}
	start := clk.Now()
	defer func() {
		rep.Elapsed = clk.Now().Sub(start)
		r.Logger.Info("Queue run finished.",
			zap.Int("processed", rep.Processed),
			zap.Int("partial", rep.Partial),
			zap.Int("skipped", rep.Skipped),
			zap.String("elapsed", FormatElapsed(rep.Elapsed)))
	}()

	if r.Entry != nil {
		if err := r.Entry.Enter(ctx, page); err != nil {
			return rep, fmt.Errorf("console entry: %w", err)
		}
	}

	failures := 0
	for session := 1; r.MaxChats <= 0 || rep.Processed+rep.Partial < r.MaxChats; session++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		card, err := r.Cards.Next(ctx, page)
		if errors.Is(err, queue.ErrExhausted) {
			r.Logger.Info("No eligible chats left.")
			return rep, nil
		}
		if err != nil {
			return rep, err
		}

		if err := r.Opener.Open(ctx, page, card); err != nil {
			rep.Skipped++
			failures++
			r.Logger.Warn("Chat did not open, skipping.", zap.Int("card", card.Index), zap.Error(err))
			if failures >= maxOpenFailures {
				return rep, fmt.Errorf("%d chats in a row failed to open: %w", failures, err)
			}
			continue
		}
		failures = 0

		res, err := r.Workflow.Run(ctx, page, Plan{
			Session:  session,
			Messages: MessageCount(r.MinMessages, r.MaxMessages),
			Close:    true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Partial++
			r.Cards.Skip(card.Label)
			r.Logger.Warn("Chat left open.",
				zap.Int("session", session),
				zap.Int("confirmed", res.Confirmed),
				zap.Int("planned", res.Planned),
				zap.Error(err))
			continue
		}
		rep.Processed++
		r.Logger.Info("Chat processed.", zap.Int("session", session), zap.Int("processed", rep.Processed))
		WaitOverlay(ctx, page, r.Toast, r.Appear, r.Gone, r.Poll, r.Clock)
	}
	return rep, nil
}

// FormatElapsed renders d as mm:ss.
func FormatElapsed(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
