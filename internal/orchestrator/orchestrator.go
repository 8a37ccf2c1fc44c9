// Package orchestrator runs many independent chat sessions behind a
// concurrency gate. Each session gets its own isolated browser context and is
// retried on failure; the context is always torn down before the gate slot is
// handed to the next session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/observability"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

// SessionRunner performs one session attempt on a page it does not own.
type SessionRunner interface {
	RunSession(ctx context.Context, page surface.Page, index int) error
}

// Recorder receives session lifecycle events.
type Recorder interface {
	SessionStarted()
	SessionFinished(succeeded bool, elapsed time.Duration)
	AttemptRetried()
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted()                     {}
func (nopRecorder) SessionFinished(bool, time.Duration) {}
func (nopRecorder) AttemptRetried()                     {}

// Status is a session's lifecycle position.
type Status int

const (
	Pending Status = iota
	Running
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Session reports one scheduled session. Attempts is the zero-based index of
// the last attempt made, so it stays within 0..retries.
type Session struct {
	Index    int
	Status   Status
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// Summary is the outcome of a run. Succeeded never exceeds Total.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Sessions  []Session
	Elapsed   time.Duration
}

// Options tune a run beyond its size, concurrency and retry budget.
type Options struct {
	// BaseDelay is multiplied by the retry number before each retry.
	BaseDelay time.Duration
	// SessionTimeout bounds a single attempt. Zero means no bound.
	SessionTimeout time.Duration
	// CloseTimeout bounds tearing down an attempt's context.
	CloseTimeout time.Duration
	// Limiter paces session launches when set.
	Limiter  *rate.Limiter
	Clock    wait.Clock
	Recorder Recorder
}

// OptionsFromConfig reads the orchestrator and browser sections.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		BaseDelay:      cfg.Orchestrator.RetryBaseDelay,
		SessionTimeout: cfg.Orchestrator.SessionTimeout,
		CloseTimeout:   cfg.Browser.CloseTimeout,
	}
	if cfg.Orchestrator.LaunchRate > 0 {
		burst := cfg.Orchestrator.LaunchBurst
		if burst <= 0 {
			burst = 1
		}
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.Orchestrator.LaunchRate), burst)
	}
	return opts
}

// Orchestrator schedules sessions against a browser.
type Orchestrator struct {
	browser surface.Browser
	runner  SessionRunner
	opts    Options
	logger  *zap.Logger
}

// New creates an Orchestrator.
func New(browser surface.Browser, runner SessionRunner, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = wait.RealClock{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 10 * time.Second
	}
	return &Orchestrator{
		browser: browser,
		runner:  runner,
		opts:    opts,
		logger:  logger.Named("orchestrator"),
	}
}

// Run executes total sessions with at most concurrency of them in flight, each
// retried up to retries times. Session failures never fail the run; the only
// error returned is the cancellation of ctx.
func (o *Orchestrator) Run(ctx context.Context, total, concurrency, retries int) (Summary, error) {
	if total < 0 || concurrency < 1 || retries < 0 {
		return Summary{}, fmt.Errorf("invalid run shape: total=%d concurrency=%d retries=%d", total, concurrency, retries)
	}

	start := o.opts.Clock.Now()
	sessions := make([]Session, total)
	for i := range sessions {
		sessions[i] = Session{Index: i + 1, Status: Pending}
	}

	o.logger.Info("Starting run.",
		zap.Int("total", total),
		zap.Int("concurrency", concurrency),
		zap.Int("retries", retries))

	gate := semaphore.NewWeighted(int64(concurrency))
	var succeeded atomic.Int64
	var g errgroup.Group
	var launchErr error

	for i := range sessions {
		if err := gate.Acquire(ctx, 1); err != nil {
			launchErr = err
			break
		}
		if o.opts.Limiter != nil {
			if err := o.opts.Limiter.Wait(ctx); err != nil {
				gate.Release(1)
				launchErr = err
				break
			}
		}

		s := &sessions[i]
		g.Go(func() error {
			defer gate.Release(1)
			o.runSession(ctx, s, retries)
			if s.Status == Succeeded {
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{
		Total:     total,
		Succeeded: int(succeeded.Load()),
		Sessions:  sessions,
		Elapsed:   o.opts.Clock.Now().Sub(start),
	}
	for _, s := range sessions {
		if s.Status != Succeeded {
			sum.Failed++
		}
	}

	o.logger.Info("Run finished.",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("total", total),
		zap.Duration("elapsed", sum.Elapsed))

	if launchErr != nil {
		return sum, fmt.Errorf("run interrupted: %w", launchErr)
	}
	return sum, ctx.Err()
}

func (o *Orchestrator) runSession(ctx context.Context, s *Session, retries int) {
	start := o.opts.Clock.Now()
	s.Status = Running
	o.opts.Recorder.SessionStarted()
	defer func() {
		s.Elapsed = o.opts.Clock.Now().Sub(start)
		o.opts.Recorder.SessionFinished(s.Status == Succeeded, s.Elapsed)
	}()

	for attempt := 0; attempt <= retries; attempt++ {
		s.Attempts = attempt
		logger := observability.SessionLogger(o.logger, s.Index, attempt)

		if attempt > 0 {
			o.opts.Recorder.AttemptRetried()
			if err := wait.Sleep(ctx, o.opts.Clock, o.opts.BaseDelay*time.Duration(attempt)); err != nil {
				s.Err = err
				break
			}
		}

		err := o.attempt(ctx, s.Index, logger)
		if err == nil {
			s.Status, s.Err = Succeeded, nil
			logger.Info("Session succeeded.")
			return
		}
		s.Err = err
		logger.Warn("Session attempt failed.", zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	s.Status = Failed
	o.logger.Error("Session failed.", zap.Int("session", s.Index), zap.Int("attempts", s.Attempts+1), zap.Error(s.Err))
}

// attempt runs the session on a fresh isolated context and closes it before
// returning, whatever happened.
func (o *Orchestrator) attempt(ctx context.Context, index int, logger *zap.Logger) (err error) {
	page, err := o.browser.NewIsolatedContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to create isolated context: %w", err)
	}
	defer func() {
		// Cancellation of the run must not skip cleanup.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CloseTimeout)
		defer cancel()
		if cerr := o.browser.CloseContext(closeCtx, page); cerr != nil {
			logger.Warn("Failed to close session context.", zap.String("page", page.ID()), zap.Error(cerr))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()

	sctx := ctx
	if o.opts.SessionTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.opts.SessionTimeout)
		defer cancel()
	}
	if err := o.runner.RunSession(sctx, page, index); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("session timed out after %s: %w", o.opts.SessionTimeout, err)
		}
		return err
	}
	return nil
}
