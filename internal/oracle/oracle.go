// Package oracle decides whether a sent message actually reached the backend by
// looking for its correlation token in the page's network traffic.
package oracle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/wait"
)

const DefaultPollInterval = 250 * time.Millisecond

// Oracle polls a single page's traffic observer. It is not shared between sessions.
type Oracle struct {
	observer surface.TrafficObserver
	logger   *zap.Logger
	interval time.Duration
	clock    wait.Clock
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithPollInterval sets how often the traffic log is inspected.
func WithPollInterval(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithClock injects the clock used for polling.
func WithClock(c wait.Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

// New creates an Oracle over the given traffic observer.
func New(observer surface.TrafficObserver, logger *zap.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		observer: observer,
		logger:   logger.Named("oracle"),
		interval: DefaultPollInterval,
		clock:    wait.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Confirm reports whether token shows up in any observed payload before timeout.
//
// The traffic log is drained when the attempt starts so payloads belonging to an
// earlier message are discarded. The drained batch is still checked for this
// token: a fast backend can echo the frame between the click and this call, and
// because tokens are unique across the run a match there can only be ours.
// Observation errors count as "no evidence yet".
func (o *Oracle) Confirm(ctx context.Context, token string, timeout time.Duration) bool {
	if token == "" {
		return false
	}

	drained, err := o.observer.ObserveTraffic(ctx)
	if err != nil {
		o.logger.Debug("Traffic observation failed while draining.", zap.Error(err))
	}
	if match(drained, token) {
		return true
	}

	opts := wait.Options{Timeout: timeout, Interval: o.interval, Clock: o.clock}
	_, err = wait.Poll(ctx, opts, func(ctx context.Context) (struct{}, bool, error) {
		payloads, err := o.observer.ObserveTraffic(ctx)
		if err != nil {
			o.logger.Debug("Traffic observation failed, will retry.", zap.Error(err))
			return struct{}{}, false, nil
		}
		return struct{}{}, match(payloads, token), nil
	})
	if err != nil {
		o.logger.Debug("Token not observed.", zap.String("token", token), zap.Duration("timeout", timeout))
		return false
	}
	return true
}

func match(payloads []surface.Payload, token string) bool {
	for _, p := range payloads {
		if strings.Contains(p.Body, token) {
			return true
		}
	}
	return false
}
