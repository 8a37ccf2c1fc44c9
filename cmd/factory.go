// File: cmd/factory.go

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/browser"
	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/metrics"
	"github.com/colorsRGB/AutomationScripts/internal/oracle"
)

// Components holds the services shared by every session of a run.
type Components struct {
	BrowserManager *browser.Manager
	Metrics        *metrics.Metrics
	// Tokens is shared so confirmation tokens stay unique across the run.
	Tokens *oracle.TokenSource

	metricsCancel context.CancelFunc
	metricsWG     sync.WaitGroup
	logger        *zap.Logger
}

// initializeComponents starts the metrics listener (when enabled) and the browser.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{
		Metrics: metrics.New(),
		Tokens:  oracle.NewTokenSource(cfg.Workflow.TokenLength),
		logger:  logger,
	}

	if cfg.Metrics.Enabled {
		mctx, cancel := context.WithCancel(ctx)
		c.metricsCancel = cancel
		c.metricsWG.Add(1)
		go func() {
			defer c.metricsWG.Done()
			if err := c.Metrics.Serve(mctx, cfg.Metrics.Address, logger); err != nil {
				logger.Error("Metrics listener failed.", zap.Error(err))
			}
		}()
	}

	bm, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		c.Shutdown()
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}
	c.BrowserManager = bm
	return c, nil
}

// Shutdown closes the browser before stopping the metrics listener so the
// final counters stay scrapeable until the last page is gone.
func (c *Components) Shutdown() {
	c.logger.Debug("Beginning components shutdown sequence.")

	if c.BrowserManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.BrowserManager.Shutdown(ctx); err != nil {
			c.logger.Warn("Browser manager shutdown failed.", zap.Error(err))
		}
		cancel()
	}

	if c.metricsCancel != nil {
		c.metricsCancel()
	}
	c.metricsWG.Wait()
	c.logger.Debug("Components shutdown complete.")
}
