package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// Manager implements the surface.Browser interface.
// It owns one browser process and hands out isolated browser contexts on it.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config

	// ChromeDP allocator context manages the underlying browser executable.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// The first tab; isolated contexts are created next to it.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// Track active pages for graceful shutdown.
	sessions map[string]*Page
	mu       sync.Mutex
}

// Ensure Manager implements the interface.
var _ surface.Browser = (*Manager)(nil)

// NewManager starts the browser process.
func NewManager(ctx context.Context, logger *zap.Logger, cfg *config.Config) (*Manager, error) {
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Page),
	}

	opts := m.generateAllocatorOptions()
	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// An empty Run launches the process and attaches the first tab.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocatorCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	m.logger.Info("Browser manager initialized",
		zap.Bool("headless", cfg.Browser.Headless),
		zap.Bool("proxy_enabled", cfg.Network.Proxy.Enabled),
		zap.String("proxy_address", cfg.Network.Proxy.Address),
	)
	return m, nil
}

// generateAllocatorOptions configures the flags for the browser executable.
func (m *Manager) generateAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	browserCfg := m.cfg.Browser
	proxyCfg := m.cfg.Network.Proxy

	// DefaultExecAllocatorOptions is headless; a visible window needs the flag off.
	if browserCfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		// GPU often causes issues in headless/containerized environments.
		chromedp.Flag("disable-gpu", browserCfg.Headless),

		chromedp.Flag("ignore-certificate-errors", browserCfg.IgnoreTLSErrors),
	)

	if w, h := browserCfg.Viewport["width"], browserCfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	if browserCfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(browserCfg.UserAgent))
	}
	if browserCfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(browserCfg.ExecPath))
	}
	for _, arg := range browserCfg.Args {
		name, value := splitFlag(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}

	if proxyCfg.Enabled && proxyCfg.Address != "" {
		proxyURL := proxyCfg.Address
		if u, err := url.Parse(proxyURL); err != nil || u.Scheme == "" || u.Host == "" {
			proxyURL = "http://" + proxyCfg.Address
		}
		if _, err := url.Parse(proxyURL); err == nil {
			opts = append(opts, chromedp.ProxyServer(proxyURL))
		} else {
			m.logger.Error("Invalid proxy address in config, cannot set proxy", zap.String("address", proxyCfg.Address))
		}
	}

	return opts
}

// splitFlag turns "--name=value" or "name" into a chromedp flag pair.
func splitFlag(arg string) (string, interface{}) {
	for len(arg) > 0 && arg[0] == '-' {
		arg = arg[1:]
	}
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:]
		}
	}
	return arg, true
}

// NewIsolatedContext opens a tab in a fresh browser context. It shares no
// cookies or storage with any other page and has its own traffic log.
func (m *Manager) NewIsolatedContext(ctx context.Context) (surface.Page, error) {
	tabCtx, cancel := chromedp.NewContext(m.browserCtx, chromedp.WithNewBrowserContext())

	id := uuid.New().String()
	logger := m.logger.With(zap.String("page", id))
	page := &Page{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: logger,
		harvester: NewHarvester(tabCtx, logger, HarvesterOptions{
			Keywords:      m.cfg.Network.TrafficURLKeywords,
			CaptureBodies: m.cfg.Network.CaptureBodies,
			MaxBodyBytes:  m.cfg.Network.MaxBodyBytes,
		}),
	}

	// The first Run on a tab must use the tab's own context, or the tab dies
	// with the derived one. Cancelling ctx closes the half-built tab instead.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx)
	if err == nil {
		err = page.harvester.Start()
	}
	if err == nil {
		err = chromedp.Run(tabCtx, chromedp.Navigate("about:blank"))
	}
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		page.harvester.Stop()
		cancel()
		return nil, fmt.Errorf("failed to initialize browser context: %w", err)
	}

	m.mu.Lock()
	m.sessions[id] = page
	m.mu.Unlock()

	logger.Debug("Isolated context opened.")
	return page, nil
}

// CloseContext closes the page's tab and disposes of its browser context.
func (m *Manager) CloseContext(ctx context.Context, p surface.Page) error {
	page, ok := p.(*Page)
	if !ok {
		return fmt.Errorf("page %q was not created by this manager", p.ID())
	}

	m.mu.Lock()
	delete(m.sessions, page.id)
	m.mu.Unlock()

	return page.close(ctx)
}

// Shutdown closes every open page and then the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager...")

	m.mu.Lock()
	pagesToClose := make([]*Page, 0, len(m.sessions))
	for _, p := range m.sessions {
		pagesToClose = append(pagesToClose, p)
	}
	m.sessions = make(map[string]*Page)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pagesToClose {
		wg.Add(1)
		go func(p *Page) {
			defer wg.Done()
			closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := p.close(closeCtx); err != nil {
				m.logger.Warn("Error closing page during shutdown", zap.String("page", p.id), zap.Error(err))
			}
		}(p)
	}
	wg.Wait()

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return nil
}

// Open reports how many pages are currently open.
func (m *Manager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
