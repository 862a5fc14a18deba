package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-offer-scraper/internal/retry"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// ErrBrowserDisabled indicates browser automation is not configured.
var ErrBrowserDisabled = errors.New("browser disabled")

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("browser session closed")

const defaultStepTimeout = 60 * time.Second

// Config controls the Chrome connection.
//   - EndpointURL: DevTools websocket of a remote browser; empty starts a
//     local headless Chrome.
//   - MaxParallel: concurrent tabs (0 means unlimited).
//   - HostQPS: navigations per second per host (0 disables pacing).
//   - ConnectAttempts/ConnectDelay: fixed retry when reaching the browser.
type Config struct {
	EndpointURL     string
	MaxParallel     int
	UserAgent       string
	HostQPS         float64
	ConnectAttempts int
	ConnectDelay    time.Duration
}

// Browser implements scraper.Browser on top of one shared Chrome instance.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	sem     chan struct{}
	limiter *ratelimit.Limiter
}

// New connects to Chrome, retrying with a fixed delay, and returns a ready
// Browser.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.HostQPS < 0 {
		return nil, fmt.Errorf("host qps must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{cfg: cfg, logger: logger}
	if cfg.MaxParallel > 0 {
		b.sem = make(chan struct{}, cfg.MaxParallel)
	}
	if cfg.HostQPS > 0 {
		b.limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HostQPS, DefaultBurst: 1})
	}

	policy := retry.Fixed{MaxAttempts: cfg.ConnectAttempts, Delay: cfg.ConnectDelay, Logger: logger}
	err := policy.Do(ctx, "connect to browser", func(context.Context, int) error {
		return b.connect()
	})
	if err != nil {
		return nil, err
	}
	logger.Info("browser ready",
		zap.Bool("remote", cfg.EndpointURL != ""),
		zap.Int("max_parallel", cfg.MaxParallel),
	)
	return b, nil
}

func (b *Browser) connect() error {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if b.cfg.EndpointURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.EndpointURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("enable-automation", false),
		)
		if b.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}
	b.allocCancel = allocCancel
	b.browserCtx = browserCtx
	b.browserCancel = browserCancel
	return nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close() error {
	if b == nil || b.browserCancel == nil {
		return nil
	}
	b.browserCancel()
	b.allocCancel()
	return nil
}

// Open waits for a free slot and opens a new tab.
func (b *Browser) Open(ctx context.Context) (scraper.Session, error) {
	if b == nil || b.browserCtx == nil {
		return nil, ErrBrowserDisabled
	}
	release, err := b.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	if err := chromedp.Run(tabCtx, b.tabSetup()); err != nil {
		cancelTab()
		release()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &session{tabCtx: tabCtx, cancel: cancelTab, release: release, browser: b}, nil
}

func (b *Browser) tabSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Browser) acquireSlot(ctx context.Context) (func(), error) {
	if b.sem == nil {
		return func() {}, nil
	}
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire browser slot: %w", ctx.Err())
	}
}

func (b *Browser) waitHostBudget(ctx context.Context, rawURL string) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx, rawURL); err != nil {
		return fmt.Errorf("wait host budget: %w", err)
	}
	return nil
}

// session is one tab. Its operations are sequential.
type session struct {
	tabCtx  context.Context
	cancel  context.CancelFunc
	release func()
	browser *Browser
	once    sync.Once
	closed  bool
	mu      sync.Mutex
}

func (s *session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.browser.waitHostBudget(ctx, rawURL); err != nil {
		return err
	}
	return s.run(ctx, chromedp.Navigate(rawURL))
}

func (s *session) Evaluate(ctx context.Context, expression string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expression, out))
}

// run executes action on the tab bounded by ctx's deadline and cancellation.
func (s *session) run(ctx context.Context, action chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	timeout := defaultStepTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, timeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	if err := chromedp.Run(taskCtx, action); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		s.release()
	})
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
