package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/clock/system"
	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// ErrNotReady is returned when the readiness marker never appears.
var ErrNotReady = errors.New("page not ready")

const (
	readyStateExpr    = `document.readyState === "complete"`
	scrollHeightExpr  = `document.body ? document.body.scrollHeight : 0`
	defaultPollPeriod = 250 * time.Millisecond
)

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the operational logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFallback runs s whenever the browser extraction yields nothing.
func WithFallback(s scraper.Strategy) Option {
	return func(r *Runner) {
		r.fallback = s
	}
}

// WithSleep replaces the context-aware pause used by the scroll loop and the
// readiness poll.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithPollInterval sets how often readiness is re-checked.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// Runner executes the shared extraction protocol for one Profile.
type Runner struct {
	profile  Profile
	script   string
	browser  scraper.Browser
	fallback scraper.Strategy
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	poll     time.Duration
}

var _ scraper.Strategy = (*Runner)(nil)

// NewRunner builds a strategy from profile. script is the JavaScript
// expression evaluated once the page has settled.
func NewRunner(profile Profile, script string, browser scraper.Browser, opts ...Option) *Runner {
	r := &Runner{
		profile: profile,
		script:  script,
		browser: browser,
		logger:  zap.NewNop(),
		sleep:   system.Sleep,
		poll:    defaultPollPeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("strategy", profile.Name))
	return r
}

// Name reports the profile name.
func (r *Runner) Name() string {
	return r.profile.Name
}

// Profile exposes the configuration the runner was built with.
func (r *Runner) Profile() Profile {
	return r.profile
}

// Extract opens a browser session, extracts candidate offers from pageURL and
// always releases the session. Failures are reported through log and produce
// partial or empty output.
func (r *Runner) Extract(ctx context.Context, pageURL string, log progress.Logger) []scraper.RawItem {
	if log == nil {
		log = progress.Discard
	}
	items, err := r.extract(ctx, pageURL, log)
	if err != nil {
		r.logger.Warn("extraction failed", zap.String("url", pageURL), zap.Error(err))
		log.Log(fmt.Sprintf("❌ %s extraction failed: %v", r.profile.Name, err), progress.LevelError)
	}
	if len(items) == 0 && r.fallback != nil {
		log.Log("⚠️ no products visible in the browser, trying the fallback", progress.LevelWarning)
		items = r.fallback.Extract(ctx, pageURL, log)
	}
	log.Log(fmt.Sprintf("🔎 %d valid products found", len(items)), progress.LevelInfo)
	return items
}

func (r *Runner) extract(ctx context.Context, pageURL string, log progress.Logger) ([]scraper.RawItem, error) {
	if r.browser == nil {
		return nil, errors.New("browser not configured")
	}
	session, err := r.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open browser session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Debug("close browser session", zap.Error(cerr))
		}
		log.Log("🧹 browser session closed", progress.LevelInfo)
	}()
	log.Log(fmt.Sprintf("🚀 browser session acquired for %s", r.profile.Name), progress.LevelInfo)

	if err := r.navigate(ctx, session, pageURL); err != nil {
		return nil, err
	}
	log.Log(fmt.Sprintf("🌐 loaded %s", pageURL), progress.LevelInfo)

	if err := r.waitReady(ctx, session); err != nil {
		if !r.profile.Readiness.Optional {
			return nil, err
		}
		log.Log("⚠️ readiness marker not found, extracting anyway", progress.LevelWarning)
	}

	if _, err := r.scroll(ctx, session); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scroll: %w", err)
		}
		log.Log(fmt.Sprintf("⚠️ scrolling stopped early: %v", err), progress.LevelWarning)
	}

	var raw []scraper.RawItem
	if err := session.Evaluate(ctx, r.script, &raw); err != nil {
		return nil, fmt.Errorf("evaluate extraction script: %w", err)
	}
	log.Log(fmt.Sprintf("📦 %d products captured", len(raw)), progress.LevelInfo)

	return r.finish(raw, pageURL, log), nil
}

func (r *Runner) navigate(ctx context.Context, session scraper.Session, pageURL string) error {
	navCtx := ctx
	if r.profile.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, r.profile.PageLoadTimeout)
		defer cancel()
	}
	if err := session.Navigate(navCtx, pageURL); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// waitReady polls the readiness expression until it holds or the readiness
// timeout elapses.
func (r *Runner) waitReady(ctx context.Context, session scraper.Session) error {
	readyCtx := ctx
	if r.profile.ReadinessTimeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, r.profile.ReadinessTimeout)
		defer cancel()
	}
	expr := readinessExpr(r.profile.Readiness)
	var lastErr error
	for {
		var ready bool
		err := session.Evaluate(readyCtx, expr, &ready)
		if err == nil && ready {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if serr := r.sleep(readyCtx, r.poll); serr != nil {
			if lastErr != nil {
				return fmt.Errorf("%w: %w", ErrNotReady, lastErr)
			}
			return fmt.Errorf("%w: %w", ErrNotReady, serr)
		}
	}
}

// scroll advances the page by a fixed step until the document height stops
// growing or the iteration bound is reached. It reports the iterations run.
func (r *Runner) scroll(ctx context.Context, session scraper.Session) (int, error) {
	cfg := r.profile.Scroll
	if cfg.MaxIterations <= 0 {
		return 0, nil
	}
	step := fmt.Sprintf("window.scrollBy(0, %d)", cfg.Step)
	last := -1.0
	iterations := 0
	for iterations < cfg.MaxIterations {
		iterations++
		if err := session.Evaluate(ctx, step, nil); err != nil {
			return iterations, err
		}
		if err := r.sleep(ctx, cfg.Pause); err != nil {
			return iterations, err
		}
		var height float64
		if err := session.Evaluate(ctx, scrollHeightExpr, &height); err != nil {
			return iterations, err
		}
		if height == last {
			break
		}
		last = height
	}
	if err := r.sleep(ctx, cfg.Settle); err != nil {
		return iterations, err
	}
	return iterations, nil
}

// finish drops items without a positive price, resolves links and stamps
// store and category.
func (r *Runner) finish(raw []scraper.RawItem, pageURL string, log progress.Logger) []scraper.RawItem {
	base := r.profile.BaseURL
	if base == "" {
		base = origin(pageURL)
	}
	store := r.profile.Store
	if store == "" {
		store = scraper.StoreFromURL(pageURL)
	}
	out := make([]scraper.RawItem, 0, len(raw))
	for _, item := range raw {
		price, ok := scraper.PositivePrice(item.PriceText)
		if !ok {
			continue
		}
		item.Title = strings.TrimSpace(item.Title)
		item.Link = scraper.ResolveLink(base, item.Link)
		item.Store = store
		item.Category = r.category(item.Brand)
		out = append(out, item)
		log.Log(fmt.Sprintf("✅ %s - R$ %s", item.Title, price.StringFixed(2)), progress.LevelSuccess)
	}
	return out
}

func (r *Runner) category(brand string) string {
	if brand = strings.TrimSpace(brand); r.profile.CategoryFromBrand && brand != "" {
		return brand
	}
	if r.profile.Category != "" {
		return r.profile.Category
	}
	return DefaultCategory
}

func readinessExpr(ready Readiness) string {
	switch {
	case ready.Text != "":
		return fmt.Sprintf("!!document.body && document.body.innerText.includes(%s)", jsString(ready.Text))
	case ready.Selector != "":
		return fmt.Sprintf("document.querySelector(%s) !== null", jsString(ready.Selector))
	default:
		return readyStateExpr
	}
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
