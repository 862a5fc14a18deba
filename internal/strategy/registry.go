package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// Matcher reports whether a lower-cased URL belongs to a strategy.
type Matcher func(lowerURL string) bool

// ContainsAny matches URLs containing any of the markers.
func ContainsAny(markers ...string) Matcher {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lowered = append(lowered, m)
		}
	}
	return func(lowerURL string) bool {
		for _, m := range lowered {
			if strings.Contains(lowerURL, m) {
				return true
			}
		}
		return false
	}
}

type entry struct {
	name     string
	match    Matcher
	strategy scraper.Strategy
}

// Registry maps page URLs to strategies. Entries are evaluated in
// registration order and the fallback handles everything else.
type Registry struct {
	entries  []entry
	fallback scraper.Strategy
}

// NewRegistry returns an empty registry that always selects fallback.
func NewRegistry(fallback scraper.Strategy) *Registry {
	return &Registry{fallback: fallback}
}

// Register appends a strategy after the existing entries.
func (r *Registry) Register(name string, match Matcher, s scraper.Strategy) {
	r.entries = append(r.entries, entry{name: name, match: match, strategy: s})
}

// Select returns the first strategy whose matcher accepts url, or the
// fallback. It never returns nil when the registry has a fallback.
func (r *Registry) Select(url string) scraper.Strategy {
	lower := strings.ToLower(url)
	for _, e := range r.entries {
		if e.match != nil && e.match(lower) {
			return e.strategy
		}
	}
	return r.fallback
}

// Names lists the registered strategies in priority order, fallback last.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries)+1)
	for _, e := range r.entries {
		names = append(names, e.name)
	}
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}

// Config wires the built-in strategies.
type Config struct {
	Browser    scraper.Browser
	ScriptsDir string
	Logger     *zap.Logger
	// MagaluAPI configures the search API fallback. A nil value disables it.
	MagaluAPI *MagaluAPIConfig
	// Sleep and PollInterval override the pauses of the extraction protocol.
	Sleep        func(context.Context, time.Duration) error
	PollInterval time.Duration
}

// NewDefaultRegistry builds the registry with every built-in profile in
// priority order and the generic profile as fallback.
func NewDefaultRegistry(cfg Config) (*Registry, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []Option{WithLogger(logger), WithSleep(cfg.Sleep), WithPollInterval(cfg.PollInterval)}

	build := func(p Profile, extra ...Option) (*Runner, error) {
		script, err := LoadScript(cfg.ScriptsDir, p.Script)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", p.Name, err)
		}
		return NewRunner(p, script, cfg.Browser, append(append([]Option(nil), opts...), extra...)...), nil
	}

	generic, err := build(GenericProfile())
	if err != nil {
		return nil, err
	}
	reg := NewRegistry(generic)
	for _, p := range Profiles() {
		var extra []Option
		if p.Name == "magalu" && cfg.MagaluAPI != nil {
			apiCfg := *cfg.MagaluAPI
			if apiCfg.Logger == nil {
				apiCfg.Logger = logger
			}
			extra = append(extra, WithFallback(NewMagaluAPI(apiCfg)))
		}
		runner, err := build(p, extra...)
		if err != nil {
			return nil, err
		}
		reg.Register(p.Name, ContainsAny(p.Markers...), runner)
	}
	return reg, nil
}
