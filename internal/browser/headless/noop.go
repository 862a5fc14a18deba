package headless

import (
	"context"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// Noop implements scraper.Browser but refuses every session, for runs where
// no browser is available.
type Noop struct{}

// NewNoop creates a new Noop browser.
func NewNoop() *Noop {
	return &Noop{}
}

// Open always fails with ErrBrowserDisabled.
func (Noop) Open(context.Context) (scraper.Session, error) {
	return nil, ErrBrowserDisabled
}
