// Package headless drives Chrome through chromedp. It implements the
// scraper.Browser port: every Open call gets its own tab, concurrency is
// capped by a slot semaphore, and navigations are paced per host.
package headless
