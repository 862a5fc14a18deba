// Package strategy selects and runs the site-specific extraction strategies.
//
// Every strategy follows the same browser protocol (open a session, navigate,
// wait for readiness, scroll a bounded number of times, evaluate one
// extraction script) and differs only in the Profile it is configured with.
// Registry.Select maps a page URL to exactly one strategy, falling back to the
// generic profile when no site marker matches.
package strategy
