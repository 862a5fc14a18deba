package scraper

import (
	"net/url"
	"strings"
)

// UnknownStore labels offers whose page host cannot be determined.
const UnknownStore = "Desconhecida"

// ResolveLink turns href into an absolute http(s) URL using base. It returns
// "" when href is empty or cannot be resolved.
func ResolveLink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return ""
		}
		return ref.String()
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

// IsAbsoluteLink reports whether link is an absolute http(s) URL with a host.
func IsAbsoluteLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// StoreFromURL derives a store label from the page host without "www.".
func StoreFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return UnknownStore
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
