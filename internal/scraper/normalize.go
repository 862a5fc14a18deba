package scraper

import (
	"strings"
	"time"
)

// Title sentinels emitted by extraction scripts when a card has no name.
var missingTitles = map[string]struct{}{
	"no title":   {},
	"sem título": {},
}

// Normalize validates raw items and converts the survivors into records.
// Items with an empty or sentinel title, a price that is unparsable or not
// above zero, or a link that cannot be made absolute are dropped. Items
// sharing a normalized title and price keep only the first occurrence. base
// resolves relative links; foundAt stamps every record.
func Normalize(items []RawItem, base string, foundAt time.Time) []Record {
	out := make([]Record, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		if !validTitle(title) {
			continue
		}
		price, ok := PositivePrice(item.PriceText)
		if !ok {
			continue
		}
		link := strings.TrimSpace(item.Link)
		if !IsAbsoluteLink(link) {
			link = ResolveLink(base, link)
		}
		if link == "" {
			continue
		}
		key := NormalizeTitle(title) + "|" + price.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		rec := Record{
			Title:    title,
			Price:    price,
			URL:      link,
			Store:    item.Store,
			Category: item.Category,
			Discount: strings.TrimSpace(item.Discount),
			FoundAt:  foundAt,
		}
		if old, ok := PositivePrice(item.OldPrice); ok {
			rec.OldPrice = &old
		}
		out = append(out, rec)
	}
	return out
}

// NormalizeTitle lower-cases title and collapses whitespace for dedup keys.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

func validTitle(title string) bool {
	if title == "" {
		return false
	}
	_, sentinel := missingTitles[NormalizeTitle(title)]
	return !sentinel
}
