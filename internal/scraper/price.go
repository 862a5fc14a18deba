package scraper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when no price can be read from the text.
var ErrInvalidPrice = errors.New("invalid price")

// Thousands groups use "." and the decimal separator is ",".
var priceRe = regexp.MustCompile(`-?\d[\d.]*(?:,\d+)?`)

// ParsePrice reads the first price in text using Brazilian notation, so
// "R$ 1.299,90" yields 1299.90. Zero and negative values parse successfully;
// callers decide whether they are acceptable.
func ParsePrice(text string) (decimal.Decimal, error) {
	match := priceRe.FindString(text)
	if match == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	normalized := strings.ReplaceAll(match, ".", "")
	normalized = strings.Replace(normalized, ",", ".", 1)
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidPrice, text)
	}
	return value, nil
}

// PositivePrice parses text and reports whether it holds a price above zero.
func PositivePrice(text string) (decimal.Decimal, bool) {
	value, err := ParsePrice(text)
	if err != nil || !value.IsPositive() {
		return decimal.Zero, false
	}
	return value, true
}
