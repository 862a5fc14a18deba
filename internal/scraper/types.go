package scraper

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Job is one scrape request taken off the queue.
type Job struct {
	RequestID  string
	URL        string
	EnqueuedAt time.Time
}

// RawItem is a candidate offer as returned by an extraction script. Text
// fields are kept verbatim; Store and Category are stamped by the strategy.
type RawItem struct {
	Title     string `json:"title"`
	PriceText string `json:"price"`
	Link      string `json:"link"`
	Brand     string `json:"brand,omitempty"`
	Rating    string `json:"rating,omitempty"`
	Discount  string `json:"discount,omitempty"`
	OldPrice  string `json:"oldPrice,omitempty"`
	Store     string `json:"-"`
	Category  string `json:"-"`
}

// Record is a validated offer ready for publication.
type Record struct {
	Title    string
	Price    decimal.Decimal
	URL      string
	Store    string
	Category string
	Discount string
	OldPrice *decimal.Decimal
	FoundAt  time.Time
}

type recordWire struct {
	Title    string      `json:"Title"`
	URL      string      `json:"Url"`
	Store    string      `json:"Store"`
	Category string      `json:"Category"`
	Price    json.Number `json:"Price"`
	Discount string      `json:"Discount,omitempty"`
	OldPrice json.Number `json:"OldPrice,omitempty"`
	FoundAt  *time.Time  `json:"FoundAt,omitempty"`
}

// MarshalJSON renders the record in the result-channel wire format, with
// prices as JSON numbers.
func (r Record) MarshalJSON() ([]byte, error) {
	w := recordWire{
		Title:    r.Title,
		URL:      r.URL,
		Store:    r.Store,
		Category: r.Category,
		Price:    json.Number(r.Price.String()),
		Discount: r.Discount,
	}
	if r.OldPrice != nil {
		w.OldPrice = json.Number(r.OldPrice.String())
	}
	if !r.FoundAt.IsZero() {
		ts := r.FoundAt.UTC()
		w.FoundAt = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts the wire format produced by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	price, err := decimal.NewFromString(w.Price.String())
	if err != nil {
		return err
	}
	out := Record{
		Title:    w.Title,
		Price:    price,
		URL:      w.URL,
		Store:    w.Store,
		Category: w.Category,
		Discount: w.Discount,
	}
	if w.OldPrice != "" {
		old, err := decimal.NewFromString(w.OldPrice.String())
		if err != nil {
			return err
		}
		out.OldPrice = &old
	}
	if w.FoundAt != nil {
		out.FoundAt = *w.FoundAt
	}
	*r = out
	return nil
}
