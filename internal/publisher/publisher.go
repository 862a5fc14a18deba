// Package publisher holds what the result publishers share: the wire
// encoding of a record batch. Drivers live in the subpackages.
package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// DefaultExchange is the fanout exchange downstream consumers bind to.
const DefaultExchange = "offers_exchange"

// HeaderRequestID carries the request ID alongside the record batch.
const HeaderRequestID = "RequestId"

// Encode renders records as a JSON array. An empty or nil batch encodes as [].
func Encode(records []scraper.Record) ([]byte, error) {
	if records == nil {
		records = []scraper.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	return data, nil
}
