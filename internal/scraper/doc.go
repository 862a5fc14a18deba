// Package scraper defines the core types and ports shared by the extraction
// strategies, the job worker, and the result publishers, together with the
// price parsing and validation rules applied to every extracted offer.
package scraper
