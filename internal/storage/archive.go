// Package storage archives published offer batches. Blob backends live in the
// local and gcs subpackages; the postgres subpackage keeps offers and progress
// logs in relational tables.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-offer-scraper/internal/publisher"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

const jsonContentType = "application/json"

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobArchiver writes every batch as <prefix>/YYYY/MM/DD/<requestID>.json,
// dated by the batch's collection time.
type BlobArchiver struct {
	store  BlobStore
	prefix string
	now    func() time.Time
}

// NewBlobArchiver wraps store. prefix may be empty.
func NewBlobArchiver(store BlobStore, prefix string) (*BlobArchiver, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	return &BlobArchiver{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}, nil
}

// Archive encodes records in their wire form and stores them.
func (a *BlobArchiver) Archive(ctx context.Context, requestID string, records []scraper.Record) error {
	body, err := publisher.Encode(records)
	if err != nil {
		return err
	}
	key := a.ObjectPath(requestID, a.batchTime(records))
	if _, err := a.store.PutObject(ctx, key, jsonContentType, bytes.NewReader(body)); err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}
	return nil
}

// ObjectPath returns the object key for a batch.
func (a *BlobArchiver) ObjectPath(requestID string, at time.Time) string {
	name := sanitizeKey(requestID) + ".json"
	return path.Join(a.prefix, at.UTC().Format("2006/01/02"), name)
}

func (a *BlobArchiver) batchTime(records []scraper.Record) time.Time {
	if len(records) > 0 && !records[0].FoundAt.IsZero() {
		return records[0].FoundAt
	}
	return a.now()
}

func sanitizeKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
