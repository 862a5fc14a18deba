// Package main hosts the offer scraper entrypoint.
//
// Architecture overview:
//   - Intake: scrape jobs ({"Url": ..., "RequestId": ...} or a bare URL) are
//     consumed from the durable scrape_requests RabbitMQ queue with manual acks
//     and a bounded prefetch. Google Cloud Pub/Sub and an in-memory queue are
//     available behind broker.driver.
//   - Dispatch: each delivery runs in its own goroutine, bounded by the
//     prefetch window. Shutdown stops consuming and waits for jobs in flight.
//   - Extraction: the strategy registry picks a store profile by URL (Amazon,
//     Kabum, Magalu, Mercado Livre, generic fallback). Each profile drives a
//     shared headless Chrome through navigate, readiness wait, bounded scroll,
//     and an embedded extraction script. Magalu search pages fall back to the
//     public search API when the browser finds nothing.
//   - Results: offers are validated, deduplicated by title and price, stamped
//     with the collection time, and published as one JSON array to the
//     offers_exchange fanout exchange with the request ID in the RequestId
//     header. Published batches can also be archived to Postgres and to a
//     local directory or GCS bucket.
//   - Progress: every step is reported through a per-request relay that
//     batches messages to the offers API log endpoint, Prometheus, an
//     optional Redis channel, and the SSE feed at /v1/logs/stream.
//
// Quick checklist:
//   - Configure env vars with the SCRAPER_ prefix, e.g. SCRAPER_BROKER_HOST,
//     SCRAPER_BROKER_MAX_RETRIES, SCRAPER_QUEUE_PREFETCH,
//     SCRAPER_BROWSER_ENDPOINT_URL, SCRAPER_LOGSINK_BASE_URL, SCRAPER_REDIS_ADDR,
//     SCRAPER_DATABASE_DSN, SCRAPER_ARCHIVE_BACKEND.
//   - Run locally: go run ./cmd/offerscraper -config config.yaml, or set
//     SCRAPER_BROKER_DRIVER=memory and POST jobs to /v1/jobs.
//   - The process exits non-zero when the broker cannot be reached after the
//     configured retries or closes the job subscription.
package main
