package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// ErrEmptyJob is returned when a message carries no URL.
var ErrEmptyJob = errors.New("job message has no url")

type jobMessage struct {
	URL       string `json:"Url"`
	RequestID string `json:"RequestId"`
}

// ParseJob decodes a queue message. The body is either a JSON object with Url
// and RequestId fields or the bare URL. A request ID in the body wins over
// headerRequestID; when neither is present one is generated. The returned job
// always carries a request ID, even alongside an error.
func ParseJob(body []byte, headerRequestID string, ids scraper.IDGenerator) (scraper.Job, error) {
	raw := strings.TrimSpace(string(body))
	job := scraper.Job{RequestID: strings.TrimSpace(headerRequestID)}

	var msg jobMessage
	if err := json.Unmarshal([]byte(raw), &msg); err == nil {
		job.URL = strings.TrimSpace(msg.URL)
		if id := strings.TrimSpace(msg.RequestID); id != "" {
			job.RequestID = id
		}
	}
	if job.URL == "" {
		job.URL = raw
	}
	if job.RequestID == "" {
		job.RequestID = newRequestID(ids)
	}
	if job.URL == "" {
		return job, ErrEmptyJob
	}
	return job, nil
}

func newRequestID(ids scraper.IDGenerator) string {
	if ids != nil {
		if id, err := ids.NewID(); err == nil && id != "" {
			return id
		}
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
