package progress

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the crawl milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageCrawlStart  Stage = "CRAWL_START"
	StageSitemapDone Stage = "SITEMAP_DONE"
	StageFetchDone   Stage = "FETCH_DONE"
	StagePurgeDone   Stage = "PURGE_DONE"
	StageCrawlDone   Stage = "CRAWL_DONE"
	StageCrawlError  Stage = "CRAWL_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one step of a crawl run.
type Event struct {
	// RunID identifies the crawl run in 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Site is the host label of the sitemap or page.
	Site string
	// URL is the sitemap or page URL. It must not contain credentials.
	URL string
	// Outcome names the fetch classification for FETCH_DONE events.
	Outcome     string
	StatusClass StatusClass
	Bytes       int64
	// Count carries URLs accepted for SITEMAP_DONE and records purged for PURGE_DONE.
	Count int64
	// Filtered carries blacklisted URLs for SITEMAP_DONE.
	Filtered int64
	Dur      time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCrawlStart, StageCrawlDone, StageCrawlError, StagePurgeDone:
	case StageSitemapDone:
		if e.URL == "" {
			return errors.New("sitemap done requires url")
		}
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}

// ClassifyStatus groups HTTP status codes for fetch events. Zero means no
// response was received.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// SiteOf returns the host of rawURL, or "unknown" when it has none.
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}
