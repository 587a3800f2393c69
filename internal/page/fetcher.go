// Package page fetches a single sitemap entry and classifies the response.
package page

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Outcome is the terminal classification of one fetch.
type Outcome int

// Fetch outcomes. They are mutually exclusive.
const (
	OutcomeDelete Outcome = iota + 1
	OutcomeFetched
	OutcomeNotFound
	OutcomeRedirected
	OutcomeHTTPError
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelete:
		return "delete"
	case OutcomeFetched:
		return "fetched"
	case OutcomeNotFound:
		return "page_not_found"
	case OutcomeRedirected:
		return "page_redirected"
	case OutcomeHTTPError:
		return "http_error"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// IsWarning reports whether the outcome is logged as a warning.
func (o Outcome) IsWarning() bool {
	return o == OutcomeNotFound || o == OutcomeRedirected
}

// IsError reports whether the outcome carries an error.
func (o Outcome) IsError() bool {
	return o == OutcomeHTTPError || o == OutcomeTransportError
}

// Result is what a fetch produced. Record is nil for error outcomes.
type Result struct {
	Entry       crawler.URLEntry
	Outcome     Outcome
	Record      crawler.Record
	Body        []byte
	ContentType string
	StatusCode  int
	Location    string
	Err         error
}

// Fetcher issues page GETs through a Transport.
type Fetcher struct {
	transport crawler.Transport
	auth      *crawler.BasicAuth
	headers   http.Header
	clock     crawler.Clock
	logger    *zap.Logger
}

// Config carries request decoration shared by all page fetches.
type Config struct {
	Auth    *crawler.BasicAuth
	Headers http.Header
}

// NewFetcher builds a Fetcher. A nil clock uses the system clock.
func NewFetcher(transport crawler.Transport, cfg Config, clock crawler.Clock, logger *zap.Logger) *Fetcher {
	if clock == nil {
		clock = crawler.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		auth:      cfg.Auth,
		headers:   cfg.Headers,
		clock:     clock,
		logger:    logger,
	}
}

// Fetch performs at most one GET for entry and classifies the response.
func (f *Fetcher) Fetch(ctx context.Context, entry crawler.URLEntry) Result {
	res := Result{Entry: entry}
	if entry.Action == crawler.ActionDelete {
		res.Outcome = OutcomeDelete
		res.Record = crawler.NewRecord(entry, f.clock.Now())
		return res
	}

	if u, err := url.Parse(entry.URL); err != nil || u.Host == "" {
		if err == nil {
			err = errors.New("missing host")
		}
		res.Outcome = OutcomeTransportError
		res.Err = &crawler.TransportError{URL: entry.URL, Err: err}
		return res
	}

	resp, err := f.transport.Fetch(ctx, crawler.FetchRequest{
		URL:     entry.URL,
		Auth:    f.auth,
		Headers: f.headers,
	})
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Err = &crawler.TransportError{URL: entry.URL, Err: err}
		return res
	}
	res.StatusCode = resp.StatusCode

	switch resp.StatusCode {
	case http.StatusOK:
		res.Outcome = OutcomeFetched
		res.Body = resp.Body
		res.ContentType = resp.Headers.Get("Content-Type")
		res.Record = crawler.NewRecord(entry, f.clock.Now())
		res.Record[crawler.FieldHTTP] = map[string]any{
			"expires":      resp.Headers.Get("Expires"),
			"lastModified": resp.Headers.Get("Last-Modified"),
		}
	case http.StatusNotFound:
		res.Outcome = OutcomeNotFound
		res.Record = crawler.NewRecord(entry, f.clock.Now())
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		res.Outcome = OutcomeRedirected
		res.Location = resp.Headers.Get("Location")
		res.Record = crawler.NewRecord(entry, f.clock.Now())
	default:
		res.Outcome = OutcomeHTTPError
		res.Err = &crawler.HTTPStatusError{URL: entry.URL, StatusCode: resp.StatusCode}
	}

	f.logger.Debug("page fetched",
		zap.String("url", entry.URL),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("outcome", res.Outcome),
		zap.Duration("duration", resp.Duration),
	)
	return res
}
