// Package sitemap fetches sitemap documents and lists the pages they reference.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

const (
	locQuery    = "//url/loc"
	locSelector = "url > loc"
)

var lenient = xmlquery.ParserOptions{
	Decoder: &xmlquery.DecoderOptions{
		Strict:    false,
		AutoClose: xml.HTMLAutoClose,
		Entity:    xml.HTMLEntity,
	},
}

// Reader turns one SitemapSpec into URL entries.
type Reader struct {
	transport crawler.Transport
	auth      *crawler.BasicAuth
	headers   http.Header
	logger    *zap.Logger
}

// Option customizes a Reader.
type Option func(*Reader)

// WithAuth sets credentials used when a sitemap carries none of its own.
func WithAuth(auth *crawler.BasicAuth) Option {
	return func(r *Reader) { r.auth = auth }
}

// WithHeaders adds headers to every sitemap request.
func WithHeaders(h http.Header) Option {
	return func(r *Reader) { r.headers = h }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReader builds a Reader on top of transport.
func NewReader(transport crawler.Transport, opts ...Option) *Reader {
	r := &Reader{transport: transport, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read fetches spec.URL and returns its entries in document order. Failures
// are logged and yield no entries so sibling sitemaps are unaffected.
func (r *Reader) Read(ctx context.Context, spec crawler.SitemapSpec) []crawler.URLEntry {
	logger := r.logger.With(zap.String("sitemap", spec.URL), zap.String("lang", spec.Lang))

	auth := spec.Auth
	if auth.IsZero() {
		auth = r.auth
	}
	resp, err := r.transport.Fetch(ctx, crawler.FetchRequest{
		URL:     spec.URL,
		Auth:    auth,
		Headers: r.headers,
	})
	if err != nil {
		logger.Error("sitemap fetch failed", zap.Error(err))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		logger.Error("sitemap returned non-200 status", zap.Int("status", resp.StatusCode))
		return nil
	}

	action, ok := crawler.ParseAction(string(spec.Action))
	if !ok {
		logger.Error("sitemap has unknown action", zap.String("action", string(spec.Action)))
		return nil
	}

	entries, err := Parse(resp.Body, spec.Lang, action, logger)
	if err != nil {
		logger.Error("sitemap parse failed", zap.Error(err))
		return nil
	}
	logger.Info("sitemap read", zap.Int("urls", len(entries)))
	return entries
}

// Parse extracts every <url><loc> value from body. Stray entities and
// mismatched tags are tolerated; a document the XML decoder still rejects
// (an unclosed root, for one) is read again as HTML.
func Parse(body []byte, lang string, action crawler.Action, logger *zap.Logger) ([]crawler.URLEntry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	locs, err := xmlLocs(body)
	if err != nil {
		logger.Debug("sitemap is not well-formed xml, reading as html", zap.Error(err))
		if locs, err = htmlLocs(body); err != nil {
			return nil, err
		}
	}
	entries := make([]crawler.URLEntry, 0, len(locs))
	for i, loc := range locs {
		loc = strings.TrimSpace(loc)
		if loc == "" {
			logger.Warn("skipping empty sitemap loc", zap.Int("position", i))
			continue
		}
		entries = append(entries, crawler.URLEntry{URL: loc, Lang: lang, Action: action})
	}
	return entries, nil
}

func xmlLocs(body []byte) ([]string, error) {
	doc, err := xmlquery.ParseWithOptions(bytes.NewReader(body), lenient)
	if err != nil {
		return nil, err
	}
	nodes, err := xmlquery.QueryAll(doc, locQuery)
	if err != nil {
		return nil, err
	}
	locs := make([]string, len(nodes))
	for i, n := range nodes {
		locs[i] = n.InnerText()
	}
	return locs, nil
}

func htmlLocs(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	sel := doc.Find(locSelector)
	locs := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		locs = append(locs, s.Text())
	})
	return locs, nil
}
