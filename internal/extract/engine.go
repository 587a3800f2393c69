// Package extract turns an HTML page into record fields using configured
// selectors, formatters, type coercions and defaults.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Engine extracts fields for a fixed rule set. It is safe for concurrent use.
type Engine struct {
	rules []compiledRule
}

// New compiles rules. Duplicate keys are not rejected here; they surface as
// an ExtractionError on the record that trips over them.
func New(rules []Rule) (*Engine, error) {
	e := &Engine{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr, err := compile(r)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// Extract adds one field per rule to record and collapses list fields. On
// error the record still carries its metadata and any fields set so far.
func (e *Engine) Extract(record crawler.Record, body []byte, contentType string) error {
	doc, err := parseDocument(body, contentType)
	if err != nil {
		return &crawler.ExtractionError{Err: err}
	}

	var extractErr error
	for _, rule := range e.rules {
		key := rule.Selector.Key
		if _, exists := record[key]; exists {
			extractErr = &crawler.ExtractionError{Key: key, Err: fmt.Errorf("selector %s is reserved or already defined", key)}
			break
		}
		value, err := rule.run(doc)
		if err != nil {
			extractErr = &crawler.ExtractionError{Key: key, Err: err}
			break
		}
		record[key] = value
	}

	Collapse(record)
	return extractErr
}

func (r compiledRule) run(doc *goquery.Document) (any, error) {
	sel := doc.FindMatcher(r.match)
	if r.exclude != nil {
		sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return s.ClosestMatcher(r.exclude).Length() == 0
		})
	}

	attrs := r.Selector.AttributeNames()
	var raw []string
	for _, n := range sel.Nodes {
		raw = append(raw, Mine(n, attrs)...)
	}

	values := make([]any, 0, len(raw))
	for _, v := range raw {
		v = r.format(v)
		if v == "" && r.Type != CoerceBoolean {
			continue
		}
		typed, err := r.Type.Apply(v)
		if err != nil {
			return nil, err
		}
		values = append(values, typed)
	}

	if len(values) == 0 && r.HasDefault {
		return r.Default, nil
	}
	return values, nil
}

func (r compiledRule) format(v string) string {
	for _, re := range r.formatters {
		v = strings.TrimSpace(re.ReplaceAllString(v, ""))
	}
	return v
}

// Mine collects values below n. A non-blank text node yields its trimmed
// text; an element with a non-empty listed attribute yields the first such
// attribute; anything else yields the values of its children in order.
// Comments yield nothing.
func Mine(n *html.Node, attrs []string) []string {
	switch n.Type {
	case html.CommentNode:
		return nil
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			return []string{text}
		}
		return nil
	case html.ElementNode:
		for _, name := range attrs {
			if v, ok := attribute(n, name); ok && v != "" {
				return []string{v}
			}
		}
	}

	var out []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, Mine(c, attrs)...)
	}
	return out
}

func attribute(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

// Collapse normalizes every list field: empty becomes nil, a single value
// becomes a scalar, and nested lists are flattened one level.
func Collapse(record crawler.Record) {
	for key, value := range record {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		flat := make([]any, 0, len(list))
		for _, v := range list {
			if inner, ok := v.([]any); ok {
				flat = append(flat, inner...)
				continue
			}
			flat = append(flat, v)
		}
		switch len(flat) {
		case 0:
			record[key] = nil
		case 1:
			record[key] = flat[0]
		default:
			record[key] = flat
		}
	}
}

func parseDocument(body []byte, contentType string) (*goquery.Document, error) {
	var r io.Reader = bytes.NewReader(body)
	if !utf8.Valid(body) {
		enc, _, _ := charset.DetermineEncoding(body, contentType)
		r = transform.NewReader(r, enc.NewDecoder())
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}
