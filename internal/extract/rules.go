package extract

import (
	"fmt"
	"regexp"

	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// Rule is one selector with its value pipeline.
type Rule struct {
	Selector   crawler.SelectorSpec
	Formatters []string
	Type       Coercion
	Default    any
	HasDefault bool
}

type compiledRule struct {
	Rule
	match      cascadia.Selector
	exclude    cascadia.Selector
	formatters []*regexp.Regexp
}

func compile(r Rule) (compiledRule, error) {
	cr := compiledRule{Rule: r}
	m, err := cascadia.Compile(r.Selector.Selector)
	if err != nil {
		return cr, fmt.Errorf("selector %s: %w", r.Selector.Key, err)
	}
	cr.match = m
	if r.Selector.Exclude != "" {
		ex, err := cascadia.Compile(r.Selector.Exclude)
		if err != nil {
			return cr, fmt.Errorf("exclude for %s: %w", r.Selector.Key, err)
		}
		cr.exclude = ex
	}
	for _, p := range r.Formatters {
		re, err := regexp.Compile(p)
		if err != nil {
			return cr, fmt.Errorf("formatter for %s: %w", r.Selector.Key, err)
		}
		cr.formatters = append(cr.formatters, re)
	}
	return cr, nil
}
