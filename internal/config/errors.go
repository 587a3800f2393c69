package config

import "fmt"

// Category classifies a configuration failure.
type Category int

// Configuration failure categories.
const (
	CategoryInvalid Category = iota + 1
	CategoryCredentials
	CategoryIndex
	CategorySitemaps
	CategorySelectors
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitInvalidConfig     = 2
	ExitMissingCredential = 3
	ExitMissingIndex      = 4
	ExitMissingSitemaps   = 5
	ExitMissingSelectors  = 6
	ExitEmptyCrawl        = 7
)

func (c Category) String() string {
	switch c {
	case CategoryInvalid:
		return "invalid"
	case CategoryCredentials:
		return "credentials"
	case CategoryIndex:
		return "index"
	case CategorySitemaps:
		return "sitemaps"
	case CategorySelectors:
		return "selectors"
	default:
		return "unknown"
	}
}

// ExitCode maps the category onto the process exit status.
func (c Category) ExitCode() int {
	switch c {
	case CategoryCredentials:
		return ExitMissingCredential
	case CategoryIndex:
		return ExitMissingIndex
	case CategorySitemaps:
		return ExitMissingSitemaps
	case CategorySelectors:
		return ExitMissingSelectors
	default:
		return ExitInvalidConfig
	}
}

// Error is a fatal, pre-flight configuration error.
type Error struct {
	Category Category
	Err      error
}

func newError(c Category, err error) *Error {
	return &Error{Category: c, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s configuration: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
