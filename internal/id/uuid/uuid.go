// Package uuid generates crawl run identifiers.
package uuid

import (
	"github.com/google/uuid"
)

// Generator creates run IDs. The zero value is ready to use.
type Generator struct {
	// Source overrides the UUIDv7 source. Tests use it to pin IDs.
	Source func() (uuid.UUID, error)
}

// New creates a Generator backed by UUIDv7.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a time-ordered UUIDv7. When the source fails it falls
// back to a random UUIDv4 so a crawl never starts without an ID.
func (g *Generator) NewRunID() uuid.UUID {
	source := uuid.NewV7
	if g != nil && g.Source != nil {
		source = g.Source
	}
	id, err := source()
	if err != nil || id == uuid.Nil {
		return uuid.New()
	}
	return id
}
