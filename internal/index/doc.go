// Package index holds the search index backends records are synchronized into.
//
// The elasticsearch subpackage talks to a real cluster through the bulk and
// delete-by-query APIs. The memory subpackage keeps records in a map and is
// used by tests and dry runs.
package index
