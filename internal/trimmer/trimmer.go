// Package trimmer shrinks records that exceed the index size limit.
package trimmer

import (
	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

// DefaultField is the list field dropped from when a record is too large.
const DefaultField = "text"

// Size returns the byte length of record.Marshal, or -1 if the record cannot
// be encoded.
func Size(record crawler.Record) int {
	b, err := record.Marshal()
	if err != nil {
		return -1
	}
	return len(b)
}

// Trim drops trailing elements of record[field] until the record fits in
// maxBytes or the field is exhausted, and returns how many were dropped.
// A record that cannot shrink further is left oversized. maxBytes <= 0
// disables trimming.
func Trim(record crawler.Record, maxBytes int, field string) int {
	if maxBytes <= 0 {
		return 0
	}
	if field == "" {
		field = DefaultField
	}
	removed := 0
	for Size(record) > maxBytes {
		list, ok := record[field].([]any)
		if !ok || len(list) == 0 {
			break
		}
		list[len(list)-1] = nil
		record[field] = list[:len(list)-1]
		removed++
	}
	return removed
}
