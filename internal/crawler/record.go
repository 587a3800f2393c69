package crawler

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // sha1 is the index identity scheme, not a security boundary
	"encoding/base64"
	"encoding/json"
	"time"
)

// Fixed metadata fields carried by every record.
const (
	FieldDate      = "date"
	FieldTimestamp = "timestamp"
	FieldURL       = "url"
	FieldLang      = "lang"
	FieldObjectID  = "objectID"
	FieldHTTP      = "http"
	FieldAction    = "action"
)

// ReservedFields may never be used as selector keys.
var ReservedFields = []string{
	FieldDate,
	FieldTimestamp,
	FieldURL,
	FieldLang,
	FieldObjectID,
	FieldHTTP,
	FieldAction,
}

// IsReserved reports whether key is a fixed metadata field.
func IsReserved(key string) bool {
	for _, f := range ReservedFields {
		if f == key {
			return true
		}
	}
	return false
}

// Record is the document synchronized into the search index.
type Record map[string]any

// ObjectID computes the index identity of a URL: base64(sha1(url)).
func ObjectID(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL)) //nolint:gosec // see import note
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewRecord builds the metadata shell shared by all outcomes.
func NewRecord(entry URLEntry, now time.Time) Record {
	return Record{
		FieldDate:      now,
		FieldTimestamp: now.UnixMilli(),
		FieldURL:       entry.URL,
		FieldLang:      entry.Lang,
		FieldObjectID:  ObjectID(entry.URL),
	}
}

// ObjectID returns the record identity or an empty string.
func (r Record) ObjectID() string {
	id, _ := r[FieldObjectID].(string)
	return id
}

// Marshal encodes the record as compact JSON without HTML escaping. Index
// sinks send exactly these bytes and the trimmer measures them.
func (r Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
