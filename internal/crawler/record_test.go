package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectIDIsBase64SHA1(t *testing.T) {
	t.Parallel()

	id := ObjectID("https://example.com/")
	require.Equal(t, "tVnH7dP7ZzdMGiXnOc3X7dHXmUk=", id)
	require.Equal(t, id, ObjectID("https://example.com/"))
	require.NotEqual(t, id, ObjectID("https://example.com"))
	require.Equal(t, "2jmj7l5rSw0yVb/vlWAYkK/YBwk=", ObjectID(""))
}

func TestNewRecordCarriesMetadata(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	rec := NewRecord(URLEntry{URL: "https://example.com/a", Lang: "en"}, now)

	require.Equal(t, now, rec[FieldDate])
	require.Equal(t, now.UnixMilli(), rec[FieldTimestamp])
	require.Equal(t, "https://example.com/a", rec[FieldURL])
	require.Equal(t, "en", rec[FieldLang])
	require.Equal(t, ObjectID("https://example.com/a"), rec.ObjectID())

	fr := NewRecord(URLEntry{URL: "https://example.com/a", Lang: "fr"}, now)
	require.Equal(t, rec.ObjectID(), fr.ObjectID(), "objectID must not depend on lang")
}

func TestIsReserved(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"date", "timestamp", "url", "lang", "objectID", "http"} {
		require.True(t, IsReserved(key), key)
	}
	require.False(t, IsReserved("title"))
}

func TestHTTPStatusErrorRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, (&HTTPStatusError{StatusCode: 500}).Retryable())
	require.True(t, (&HTTPStatusError{StatusCode: 403}).Retryable())
	require.False(t, (&HTTPStatusError{StatusCode: 404}).Retryable())
	require.False(t, (&HTTPStatusError{StatusCode: 302}).Retryable())
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	require.ErrorIs(t, &TransportError{URL: "u", Err: base}, base)
	require.ErrorIs(t, &ExtractionError{Key: "k", Err: base}, base)
	require.ErrorIs(t, &IndexSyncError{Op: "upsert", Err: ErrObjectIDMismatch}, ErrObjectIDMismatch)
}

func TestParseAction(t *testing.T) {
	t.Parallel()

	a, ok := ParseAction("")
	require.True(t, ok)
	require.Equal(t, ActionFetch, a)
	a, ok = ParseAction("delete")
	require.True(t, ok)
	require.Equal(t, ActionDelete, a)
	_, ok = ParseAction("purge")
	require.False(t, ok)
}

func TestMarshalKeepsMarkupUnescaped(t *testing.T) {
	t.Parallel()

	rec := Record{"title": "<b>Fish & Chips</b>"}
	b, err := rec.Marshal()
	require.NoError(t, err)
	require.Equal(t, `{"title":"<b>Fish & Chips</b>"}`, string(b))
}
