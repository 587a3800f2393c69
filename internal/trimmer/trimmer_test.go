package trimmer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

func textRecord(n int, value string) crawler.Record {
	text := make([]any, n)
	for i := range text {
		text[i] = value
	}
	return crawler.Record{"text": text}
}

func TestTrimToBudget(t *testing.T) {
	t.Parallel()

	rec := textRecord(100, "aaaaaaaaaa")
	removed := Trim(rec, 100, "text")

	assert.Equal(t, 94, removed)
	assert.Len(t, rec["text"], 6)
	assert.LessOrEqual(t, Size(rec), 100)
}

func TestTrimUnderBudgetIsNoop(t *testing.T) {
	t.Parallel()

	rec := textRecord(3, "abc")
	assert.Zero(t, Trim(rec, 1000, "text"))
	assert.Len(t, rec["text"], 3)
}

func TestTrimDisabled(t *testing.T) {
	t.Parallel()

	rec := textRecord(100, "aaaaaaaaaa")
	assert.Zero(t, Trim(rec, 0, "text"))
	assert.Len(t, rec["text"], 100)
}

func TestTrimPassesThroughWhenFieldExhausted(t *testing.T) {
	t.Parallel()

	rec := textRecord(2, "x")
	rec["title"] = strings.Repeat("t", 200)

	removed := Trim(rec, 50, "")
	assert.Equal(t, 2, removed)
	assert.Empty(t, rec["text"])
	assert.Greater(t, Size(rec), 50)
}

func TestTrimIgnoresScalarField(t *testing.T) {
	t.Parallel()

	rec := crawler.Record{"text": strings.Repeat("x", 500)}
	assert.Zero(t, Trim(rec, 10, "text"))
}

func TestSizeCountsUTF8BytesWithoutHTMLEscaping(t *testing.T) {
	t.Parallel()

	assert.Equal(t, len(`{"a":"<é>"}`), Size(crawler.Record{"a": "<é>"}))
	assert.Equal(t, 12, Size(crawler.Record{"a": "<é>"}))
	assert.Equal(t, -1, Size(crawler.Record{"bad": func() {}}))
	assert.Positive(t, Size(crawler.NewRecord(crawler.URLEntry{URL: "https://example.com"}, time.Now())))
}

func TestSizeMatchesMarshalledBytes(t *testing.T) {
	t.Parallel()

	rec := crawler.Record{"title": "<a & b>"}
	b, err := rec.Marshal()
	assert.NoError(t, err)
	assert.Equal(t, len(b), Size(rec))
	assert.Equal(t, len(`{"title":"<a & b>"}`), Size(rec))
}
