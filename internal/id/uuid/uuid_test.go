package uuid

import (
	"errors"
	"testing"

	goUUID "github.com/google/uuid"
)

func TestNewRunIDIsUniqueV7(t *testing.T) {
	t.Parallel()

	gen := New()
	id1 := gen.NewRunID()
	id2 := gen.NewRunID()
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if id1.Version() != 7 {
		t.Fatalf("expected UUIDv7, got version %d", id1.Version())
	}
	if id2.String() <= id1.String() {
		t.Fatalf("expected %s to sort after %s", id2, id1)
	}
}

func TestNewRunIDFallsBackToRandom(t *testing.T) {
	t.Parallel()

	gen := &Generator{Source: func() (goUUID.UUID, error) {
		return goUUID.Nil, errors.New("clock unavailable")
	}}
	id := gen.NewRunID()
	if id == goUUID.Nil {
		t.Fatal("expected a non-nil fallback ID")
	}
	if id.Version() != 4 {
		t.Fatalf("expected UUIDv4 fallback, got version %d", id.Version())
	}
}

func TestNewRunIDUsesSource(t *testing.T) {
	t.Parallel()

	want := goUUID.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")
	gen := &Generator{Source: func() (goUUID.UUID, error) { return want, nil }}
	if got := gen.NewRunID(); got != want {
		t.Fatalf("NewRunID() = %s, want %s", got, want)
	}
}
