package pagination

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateLimit(t *testing.T) {
	for _, limit := range []int{0, 1, DefaultLimit, MaxLimit} {
		if err := ValidateLimit(limit); err != nil {
			t.Errorf("ValidateLimit(%d) = %v, want nil", limit, err)
		}
	}
	for _, limit := range []int{-1, MaxLimit + 1} {
		if err := ValidateLimit(limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("ValidateLimit(%d) = %v, want ErrInvalidLimit", limit, err)
		}
	}
}

func TestCursorRoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 49, 1000} {
		got, err := DecodeCursor(EncodeCursor(offset))
		if err != nil {
			t.Fatalf("DecodeCursor(EncodeCursor(%d)) error: %v", offset, err)
		}
		if got != offset {
			t.Errorf("offset round trip: got %d, want %d", got, offset)
		}
	}

	if got, err := DecodeCursor(""); err != nil || got != 0 {
		t.Errorf("DecodeCursor(\"\") = %d, %v; want 0, nil", got, err)
	}
}

func TestDecodeCursor_Invalid(t *testing.T) {
	bad := []string{
		"!!!",
		EncodeCursor(-1),
		"b2Zmc2V0OmFiYw", // offset:abc
		"aGVsbG8",        // hello
	}
	for _, c := range bad {
		if _, err := DecodeCursor(c); !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("DecodeCursor(%q) = %v, want ErrInvalidCursor", c, err)
		}
	}
}

func TestPage(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	var all []string
	cursor := ""
	pages := 0
	for {
		page, next, err := Page(items, cursor, 2)
		if err != nil {
			t.Fatalf("Page: %v", err)
		}
		all = append(all, page...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	if pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if !reflect.DeepEqual(all, items) {
		t.Errorf("collected %v, want %v", all, items)
	}
}

func TestPage_NoLimit(t *testing.T) {
	items := []int{1, 2, 3}
	page, next, err := Page(items, "", 0)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if next != "" || !reflect.DeepEqual(page, items) {
		t.Errorf("Page without limit = %v, %q", page, next)
	}
}

func TestPage_ExactBoundary(t *testing.T) {
	items := []int{1, 2, 3, 4}
	page, next, err := Page(items, "", 4)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if next != "" {
		t.Errorf("expected last page, got next cursor %q", next)
	}
	if len(page) != 4 {
		t.Errorf("expected 4 items, got %d", len(page))
	}
}

func TestPage_CursorBeyondEnd(t *testing.T) {
	_, _, err := Page([]int{1}, EncodeCursor(5), 1)
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}

	page, next, err := Page([]int{1}, EncodeCursor(1), 1)
	if err != nil || len(page) != 0 || next != "" {
		t.Errorf("cursor at end: got %v, %q, %v", page, next, err)
	}
}
