package util

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestGenSlug(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		slug, err := GenSlug(func(s string) (bool, error) { return seen[s], nil })
		if err != nil {
			t.Fatalf("GenSlug: %v", err)
		}
		if !ValidSlug(slug) {
			t.Fatalf("generated slug %q is not valid", slug)
		}
		if seen[slug] {
			t.Fatalf("duplicate slug %q", slug)
		}
		seen[slug] = true
	}
}

func TestGenSlugRetriesAndGivesUp(t *testing.T) {
	calls := 0
	_, err := GenSlug(func(string) (bool, error) {
		calls++
		return true, nil
	})
	if !errors.Is(err, ErrSlugCollision) {
		t.Fatalf("err = %v, want ErrSlugCollision", err)
	}
	if calls != slugRetries {
		t.Errorf("exists called %d times, want %d", calls, slugRetries)
	}

	boom := errors.New("db down")
	if _, err := GenSlug(func(string) (bool, error) { return false, boom }); !errors.Is(err, boom) {
		t.Errorf("err = %v, want store error", err)
	}
}

func TestValidSlug(t *testing.T) {
	for _, s := range []string{"", "abc", "abcdefghijk", "abcde/ghij", "../../etc1"} {
		if ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = true", s)
		}
	}
	if !ValidSlug("aZ09aZ09aZ") {
		t.Errorf("ValidSlug rejected a base62 slug")
	}
}

func TestRequestIDFrom(t *testing.T) {
	if got := RequestIDFrom("9f1c1a0e-3b7e-4a52-8d0c-2f0d2c1e5b11"); got != "9f1c1a0e-3b7e-4a52-8d0c-2f0d2c1e5b11" {
		t.Errorf("valid uuid not kept: %q", got)
	}
	forged := "abc\ninjected=1"
	if got := RequestIDFrom(forged); got == forged || strings.Contains(got, "\n") {
		t.Errorf("forged id kept: %q", got)
	}
	ctx := SetRequestID(context.Background(), "rid")
	if GetRequestID(ctx) != "rid" {
		t.Errorf("request id not stored on context")
	}
	if GetRequestID(context.Background()) != "" {
		t.Errorf("missing request id should be empty")
	}
}

func TestRedaction(t *testing.T) {
	if got := RedactIP("203.0.113.77:5123"); got != "203.0.113.0" {
		t.Errorf("RedactIP = %q", got)
	}
	if got := RedactDSN("postgres://app:pw@db:5432/sharebin?sslmode=disable"); strings.Contains(got, "pw") {
		t.Errorf("RedactDSN leaked password: %q", got)
	}
	b := []byte("secret")
	Wipe(b)
	for _, c := range b {
		if c != 0 {
			t.Fatal("Wipe left data behind")
		}
	}
}
