package auth

import (
	"context"
	"sharebin/pkg/domain"
	"strings"
	"testing"
	"time"
)

func newTestHasher(t *testing.T, opts ...Option) *Hasher {
	t.Helper()
	h, err := NewHasher(1, 1024, 1, []byte(strings.Repeat("p", 32)), append([]Option{WithMinVerifyTime(0)}, opts...)...)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if err := h.Start(2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h
}

func TestHashVerify(t *testing.T) {
	h := newTestHasher(t)
	ctx := context.Background()
	encoded, err := h.Hash(ctx, "hunter2")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}
	other, _ := h.Hash(ctx, "hunter2")
	if other == encoded {
		t.Error("two hashes of one password should differ by salt")
	}
	ok, err := h.Verify(ctx, "hunter2", encoded)
	if err != nil || !ok {
		t.Errorf("Verify(correct) = %v, %v", ok, err)
	}
	ok, err = h.Verify(ctx, "hunter3", encoded)
	if err != nil || ok {
		t.Errorf("Verify(wrong) = %v, %v", ok, err)
	}
	for _, bad := range []string{"", "plain", "$argon2id$v=19$m=x$a$b", "$bcrypt$v=1$m=1,t=1,p=1$AA$AA"} {
		if ok, err := h.Verify(ctx, "hunter2", bad); ok || err != nil {
			t.Errorf("Verify(%q) = %v, %v", bad, ok, err)
		}
	}
	if ok, _ := h.Verify(ctx, strings.Repeat("a", domain.MaxPasswordLength+1), encoded); ok {
		t.Error("overlong password verified")
	}
	if _, err := h.Hash(ctx, strings.Repeat("a", domain.MaxPasswordLength+1)); err != ErrPasswordLong {
		t.Errorf("Hash(overlong) = %v", err)
	}
}

func TestVerifyMinimumDuration(t *testing.T) {
	h := newTestHasher(t, WithMinVerifyTime(80*time.Millisecond))
	start := time.Now()
	_, _ = h.Verify(context.Background(), "x", "garbage")
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("Verify returned after %v, want >= 80ms", elapsed)
	}
}

func TestHasherLifecycle(t *testing.T) {
	if _, err := NewHasher(1, 1024, 1, []byte("short")); err == nil {
		t.Error("short pepper accepted")
	}
	h, err := NewHasher(1, 1024, 1, []byte(strings.Repeat("p", 32)))
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	if _, err := h.Hash(context.Background(), "pw"); err != ErrNotStarted {
		t.Errorf("Hash before Start = %v", err)
	}
	if err := h.Start(1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(1); err == nil {
		t.Error("second Start should fail")
	}
	h.Stop()
	h.Stop()
	if _, err := h.Hash(context.Background(), "pw"); err == nil {
		t.Error("Hash after Stop should fail")
	}
}
