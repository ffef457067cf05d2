package kms_test

import (
	"bytes"
	"context"
	"sharebin/pkg/kms"
	"testing"
	"time"
)

func TestEnvelopeSealOpen(t *testing.T) {
	adapter := localAdapter(t)
	env := kms.NewEnvelope(adapter, kms.NewKEKCache(adapter, time.Minute))
	defer env.Stop()
	ctx := context.Background()
	plaintext := []byte("file contents")

	ct, wrapped, err := env.Seal(ctx, plaintext, "slug000001")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}
	got, err := env.Open(ctx, ct, wrapped, "slug000001")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open = %q, want %q", got, plaintext)
	}
	if _, err := env.Open(ctx, ct, wrapped, "slug000002"); err == nil {
		t.Error("Open under a different slug should fail")
	}
	ct[len(ct)-1] ^= 1
	if _, err := env.Open(ctx, ct, wrapped, "slug000001"); err == nil {
		t.Error("Open of tampered ciphertext should fail")
	}
}

func TestAEADRejectsShortInput(t *testing.T) {
	dek, err := kms.GenerateDEK()
	if err != nil {
		t.Fatalf("GenerateDEK: %v", err)
	}
	if _, err := kms.AEADOpen([]byte("short"), dek, nil); err == nil {
		t.Error("expected error for short ciphertext")
	}
}
