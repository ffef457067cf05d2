package kms_test

import (
	"context"
	"sharebin/pkg/kms"
	"testing"
)

const testLocalKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="

func localAdapter(t *testing.T) *kms.Adapter {
	t.Helper()
	adapter, err := kms.NewAdapter(context.Background(), kms.Options{LocalKey: testLocalKey, FailClosed: true})
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	return adapter
}

func TestEncryptionContextAAD(t *testing.T) {
	adapter := localAdapter(t)
	if adapter.Name() != "local" {
		t.Errorf("Name = %q, want local", adapter.Name())
	}
	plaintext := []byte("data key bytes")

	t.Run("Matching context succeeds", func(t *testing.T) {
		encCtx := kms.EncryptionContext{"slug": "abcdefghij", "owner": "u1"}
		ciphertext, err := adapter.EncryptWithContext(context.Background(), plaintext, encCtx)
		if err != nil {
			t.Fatalf("Encryption failed: %v", err)
		}
		decrypted, err := adapter.DecryptWithContext(context.Background(), ciphertext, encCtx)
		if err != nil {
			t.Fatalf("Decryption with correct context failed: %v", err)
		}
		if string(decrypted) != string(plaintext) {
			t.Errorf("Decrypted data mismatch: got %q, want %q", decrypted, plaintext)
		}
	})

	t.Run("Different context fails", func(t *testing.T) {
		ciphertext, err := adapter.EncryptWithContext(context.Background(), plaintext, kms.EncryptionContext{"slug": "aaaaaaaaaa"})
		if err != nil {
			t.Fatalf("Encryption failed: %v", err)
		}
		if _, err := adapter.DecryptWithContext(context.Background(), ciphertext, kms.EncryptionContext{"slug": "bbbbbbbbbb"}); err == nil {
			t.Error("Decryption succeeded with a different context")
		}
		if _, err := adapter.DecryptWithContext(context.Background(), ciphertext, nil); err == nil {
			t.Error("Decryption succeeded without context")
		}
	})

	t.Run("Context key ordering is deterministic", func(t *testing.T) {
		ctx1 := kms.EncryptionContext{"a": "1", "z": "26", "m": "13"}
		ctx2 := kms.EncryptionContext{"z": "26", "a": "1", "m": "13"}
		ciphertext, err := adapter.EncryptWithContext(context.Background(), plaintext, ctx1)
		if err != nil {
			t.Fatalf("Encryption failed: %v", err)
		}
		if _, err := adapter.DecryptWithContext(context.Background(), ciphertext, ctx2); err != nil {
			t.Errorf("Context ordering not deterministic: %v", err)
		}
	})
}

func TestNewAdapterRequiresProvider(t *testing.T) {
	if _, err := kms.NewAdapter(context.Background(), kms.Options{}); err == nil {
		t.Error("expected error with no providers configured")
	}
	if _, err := kms.NewAdapter(context.Background(), kms.Options{RequirePrimary: true, LocalKey: testLocalKey}); err == nil {
		t.Error("local key must not satisfy RequirePrimary")
	}
	if _, err := kms.NewAdapter(context.Background(), kms.Options{LocalKey: "c2hvcnQ="}); err == nil {
		t.Error("short local key should be rejected")
	}
}
