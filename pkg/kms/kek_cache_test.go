package kms

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

type mockProvider struct {
	decryptFunc func(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error)
}

func (m *mockProvider) EncryptWithContext(ctx context.Context, plaintext []byte, encContext []byte) ([]byte, error) {
	return plaintext, nil
}
func (m *mockProvider) DecryptWithContext(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error) {
	if m.decryptFunc != nil {
		return m.decryptFunc(ctx, ciphertext, encContext)
	}
	return ciphertext, nil
}
func (m *mockProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return "secret", nil
}

func countingAdapter(calls *int, mu *sync.Mutex, delay time.Duration) *Adapter {
	return &Adapter{
		primary: &mockProvider{
			decryptFunc: func(ctx context.Context, ciphertext []byte, encContext []byte) ([]byte, error) {
				time.Sleep(delay)
				mu.Lock()
				*calls++
				mu.Unlock()
				return append([]byte("decrypted-"), ciphertext...), nil
			},
		},
	}
}

func TestKEKCache_HitMiss(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	cache := NewKEKCache(countingAdapter(&calls, &mu, 0), time.Hour)
	defer cache.Stop()
	ctx := context.Background()
	encCtx := EncryptionContext{"slug": "abc"}

	first, err := cache.DecryptDEK(ctx, []byte("wrapped"), encCtx)
	if err != nil {
		t.Fatalf("DecryptDEK failed: %v", err)
	}
	second, err := cache.DecryptDEK(ctx, []byte("wrapped"), encCtx)
	if err != nil {
		t.Fatalf("DecryptDEK failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 KMS call, got %d", calls)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("Cache hit returned different result")
	}
	first[0] ^= 0xff
	third, _ := cache.DecryptDEK(ctx, []byte("wrapped"), encCtx)
	if !bytes.Equal(third, second) {
		t.Errorf("caller mutation leaked into cache")
	}
}

func TestKEKCache_ContextIsPartOfKey(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	cache := NewKEKCache(countingAdapter(&calls, &mu, 0), time.Hour)
	defer cache.Stop()
	ctx := context.Background()
	_, _ = cache.DecryptDEK(ctx, []byte("wrapped"), EncryptionContext{"slug": "a"})
	_, _ = cache.DecryptDEK(ctx, []byte("wrapped"), EncryptionContext{"slug": "b"})
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected 2 KMS calls for different contexts, got %d", calls)
	}
}

func TestKEKCache_Expiration(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	cache := NewKEKCache(countingAdapter(&calls, &mu, 0), 50*time.Millisecond)
	defer cache.Stop()
	ctx := context.Background()
	if _, err := cache.DecryptDEK(ctx, []byte("dek"), nil); err != nil {
		t.Fatalf("DecryptDEK failed: %v", err)
	}
	time.Sleep(120 * time.Millisecond)
	if _, err := cache.DecryptDEK(ctx, []byte("dek"), nil); err != nil {
		t.Fatalf("DecryptDEK failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("Expected expired entry to be refetched, got %d calls", calls)
	}
}

func TestKEKCache_ConcurrentAccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	cache := NewKEKCache(countingAdapter(&calls, &mu, 50*time.Millisecond), time.Hour)
	defer cache.Stop()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.DecryptDEK(ctx, []byte("dek"), nil); err != nil {
				t.Errorf("DecryptDEK failed: %v", err)
			}
		}()
	}
	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected 1 KMS call (single-flight), got %d", calls)
	}
}

func TestKEKCache_Stop(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	cache := NewKEKCache(countingAdapter(&calls, &mu, 0), time.Hour)
	ctx := context.Background()
	_, _ = cache.DecryptDEK(ctx, []byte("dek1"), nil)
	_, _ = cache.DecryptDEK(ctx, []byte("dek2"), nil)
	if stats := cache.Stats(); stats.Entries != 2 {
		t.Errorf("Expected 2 cache entries, got %d", stats.Entries)
	}
	cache.Stop()
	if stats := cache.Stats(); stats.Entries != 0 {
		t.Errorf("Expected 0 cache entries after stop, got %d", stats.Entries)
	}
	if _, err := cache.DecryptDEK(ctx, []byte("dek1"), nil); err != ErrProviderUnavailable {
		t.Errorf("DecryptDEK after stop = %v", err)
	}
}
