package db

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL: %v", err)
	}
	r := NewRedisClient(redis.NewClient(opt), 2*time.Second)
	t.Cleanup(func() { r.Close() })
	if err := r.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	return r
}

func TestRedisBlobTier(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	path := gonanoid.Must(10) + "/notes.txt"
	data := []byte("cached bytes")

	if err := r.CacheBlob(ctx, path, data, time.Minute); err != nil {
		t.Fatalf("CacheBlob: %v", err)
	}
	defer r.DeleteBlob(ctx, path)

	got, err := r.GetBlob(ctx, path)
	if err != nil {
		t.Fatalf("GetBlob: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("GetBlob = %q, want %q", got, data)
	}

	if err := r.DeleteBlob(ctx, path); err != nil {
		t.Fatalf("DeleteBlob: %v", err)
	}
	got, err = r.GetBlob(ctx, path)
	if err != nil || got != nil {
		t.Errorf("GetBlob after delete = %q, %v; want nil, nil", got, err)
	}
}

func TestRedisBlobExpires(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	path := gonanoid.Must(10) + "/short.txt"
	if err := r.CacheBlob(ctx, path, []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("CacheBlob: %v", err)
	}
	defer r.DeleteBlob(ctx, path)
	time.Sleep(200 * time.Millisecond)
	if got, err := r.GetBlob(ctx, path); err != nil || got != nil {
		t.Errorf("GetBlob past ttl = %q, %v; want nil, nil", got, err)
	}
}

func TestRedisStaleSet(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	slug := gonanoid.Must(10)

	if err := r.FlagStale(ctx, slug); err != nil {
		t.Fatalf("FlagStale: %v", err)
	}
	defer r.ClearStale(ctx, slug)

	slugs, err := r.StaleSlugs(ctx)
	if err != nil {
		t.Fatalf("StaleSlugs: %v", err)
	}
	if !containsSlug(slugs, slug) {
		t.Errorf("StaleSlugs = %v, missing %s", slugs, slug)
	}

	if err := r.ClearStale(ctx, slug); err != nil {
		t.Fatalf("ClearStale: %v", err)
	}
	slugs, err = r.StaleSlugs(ctx)
	if err != nil {
		t.Fatalf("StaleSlugs: %v", err)
	}
	if containsSlug(slugs, slug) {
		t.Errorf("%s still flagged after ClearStale", slug)
	}
}

func containsSlug(slugs []string, slug string) bool {
	for _, s := range slugs {
		if s == slug {
			return true
		}
	}
	return false
}
