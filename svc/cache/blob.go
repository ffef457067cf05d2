package cache

import (
	"context"
	"sharebin/metrics"
	"sharebin/svc/util"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend is the blob store being cached.
type Backend interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Ping(ctx context.Context) error
}

// Remote is an optional shared tier, normally Redis.
type Remote interface {
	CacheBlob(ctx context.Context, path string, data []byte, ttl time.Duration) error
	GetBlob(ctx context.Context, path string) ([]byte, error)
	DeleteBlob(ctx context.Context, path string) error
}

// Blobs reads through an LRU, then the remote tier, then the backend.
// Concurrent misses for one path share a single backend read.
type Blobs struct {
	backend Backend
	local   *LRU
	remote  Remote
	maxItem int
	ttl     time.Duration
	group   singleflight.Group
}

// NewBlobs wraps backend. local and remote may be nil. Blobs larger than
// maxItem bytes are never cached.
func NewBlobs(backend Backend, local *LRU, remote Remote, maxItem int, ttl time.Duration) *Blobs {
	return &Blobs{
		backend: backend,
		local:   local,
		remote:  remote,
		maxItem: maxItem,
		ttl:     ttl,
	}
}
func (b *Blobs) Put(ctx context.Context, path string, data []byte, contentType string) error {
	return b.backend.Put(ctx, path, data, contentType)
}
func (b *Blobs) Get(ctx context.Context, path string) ([]byte, error) {
	if b.local != nil {
		if data, ok := b.local.Get(ctx, path); ok {
			metrics.BlobCacheHits.WithLabelValues("local").Inc()
			return data, nil
		}
	}
	v, err, _ := b.group.Do(path, func() (interface{}, error) {
		if b.remote != nil {
			data, err := b.remote.GetBlob(ctx, path)
			if err != nil {
				util.Warn().Err(err).Msg("remote blob cache read failed")
			} else if data != nil {
				metrics.BlobCacheHits.WithLabelValues("remote").Inc()
				b.fillLocal(path, data)
				return data, nil
			}
		}
		metrics.BlobCacheMisses.Inc()
		data, err := b.backend.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if b.cacheable(data) {
			b.fillLocal(path, data)
			if b.remote != nil {
				if err := b.remote.CacheBlob(ctx, path, data, b.ttl); err != nil {
					util.Warn().Err(err).Msg("remote blob cache write failed")
				}
			}
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Delete removes the blob from the backend and drops every cached copy. The
// caches are cleared even when the backend call fails.
func (b *Blobs) Delete(ctx context.Context, path string) error {
	b.Invalidate(ctx, path)
	return b.backend.Delete(ctx, path)
}
func (b *Blobs) Invalidate(ctx context.Context, path string) {
	if b.local != nil {
		b.local.Delete(path)
	}
	if b.remote != nil {
		if err := b.remote.DeleteBlob(ctx, path); err != nil {
			util.Warn().Err(err).Msg("remote blob cache invalidate failed")
		}
	}
}
func (b *Blobs) Ping(ctx context.Context) error {
	return b.backend.Ping(ctx)
}
func (b *Blobs) cacheable(data []byte) bool {
	return b.maxItem > 0 && len(data) <= b.maxItem
}
func (b *Blobs) fillLocal(path string, data []byte) {
	if b.local != nil && b.cacheable(data) {
		b.local.Set(path, data, b.ttl)
	}
}
