package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBoltPutGetDelete(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	data := []byte("hello world")
	if err := b.Put(ctx, "abc/notes.txt", data, "text/plain"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'
	got, err := b.Get(ctx, "abc/notes.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Errorf("Get = %q", got)
	}
	if err := b.Delete(ctx, "abc/notes.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Get(ctx, "abc/notes.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := b.Delete(ctx, "abc/notes.txt"); err != nil {
		t.Errorf("deleting a missing blob should succeed, got %v", err)
	}
	if err := b.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestBoltCanceledContext(t *testing.T) {
	b, err := OpenBolt(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Put(ctx, "k", []byte("v"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Put on canceled ctx = %v", err)
	}
}
