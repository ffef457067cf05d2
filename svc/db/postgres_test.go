package db

import (
	"context"
	"os"
	"sharebin/pkg/domain"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pg, err := NewPostgres(ctx, dsn, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer pg.Close()

	slug := gonanoid.Must(10)
	p := testPaste(slug, "pg-owner-"+slug, time.Now().UTC().Truncate(time.Microsecond))
	max := int64(1)
	p.MaxViews = &max
	if err := pg.InsertPaste(ctx, p); err != nil {
		t.Fatalf("InsertPaste: %v", err)
	}
	defer pg.DeletePaste(ctx, slug)

	got, err := pg.GetPaste(ctx, slug)
	if err != nil {
		t.Fatalf("GetPaste: %v", err)
	}
	if got.MaxViews == nil || *got.MaxViews != 1 || got.MaxDownloads != nil {
		t.Errorf("caps = %v / %v", got.MaxViews, got.MaxDownloads)
	}
	ok, err := pg.IncrementCounter(ctx, slug, domain.CounterViews)
	if err != nil || !ok {
		t.Fatalf("first increment = %v, %v", ok, err)
	}
	ok, err = pg.IncrementCounter(ctx, slug, domain.CounterViews)
	if err != nil || ok {
		t.Errorf("capped increment = %v, %v", ok, err)
	}
	list, err := pg.ListByOwner(ctx, p.OwnerID)
	if err != nil || len(list) != 1 {
		t.Errorf("ListByOwner = %v, %v", list, err)
	}
	if err := pg.DeletePaste(ctx, slug); err != nil {
		t.Fatalf("DeletePaste: %v", err)
	}
	if _, err := pg.GetPaste(ctx, slug); err != domain.ErrPasteNotFound {
		t.Errorf("GetPaste after delete = %v", err)
	}
}
