package domain

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestIsExpiredBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := now
	before := now.Add(-time.Second)
	after := now.Add(time.Second)

	tests := []struct {
		name string
		exp  *time.Time
		want bool
	}{
		{"no expiry", nil, false},
		{"expires exactly now", &at, true},
		{"expired", &before, true},
		{"still alive", &after, false},
	}
	for _, tt := range tests {
		p := &Paste{ExpiresAt: tt.exp}
		if got := p.IsExpired(now); got != tt.want {
			t.Errorf("%s: IsExpired = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrWithKeepsTaxonomy(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := errors.Wrap(ErrStorage.With(cause), "put blob")

	if !errors.Is(err, ErrStorage) {
		t.Fatalf("wrapped storage error does not match sentinel: %v", err)
	}
	if errors.Is(err, ErrPersistence) {
		t.Errorf("storage error matched persistence sentinel")
	}
	if got := Status(err); got != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", got)
	}
	resp := ToResp(err)
	if resp.Code != "STORAGE_ERROR" {
		t.Errorf("code = %q", resp.Code)
	}
	if resp.Msg != ErrStorage.Msg {
		t.Errorf("client message leaked cause: %q", resp.Msg)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("expires_in must be a positive number"), http.StatusBadRequest},
		{ErrPasteNotFound, http.StatusNotFound},
		{ErrPasteExpired, http.StatusGone},
		{ErrViewLimitReached, http.StatusForbidden},
		{ErrDownloadLimitReached, http.StatusForbidden},
		{ErrPasswordRequired, http.StatusUnauthorized},
		{ErrInvalidPassword, http.StatusForbidden},
		{ErrPersistence, http.StatusInternalServerError},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
	if ToResp(fmt.Errorf("boom")).Code != "UNKNOWN_ERROR" {
		t.Errorf("unknown errors should map to UNKNOWN_ERROR")
	}
}
