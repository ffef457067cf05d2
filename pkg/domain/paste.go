package domain

import (
	"time"
)

type AccessKind int

const (
	AccessView AccessKind = iota
	AccessDownload
	AccessPreview
)

func (k AccessKind) String() string {
	switch k {
	case AccessView:
		return "view"
	case AccessDownload:
		return "download"
	case AccessPreview:
		return "preview"
	}
	return "unknown"
}

// Counter names the usage counter an admitted access consumes.
type Counter int

const (
	CounterNone Counter = iota
	CounterViews
	CounterDownloads
)

func (c Counter) String() string {
	switch c {
	case CounterViews:
		return "views"
	case CounterDownloads:
		return "downloads"
	}
	return "none"
}

type Paste struct {
	Slug          string     `json:"slug"`
	OwnerID       string     `json:"owner_id"`
	Filename      string     `json:"filename"`
	MimeType      string     `json:"mime_type"`
	Size          int64      `json:"size"`
	StoragePath   string     `json:"-"`
	PasswordHash  string     `json:"-"`
	EncryptedDEK  []byte     `json:"-"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	MaxViews      *int64     `json:"max_views,omitempty"`
	MaxDownloads  *int64     `json:"max_downloads,omitempty"`
	ViewCount     int64      `json:"view_count"`
	DownloadCount int64      `json:"download_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (p *Paste) Protected() bool {
	return p.PasswordHash != ""
}

// IsExpired reports whether the paste is dead at now. A paste expiring
// exactly at now is already expired.
func (p *Paste) IsExpired(now time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// Sealed reports whether the stored bytes are envelope-encrypted.
func (p *Paste) Sealed() bool {
	return len(p.EncryptedDEK) > 0
}

// MaxPasswordLength bounds the paste password in bytes.
const MaxPasswordLength = 1024

type CreateParams struct {
	OwnerID      string
	Filename     string
	MimeType     string
	Content      []byte
	ExpiresIn    float64 // minutes
	Password     string
	MaxViews     *int64
	MaxDownloads *int64
}

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
