package svc

import (
	"context"
	"math"
	"sharebin/cfg"
	"sharebin/metrics"
	"sharebin/pkg/domain"
	"sharebin/svc/blob"
	"sharebin/svc/policy"
	"sharebin/svc/util"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// MetaStore persists paste records and users.
type MetaStore interface {
	InsertPaste(ctx context.Context, p *domain.Paste) error
	GetPaste(ctx context.Context, slug string) (*domain.Paste, error)
	IncrementCounter(ctx context.Context, slug string, c domain.Counter) (bool, error)
	DeletePaste(ctx context.Context, slug string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Paste, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Paste, error)
	UpsertUser(ctx context.Context, u *domain.User) (bool, error)
}

type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, hash string) (bool, error)
}

// Sealer encrypts blob contents at rest. A nil Sealer stores bytes as is.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte, slug string) (ct, wrappedKey []byte, err error)
	Open(ctx context.Context, ct, wrappedKey []byte, slug string) ([]byte, error)
}

// StaleTracker remembers records whose blob was deleted but whose metadata
// delete failed.
type StaleTracker interface {
	FlagStale(ctx context.Context, slug string) error
	StaleSlugs(ctx context.Context) ([]string, error)
	ClearStale(ctx context.Context, slug string) error
}

type Paste struct {
	meta        MetaStore
	blobs       BlobStore
	hasher      PasswordHasher
	sealer      Sealer
	stale       StaleTracker
	policy      *policy.Policy
	cfg         *cfg.Cfg
	now         func() time.Time
	shutdown    atomic.Bool
	opWg        sync.WaitGroup
	cleanerOnce sync.Once
}

type Option func(*Paste)

func WithClock(now func() time.Time) Option {
	return func(p *Paste) { p.now = now }
}

// WithSealer turns on encryption at rest for new pastes.
func WithSealer(s Sealer) Option {
	return func(p *Paste) { p.sealer = s }
}

func WithStaleTracker(t StaleTracker) Option {
	return func(p *Paste) { p.stale = t }
}

func NewPaste(meta MetaStore, blobs BlobStore, hasher PasswordHasher, c *cfg.Cfg, opts ...Option) *Paste {
	if meta == nil || blobs == nil || hasher == nil || c == nil {
		panic("paste service: nil dependency (meta, blobs, hasher, or cfg)")
	}
	p := &Paste{
		meta:   meta,
		blobs:  blobs,
		hasher: hasher,
		cfg:    c,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.stale == nil {
		p.stale = NewMemStale()
	}
	p.policy = policy.New(hasher, p.now)
	return p
}

// Shutdown rejects new mutations and waits for in-flight ones.
func (p *Paste) Shutdown() {
	p.shutdown.Store(true)
	p.opWg.Wait()
	util.Debug().Msg("paste service shutdown complete")
}
func (p *Paste) begin() error {
	if p.shutdown.Load() {
		return domain.ErrServiceShuttingDown
	}
	p.opWg.Add(1)
	return nil
}

// Created is what the caller needs to build links after a create.
type Created struct {
	Slug      string
	Protected bool
	ExpiresAt time.Time
}

func (p *Paste) validate(params *domain.CreateParams) error {
	if params.OwnerID == "" {
		return domain.Validation("user_id is required")
	}
	if len(params.Content) == 0 {
		return domain.Validation("file is required")
	}
	if int64(len(params.Content)) > p.cfg.MaxUploadSize {
		return domain.Validation("file exceeds the upload size limit")
	}
	if params.Filename == "" {
		return domain.Validation("filename is required")
	}
	if math.IsNaN(params.ExpiresIn) || math.IsInf(params.ExpiresIn, 0) || params.ExpiresIn <= 0 {
		return domain.Validation("expires_in must be a positive number of minutes")
	}
	if len(params.Password) > domain.MaxPasswordLength {
		return domain.Validation("password is too long")
	}
	if params.MaxViews != nil && *params.MaxViews < 0 {
		return domain.Validation("max_views must be a non-negative integer")
	}
	if params.MaxDownloads != nil && *params.MaxDownloads < 0 {
		return domain.Validation("max_downloads must be a non-negative integer")
	}
	return nil
}

// lifetime converts validated minutes to a duration. Anything past
// MaxExpiry is capped; a positive value below one nanosecond rounds up
// to one so the paste still expires straight away.
func (p *Paste) lifetime(minutes float64) (time.Duration, bool) {
	limit := p.cfg.MaxExpiry
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	ns := minutes * float64(time.Minute)
	if ns >= float64(limit) {
		return limit, ns > float64(limit)
	}
	if ns < 1 {
		return time.Nanosecond, false
	}
	return time.Duration(ns), false
}

// Create uploads the file and then inserts its record. A failed insert
// removes the blob again on a best effort basis.
func (p *Paste) Create(ctx context.Context, params domain.CreateParams) (*Created, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	defer p.opWg.Done()
	if err := p.validate(&params); err != nil {
		return nil, err
	}
	lifetime, capped := p.lifetime(params.ExpiresIn)
	if capped {
		util.Warn().
			Float64("expires_in", params.ExpiresIn).
			Dur("max_expiry", p.cfg.MaxExpiry).
			Msg("requested expiry capped")
	}
	slug, err := util.GenSlug(func(s string) (bool, error) {
		return p.meta.SlugExists(ctx, s)
	})
	if err != nil {
		if errors.Is(err, util.ErrSlugCollision) {
			return nil, domain.ErrSlugGenerationFailed.With(err)
		}
		return nil, domain.ErrPersistence.With(err)
	}
	mimeType := params.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	filename := SanitizeFilename(params.Filename)
	var pwHash string
	if params.Password != "" {
		pwHash, err = p.hasher.Hash(ctx, params.Password)
		if err != nil {
			return nil, domain.ErrUnknown.With(errors.Wrap(err, "hash password"))
		}
	}
	payload := params.Content
	var wrappedKey []byte
	if p.sealer != nil {
		payload, wrappedKey, err = p.sealer.Seal(ctx, params.Content, slug)
		if err != nil {
			return nil, domain.ErrStorage.With(errors.Wrap(err, "seal blob"))
		}
	}
	now := p.now().UTC()
	expiresAt := now.Add(lifetime)
	rec := &domain.Paste{
		Slug:         slug,
		OwnerID:      params.OwnerID,
		Filename:     filename,
		MimeType:     mimeType,
		Size:         int64(len(params.Content)),
		StoragePath:  StoragePath(slug, filename),
		PasswordHash: pwHash,
		EncryptedDEK: wrappedKey,
		ExpiresAt:    &expiresAt,
		MaxViews:     params.MaxViews,
		MaxDownloads: params.MaxDownloads,
		CreatedAt:    now,
	}
	if err := p.blobs.Put(ctx, rec.StoragePath, payload, mimeType); err != nil {
		return nil, domain.ErrStorage.With(errors.Wrap(err, "upload"))
	}
	if err := p.meta.InsertPaste(ctx, rec); err != nil {
		if derr := p.blobs.Delete(context.WithoutCancel(ctx), rec.StoragePath); derr != nil {
			util.Warn().Err(derr).Str("slug", slug).Msg("orphaned blob after failed insert")
		}
		return nil, domain.ErrPersistence.With(errors.Wrap(err, "insert"))
	}
	metrics.PasteCreated.Inc()
	metrics.UploadBytes.Observe(float64(rec.Size))
	util.Info().
		Str("request_id", util.GetRequestID(ctx)).
		Str("slug", slug).
		Int64("size", rec.Size).
		Bool("protected", rec.Protected()).
		Bool("sealed", rec.Sealed()).
		Msg("paste created")
	return &Created{Slug: slug, Protected: rec.Protected(), ExpiresAt: expiresAt}, nil
}

// Content is an admitted access. Data is nil for a preview that did not
// unlock the body.
type Content struct {
	Paste *domain.Paste
	Data  []byte
}

// Access evaluates the policy for kind and, when admitted, consumes the
// matching counter before any blob bytes are read.
func (p *Paste) Access(ctx context.Context, slug string, kind domain.AccessKind, password string) (*Content, error) {
	rec, err := p.load(ctx, slug)
	if err != nil {
		return nil, err
	}
	d, err := p.policy.Evaluate(ctx, rec, kind, password)
	if err != nil {
		return nil, domain.ErrUnknown.With(err)
	}
	metrics.AccessDecisions.WithLabelValues(kind.String(), d.Outcome.String()).Inc()
	if !d.Admitted() {
		return nil, d.Err()
	}
	if kind == domain.AccessPreview {
		return p.preview(ctx, rec, password)
	}
	applied, err := p.meta.IncrementCounter(ctx, slug, d.Increment)
	if err != nil {
		return nil, domain.ErrPersistence.With(err)
	}
	if !applied {
		// Lost the race for the last use, or the record was deleted meanwhile.
		exists, err := p.meta.SlugExists(ctx, slug)
		if err != nil {
			return nil, domain.ErrPersistence.With(err)
		}
		if !exists {
			return nil, domain.ErrPasteNotFound
		}
		return nil, policy.Decision{Outcome: policy.LimitReached, Kind: kind}.Err()
	}
	switch d.Increment {
	case domain.CounterViews:
		rec.ViewCount++
	case domain.CounterDownloads:
		rec.DownloadCount++
	}
	data, err := p.read(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &Content{Paste: rec, Data: data}, nil
}

// preview never touches counters. The body is included for unprotected
// pastes, or when the supplied password verifies.
func (p *Paste) preview(ctx context.Context, rec *domain.Paste, password string) (*Content, error) {
	out := &Content{Paste: rec}
	if rec.Protected() {
		if password == "" {
			return out, nil
		}
		ok, err := p.hasher.Verify(ctx, password, rec.PasswordHash)
		if err != nil {
			return nil, domain.ErrUnknown.With(err)
		}
		if !ok {
			return out, nil
		}
	}
	data, err := p.read(ctx, rec)
	if err != nil {
		return nil, err
	}
	out.Data = data
	return out, nil
}

// Inspect returns the record after the expiry check only. Used for
// surfaces, such as the QR code, that reveal nothing but the link.
func (p *Paste) Inspect(ctx context.Context, slug string) (*domain.Paste, error) {
	rec, err := p.load(ctx, slug)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrPasteNotFound
	}
	if rec.IsExpired(p.now()) {
		return nil, domain.ErrPasteExpired
	}
	return rec, nil
}
func (p *Paste) load(ctx context.Context, slug string) (*domain.Paste, error) {
	if !util.ValidSlug(slug) {
		return nil, nil
	}
	rec, err := p.meta.GetPaste(ctx, slug)
	if errors.Is(err, domain.ErrPasteNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.ErrPersistence.With(err)
	}
	return rec, nil
}
func (p *Paste) read(ctx context.Context, rec *domain.Paste) ([]byte, error) {
	data, err := p.blobs.Get(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			util.Warn().Str("slug", rec.Slug).Msg("record has no blob")
		}
		return nil, domain.ErrStorage.With(err)
	}
	if !rec.Sealed() {
		return data, nil
	}
	if p.sealer == nil {
		return nil, domain.ErrStorage.With(errors.New("sealed blob but encryption is not configured"))
	}
	plain, err := p.sealer.Open(ctx, data, rec.EncryptedDEK, rec.Slug)
	if err != nil {
		return nil, domain.ErrStorage.With(err)
	}
	return plain, nil
}

// Delete removes the blob first and the record second. A blob failure
// leaves the record untouched. A record failure after the blob is gone
// flags the slug for the cleaner to retry.
func (p *Paste) Delete(ctx context.Context, slug, requesterID string) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.opWg.Done()
	rec, err := p.load(ctx, slug)
	if err != nil {
		return err
	}
	if rec == nil {
		metrics.PasteDeleted.WithLabelValues("not_found").Inc()
		return domain.ErrPasteNotFound
	}
	if p.cfg.EnforceDeleteOwner && requesterID != rec.OwnerID {
		metrics.PasteDeleted.WithLabelValues("forbidden").Inc()
		return domain.ErrForbidden
	}
	if err := p.blobs.Delete(ctx, rec.StoragePath); err != nil {
		metrics.PasteDeleted.WithLabelValues("storage_error").Inc()
		return domain.ErrStorage.With(err)
	}
	if err := p.meta.DeletePaste(ctx, slug); err != nil {
		metrics.PasteDeleted.WithLabelValues("persistence_error").Inc()
		p.flagStale(ctx, slug, err)
		return domain.ErrPersistence.With(err)
	}
	metrics.PasteDeleted.WithLabelValues("ok").Inc()
	util.Info().
		Str("request_id", util.GetRequestID(ctx)).
		Str("slug", slug).
		Msg("paste deleted")
	return nil
}
func (p *Paste) flagStale(ctx context.Context, slug string, cause error) {
	metrics.StaleRecords.Inc()
	util.Error().
		Err(cause).
		Str("request_id", util.GetRequestID(ctx)).
		Str("slug", slug).
		Msg("blob deleted but record remains, flagged for reconciliation")
	if err := p.stale.FlagStale(context.WithoutCancel(ctx), slug); err != nil {
		util.Error().Err(err).Str("slug", slug).Msg("failed to flag stale record")
	}
}

// Listing is a record plus its derived expiry state.
type Listing struct {
	*domain.Paste
	Protected bool `json:"protected"`
	Expired   bool `json:"expired"`
}

func (p *Paste) ListForOwner(ctx context.Context, ownerID string) ([]Listing, error) {
	if ownerID == "" {
		return nil, domain.Validation("user id is required")
	}
	recs, err := p.meta.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, domain.ErrPersistence.With(err)
	}
	now := p.now()
	out := make([]Listing, 0, len(recs))
	for _, r := range recs {
		out = append(out, Listing{Paste: r, Protected: r.Protected(), Expired: r.IsExpired(now)})
	}
	return out, nil
}

// RegisterUser inserts u unless the id is taken. created is false for a
// repeat registration.
func (p *Paste) RegisterUser(ctx context.Context, u domain.User) (*domain.User, bool, error) {
	if u.ID == "" || u.Email == "" {
		return nil, false, domain.Validation("id and email are required")
	}
	u.CreatedAt = p.now().UTC()
	created, err := p.meta.UpsertUser(ctx, &u)
	if err != nil {
		return nil, false, domain.ErrPersistence.With(err)
	}
	return &u, created, nil
}
