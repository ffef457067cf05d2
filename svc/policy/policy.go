// Package policy decides whether an access attempt on a paste is allowed
// and which usage counter it consumes. It never touches a store: the
// caller applies the returned increment.
package policy

import (
	"context"
	"sharebin/pkg/domain"
	"time"

	"github.com/pkg/errors"
)

type Outcome int

// The zero Outcome admits nothing, so a Decision returned next to an
// error can never be mistaken for an admission.
const (
	Undecided Outcome = iota
	Admitted
	NotFound
	Expired
	LimitReached
	PasswordRequired
	InvalidPassword
)

func (o Outcome) String() string {
	switch o {
	case Undecided:
		return "undecided"
	case Admitted:
		return "admitted"
	case NotFound:
		return "not_found"
	case Expired:
		return "expired"
	case LimitReached:
		return "limit_reached"
	case PasswordRequired:
		return "password_required"
	case InvalidPassword:
		return "invalid_password"
	}
	return "unknown"
}

type Decision struct {
	Outcome   Outcome
	Kind      domain.AccessKind
	Increment domain.Counter
}

func (d Decision) Admitted() bool { return d.Outcome == Admitted }

// Err maps a denial to the error taxonomy. Admitted decisions return nil.
func (d Decision) Err() error {
	switch d.Outcome {
	case Admitted:
		return nil
	case NotFound:
		return domain.ErrPasteNotFound
	case Expired:
		return domain.ErrPasteExpired
	case LimitReached:
		if d.Kind == domain.AccessDownload {
			return domain.ErrDownloadLimitReached
		}
		return domain.ErrViewLimitReached
	case PasswordRequired:
		return domain.ErrPasswordRequired
	case InvalidPassword:
		return domain.ErrInvalidPassword
	}
	return domain.ErrUnknown
}

// Verifier checks a plaintext password against a stored hash.
type Verifier interface {
	Verify(ctx context.Context, password, hash string) (bool, error)
}

type Policy struct {
	verifier Verifier
	now      func() time.Time
}

func New(v Verifier, clock func() time.Time) *Policy {
	if clock == nil {
		clock = time.Now
	}
	return &Policy{verifier: v, now: clock}
}

// Evaluate runs the checks in fixed order: existence, expiry, usage limit,
// password. The first failing check decides. An empty password counts as
// not supplied. The error return is only used when the verifier fails.
func (p *Policy) Evaluate(ctx context.Context, rec *domain.Paste, kind domain.AccessKind, password string) (Decision, error) {
	d := Decision{Kind: kind}
	if rec == nil {
		d.Outcome = NotFound
		return d, nil
	}
	if rec.IsExpired(p.now()) {
		d.Outcome = Expired
		return d, nil
	}
	if limitReached(rec, kind) {
		d.Outcome = LimitReached
		return d, nil
	}
	if rec.Protected() && kind != domain.AccessPreview {
		if password == "" {
			d.Outcome = PasswordRequired
			return d, nil
		}
		ok, err := p.verifier.Verify(ctx, password, rec.PasswordHash)
		if err != nil {
			return d, errors.Wrap(err, "verify password")
		}
		if !ok {
			d.Outcome = InvalidPassword
			return d, nil
		}
	}
	d.Outcome = Admitted
	d.Increment = counterFor(kind)
	return d, nil
}

func limitReached(rec *domain.Paste, kind domain.AccessKind) bool {
	switch kind {
	case domain.AccessView:
		return rec.MaxViews != nil && rec.ViewCount >= *rec.MaxViews
	case domain.AccessDownload:
		return rec.MaxDownloads != nil && rec.DownloadCount >= *rec.MaxDownloads
	}
	return false
}

func counterFor(kind domain.AccessKind) domain.Counter {
	switch kind {
	case domain.AccessView:
		return domain.CounterViews
	case domain.AccessDownload:
		return domain.CounterDownloads
	}
	return domain.CounterNone
}
