package policy

import (
	"context"
	"errors"
	"sharebin/pkg/domain"
	"testing"
	"time"
)

type fakeVerifier struct {
	secret string
	calls  int
	err    error
}

func (f *fakeVerifier) Verify(ctx context.Context, password, hash string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return hash == "hash:"+f.secret && password == f.secret, nil
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func i64(v int64) *int64 { return &v }

func at(d time.Duration) *time.Time {
	t := fixedNow.Add(d)
	return &t
}

func TestEvaluateOrder(t *testing.T) {
	tests := []struct {
		name      string
		rec       *domain.Paste
		kind      domain.AccessKind
		password  string
		want      Outcome
		increment domain.Counter
	}{
		{
			name: "missing record",
			rec:  nil,
			kind: domain.AccessView,
			want: NotFound,
		},
		{
			name:     "expired beats wrong password and limits",
			rec:      &domain.Paste{ExpiresAt: at(-time.Minute), PasswordHash: "hash:secret", MaxViews: i64(1), ViewCount: 1},
			kind:     domain.AccessView,
			password: "wrong",
			want:     Expired,
		},
		{
			name: "expiry at exactly now is expired",
			rec:  &domain.Paste{ExpiresAt: at(0)},
			kind: domain.AccessPreview,
			want: Expired,
		},
		{
			name:     "view limit before password",
			rec:      &domain.Paste{ExpiresAt: at(time.Hour), PasswordHash: "hash:secret", MaxViews: i64(2), ViewCount: 2},
			kind:     domain.AccessView,
			password: "",
			want:     LimitReached,
		},
		{
			name: "download limit",
			rec:  &domain.Paste{MaxDownloads: i64(0)},
			kind: domain.AccessDownload,
			want: LimitReached,
		},
		{
			name:      "view limit does not apply to downloads",
			rec:       &domain.Paste{MaxViews: i64(1), ViewCount: 1},
			kind:      domain.AccessDownload,
			want:      Admitted,
			increment: domain.CounterDownloads,
		},
		{
			name:      "preview ignores limits",
			rec:       &domain.Paste{MaxViews: i64(1), ViewCount: 1, MaxDownloads: i64(1), DownloadCount: 1},
			kind:      domain.AccessPreview,
			want:      Admitted,
			increment: domain.CounterNone,
		},
		{
			name: "password required",
			rec:  &domain.Paste{PasswordHash: "hash:secret"},
			kind: domain.AccessDownload,
			want: PasswordRequired,
		},
		{
			name:     "invalid password",
			rec:      &domain.Paste{PasswordHash: "hash:secret"},
			kind:     domain.AccessView,
			password: "wrong",
			want:     InvalidPassword,
		},
		{
			name:      "correct password",
			rec:       &domain.Paste{PasswordHash: "hash:secret", MaxViews: i64(3), ViewCount: 2},
			kind:      domain.AccessView,
			password:  "secret",
			want:      Admitted,
			increment: domain.CounterViews,
		},
		{
			name:      "preview of protected paste needs no password",
			rec:       &domain.Paste{PasswordHash: "hash:secret"},
			kind:      domain.AccessPreview,
			want:      Admitted,
			increment: domain.CounterNone,
		},
		{
			name:      "unlimited, never expiring",
			rec:       &domain.Paste{ViewCount: 1000},
			kind:      domain.AccessView,
			want:      Admitted,
			increment: domain.CounterViews,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&fakeVerifier{secret: "secret"}, clock)
			d, err := p.Evaluate(context.Background(), tt.rec, tt.kind, tt.password)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v", d.Outcome, tt.want)
			}
			if d.Increment != tt.increment {
				t.Errorf("increment = %v, want %v", d.Increment, tt.increment)
			}
		})
	}
}

func TestExpiredNeverConsultsVerifier(t *testing.T) {
	v := &fakeVerifier{secret: "secret"}
	p := New(v, clock)
	rec := &domain.Paste{ExpiresAt: at(-time.Second), PasswordHash: "hash:secret"}
	for _, kind := range []domain.AccessKind{domain.AccessView, domain.AccessDownload, domain.AccessPreview} {
		for _, pw := range []string{"", "wrong", "secret"} {
			d, err := p.Evaluate(context.Background(), rec, kind, pw)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if d.Outcome != Expired {
				t.Errorf("kind=%v pw=%q: outcome = %v, want expired", kind, pw, d.Outcome)
			}
		}
	}
	if v.calls != 0 {
		t.Errorf("verifier called %d times for an expired paste", v.calls)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	p := New(&fakeVerifier{secret: "secret"}, clock)
	rec := &domain.Paste{MaxViews: i64(1), ViewCount: 1, DownloadCount: 4}
	for i := 0; i < 3; i++ {
		d, err := p.Evaluate(context.Background(), rec, domain.AccessPreview, "")
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if !d.Admitted() || d.Increment != domain.CounterNone {
			t.Fatalf("preview decision = %+v", d)
		}
	}
	if rec.ViewCount != 1 || rec.DownloadCount != 4 {
		t.Errorf("record mutated: views=%d downloads=%d", rec.ViewCount, rec.DownloadCount)
	}
}

func TestVerifierFailureIsReturned(t *testing.T) {
	boom := errors.New("hasher queue full")
	p := New(&fakeVerifier{err: boom}, clock)
	d, err := p.Evaluate(context.Background(), &domain.Paste{PasswordHash: "hash:x"}, domain.AccessView, "x")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if d.Admitted() || d.Increment != domain.CounterNone {
		t.Errorf("decision next to a verifier error = %+v, want no admission", d)
	}
	if !errors.Is(d.Err(), domain.ErrUnknown) {
		t.Errorf("d.Err() = %v, want unknown error", d.Err())
	}
}

func TestDecisionErr(t *testing.T) {
	tests := []struct {
		d    Decision
		want error
	}{
		{Decision{}, domain.ErrUnknown},
		{Decision{Outcome: Admitted}, nil},
		{Decision{Outcome: NotFound}, domain.ErrPasteNotFound},
		{Decision{Outcome: Expired}, domain.ErrPasteExpired},
		{Decision{Outcome: LimitReached, Kind: domain.AccessView}, domain.ErrViewLimitReached},
		{Decision{Outcome: LimitReached, Kind: domain.AccessDownload}, domain.ErrDownloadLimitReached},
		{Decision{Outcome: PasswordRequired}, domain.ErrPasswordRequired},
		{Decision{Outcome: InvalidPassword}, domain.ErrInvalidPassword},
	}
	for _, tt := range tests {
		got := tt.d.Err()
		if tt.want == nil {
			if got != nil {
				t.Errorf("%v: err = %v, want nil", tt.d.Outcome, got)
			}
			continue
		}
		if !errors.Is(got, tt.want) {
			t.Errorf("%v: err = %v, want %v", tt.d.Outcome, got, tt.want)
		}
	}
}
