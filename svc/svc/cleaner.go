package svc

import (
	"context"
	"sharebin/metrics"
	"sharebin/svc/util"
	"time"

	"github.com/pkg/errors"
)

const sweepBatch = 100

// StartCleaner runs Sweep every interval until ctx is done. Calling it
// more than once has no effect.
func (p *Paste) StartCleaner(ctx context.Context, interval time.Duration) {
	p.cleanerOnce.Do(func() {
		go p.runCleaner(ctx, interval)
	})
}
func (p *Paste) runCleaner(ctx context.Context, interval time.Duration) {
	cleanupRequestID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, cleanupRequestID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	util.Info().
		Str("request_id", cleanupRequestID).
		Dur("interval", interval).
		Dur("retention", p.cfg.ExpiredRetention).
		Msg("cleanup worker started")
	for {
		select {
		case <-ctx.Done():
			util.Info().
				Str("request_id", cleanupRequestID).
				Msg("cleanup worker shutting down")
			return
		case <-ticker.C:
			res, err := p.Sweep(ctx)
			if err != nil {
				util.Error().
					Err(err).
					Str("request_id", cleanupRequestID).
					Msg("cleanup failed")
			} else if res.Expired > 0 || res.Reconciled > 0 {
				util.Info().
					Int("expired", res.Expired).
					Int("reconciled", res.Reconciled).
					Str("request_id", cleanupRequestID).
					Msg("cleanup completed")
			}
		}
	}
}

type SweepResult struct {
	Expired    int
	Reconciled int
}

// Sweep removes pastes expired for longer than the retention window, blob
// first as in Delete, and retries record deletion for stale slugs.
func (p *Paste) Sweep(ctx context.Context) (SweepResult, error) {
	metrics.PruneCycles.Inc()
	var res SweepResult
	res.Reconciled = p.reconcile(ctx)
	cutoff := p.now().Add(-p.cfg.ExpiredRetention)
	recs, err := p.meta.ExpiredBefore(ctx, cutoff, sweepBatch)
	if err != nil {
		return res, errors.Wrap(err, "list expired")
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := p.blobs.Delete(ctx, rec.StoragePath); err != nil {
			util.Warn().Err(err).Str("slug", rec.Slug).Msg("expired blob delete failed")
			continue
		}
		if err := p.meta.DeletePaste(ctx, rec.Slug); err != nil {
			p.flagStale(ctx, rec.Slug, err)
			continue
		}
		res.Expired++
	}
	return res, nil
}
func (p *Paste) reconcile(ctx context.Context) int {
	slugs, err := p.stale.StaleSlugs(ctx)
	if err != nil {
		util.Warn().Err(err).Msg("list stale records failed")
		return 0
	}
	done := 0
	for _, slug := range slugs {
		if err := p.meta.DeletePaste(ctx, slug); err != nil {
			util.Warn().Err(err).Str("slug", slug).Msg("stale record still not deleted")
			continue
		}
		if err := p.stale.ClearStale(ctx, slug); err != nil {
			util.Warn().Err(err).Str("slug", slug).Msg("clear stale flag failed")
		}
		done++
	}
	return done
}
