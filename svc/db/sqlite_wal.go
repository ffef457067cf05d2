package db

import (
	"context"
	"sharebin/svc/util"
	"time"

	"github.com/pkg/errors"
)

const (
	// a log this long, or any busy reader, gets a TRUNCATE pass
	truncateAfterPages = 1000
	walInterval        = 5 * time.Minute
)

type walStats struct {
	busy         int
	logPages     int
	checkpointed int
}

// StartWALMaintenance checkpoints every interval until quit is closed,
// then checkpoints once more before returning.
func (s *SQLite) StartWALMaintenance(interval time.Duration, quit <-chan struct{}) {
	if interval <= 0 {
		interval = walInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.performWALCheckpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("WAL checkpoint failed")
			}
		case <-quit:
			if err := s.performWALCheckpoint(context.Background()); err != nil {
				util.Error().Err(err).Msg("final WAL checkpoint failed")
			}
			return
		}
	}
}

// performWALCheckpoint folds the WAL back into the database file and runs
// an integrity check. Failures count against the circuit breaker.
func (s *SQLite) performWALCheckpoint(ctx context.Context) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	start := time.Now()
	st, err := s.walCheckpoint(ctx, "PASSIVE")
	if err == nil && (st.logPages > truncateAfterPages || st.busy > 0) {
		util.Info().
			Int("busy", st.busy).
			Int("log", st.logPages).
			Msg("escalating to TRUNCATE checkpoint")
		st, err = s.walCheckpoint(ctx, "TRUNCATE")
	}
	if err == nil {
		err = s.verifyIntegrity(ctx)
	}
	s.recordError(err)
	if err != nil {
		return err
	}
	util.Debug().
		Int("log", st.logPages).
		Int("checkpointed", st.checkpointed).
		Dur("duration", time.Since(start)).
		Msg("WAL checkpoint completed")
	return nil
}
func (s *SQLite) walCheckpoint(ctx context.Context, mode string) (walStats, error) {
	var st walStats
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint("+mode+")").
		Scan(&st.busy, &st.logPages, &st.checkpointed)
	return st, errors.Wrapf(err, "wal_checkpoint(%s)", mode)
}
func (s *SQLite) verifyIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.Wrap(err, "integrity_check")
	}
	if result != "ok" {
		util.Error().Str("result", result).Msg("CRITICAL: database integrity check failed")
		return errors.Errorf("integrity_check returned %q", result)
	}
	return nil
}
