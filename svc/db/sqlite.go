package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"sharebin/pkg/domain"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed      = 0
	circuitOpen        = 1
	circuitHalfOpen    = 2
	maxFailures        = 5
	cooldownSeconds    = 30
	minResponseTime    = 20 * time.Millisecond
	responseTimeJitter = 10 * time.Millisecond
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
// sqliteDSN sets the busy timeout on every pooled connection, not just the
// one that runs migrate.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_foreign_keys=on"
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := s.db.Exec(pragma); err != nil {
			return errors.Wrap(err, pragma)
		}
	}
	query := `
	CREATE TABLE IF NOT EXISTS pastes (
		slug TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		encrypted_dek BLOB,
		expires_at DATETIME,
		max_views INTEGER,
		max_downloads INTEGER,
		view_count INTEGER NOT NULL DEFAULT 0,
		download_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_owner ON pastes(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// normalizeResponseTime pads slug lookups so hits and misses take about
// the same time.
func normalizeResponseTime(start time.Time) {
	elapsed := time.Since(start)
	var jitterNanos int64
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		jitterNanos = int64(responseTimeJitter)
	} else {
		jitterNanos = int64(binary.BigEndian.Uint64(b[:]) % uint64(responseTimeJitter))
	}
	target := minResponseTime + time.Duration(jitterNanos)
	if elapsed < target {
		time.Sleep(target - elapsed)
	}
}

const pasteColumns = `slug, owner_id, filename, mime_type, size, storage_path, password_hash, encrypted_dek,
	expires_at, max_views, max_downloads, view_count, download_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaste(row rowScanner) (*domain.Paste, error) {
	var (
		p            domain.Paste
		expiresAt    sql.NullTime
		maxViews     sql.NullInt64
		maxDownloads sql.NullInt64
	)
	err := row.Scan(
		&p.Slug, &p.OwnerID, &p.Filename, &p.MimeType, &p.Size, &p.StoragePath, &p.PasswordHash, &p.EncryptedDEK,
		&expiresAt, &maxViews, &maxDownloads, &p.ViewCount, &p.DownloadCount, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		p.ExpiresAt = &t
	}
	if maxViews.Valid {
		v := maxViews.Int64
		p.MaxViews = &v
	}
	if maxDownloads.Valid {
		v := maxDownloads.Int64
		p.MaxDownloads = &v
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func (s *SQLite) InsertPaste(ctx context.Context, p *domain.Paste) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `INSERT INTO pastes (` + pasteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(queryCtx, q,
		p.Slug, p.OwnerID, p.Filename, p.MimeType, p.Size, p.StoragePath, p.PasswordHash, p.EncryptedDEK,
		nullTime(p.ExpiresAt), nullInt(p.MaxViews), nullInt(p.MaxDownloads), p.ViewCount, p.DownloadCount, p.CreatedAt.UTC(),
	)
	s.recordError(err)
	return errors.Wrap(err, "db insert paste")
}
func (s *SQLite) GetPaste(ctx context.Context, slug string) (*domain.Paste, error) {
	start := time.Now()
	defer normalizeResponseTime(start)
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE slug = ?`
	p, err := scanPaste(s.db.QueryRowContext(queryCtx, q, slug))
	if err == sql.ErrNoRows {
		return nil, domain.ErrPasteNotFound
	}
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "db get paste")
	}
	return p, nil
}

// IncrementCounter bumps a usage counter in one relative update guarded by
// its cap. applied is false when the cap was already reached or the row is
// gone.
func (s *SQLite) IncrementCounter(ctx context.Context, slug string, c domain.Counter) (bool, error) {
	q, err := incrementQuery(c, "?")
	if err != nil {
		return false, err
	}
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx, q, slug)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "incr "+c.String())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "incr rows affected")
	}
	return n == 1, nil
}
func incrementQuery(c domain.Counter, placeholder string) (string, error) {
	switch c {
	case domain.CounterViews:
		return `UPDATE pastes SET view_count = view_count + 1
			WHERE slug = ` + placeholder + ` AND (max_views IS NULL OR view_count < max_views)`, nil
	case domain.CounterDownloads:
		return `UPDATE pastes SET download_count = download_count + 1
			WHERE slug = ` + placeholder + ` AND (max_downloads IS NULL OR download_count < max_downloads)`, nil
	}
	return "", errors.Errorf("no column for counter %s", c)
}
func (s *SQLite) DeletePaste(ctx context.Context, slug string) error {
	if err := s.checkCircuit(); err != nil {
		return err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	_, err := s.db.ExecContext(queryCtx, `DELETE FROM pastes WHERE slug = ?`, slug)
	s.recordError(err)
	return errors.Wrap(err, "delete paste")
}
func (s *SQLite) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT ` + pasteColumns + ` FROM pastes WHERE owner_id = ? ORDER BY created_at DESC, slug DESC`
	rows, err := s.db.QueryContext(queryCtx, q, ownerID)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "list by owner")
	}
	defer rows.Close()
	return collect(rows)
}

// ExpiredBefore returns up to limit pastes whose expiry is older than cutoff.
func (s *SQLite) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Paste, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	q := `SELECT ` + pasteColumns + ` FROM pastes
		WHERE expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at LIMIT ?`
	rows, err := s.db.QueryContext(queryCtx, q, cutoff.UTC(), limit)
	s.recordError(err)
	if err != nil {
		return nil, errors.Wrap(err, "expired before")
	}
	defer rows.Close()
	return collect(rows)
}
func collect(rows *sql.Rows) ([]*domain.Paste, error) {
	out := []*domain.Paste{}
	for rows.Next() {
		p, err := scanPaste(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan paste")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate pastes")
}
func (s *SQLite) SlugExists(ctx context.Context, slug string) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	var exists int
	err := s.db.QueryRowContext(queryCtx, `SELECT 1 FROM pastes WHERE slug = ? LIMIT 1`, slug).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "exists check failed")
	}
	return exists == 1, nil
}

// UpsertUser inserts u unless a user with the same id exists.
func (s *SQLite) UpsertUser(ctx context.Context, u *domain.User) (bool, error) {
	if err := s.checkCircuit(); err != nil {
		return false, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	res, err := s.db.ExecContext(queryCtx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		u.ID, u.Email, u.Name, u.CreatedAt.UTC(),
	)
	s.recordError(err)
	if err != nil {
		return false, errors.Wrap(err, "insert user")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "insert user rows affected")
	}
	return n == 1, nil
}
func (s *SQLite) Close() error {
	return s.db.Close()
}
