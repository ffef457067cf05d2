package db

import (
	"context"
	"sharebin/pkg/domain"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const defaultDialTimeout = 5 * time.Second

// Postgres is the metadata store used when DATABASE_URL is set. It answers
// the same calls as SQLite.
type Postgres struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPostgres(ctx context.Context, dsn string, maxConns int, queryTimeout time.Duration) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: parse config")
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}
	poolCfg.MaxConnIdleTime = 10 * time.Minute
	poolCfg.MaxConnLifetime = time.Hour
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: ping")
	}
	p := &Postgres{pool: pool, queryTimeout: queryTimeout}
	if err := p.migrate(dialCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "postgres: migrate")
	}
	return p, nil
}
func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS pastes (
		slug TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		storage_path TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		encrypted_dek BYTEA,
		expires_at TIMESTAMPTZ,
		max_views BIGINT,
		max_downloads BIGINT,
		view_count BIGINT NOT NULL DEFAULT 0,
		download_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pastes_owner ON pastes(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at);
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);`)
	return err
}

func scanPgPaste(row pgx.Row) (*domain.Paste, error) {
	var p domain.Paste
	err := row.Scan(
		&p.Slug, &p.OwnerID, &p.Filename, &p.MimeType, &p.Size, &p.StoragePath, &p.PasswordHash, &p.EncryptedDEK,
		&p.ExpiresAt, &p.MaxViews, &p.MaxDownloads, &p.ViewCount, &p.DownloadCount, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.ExpiresAt != nil {
		t := p.ExpiresAt.UTC()
		p.ExpiresAt = &t
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (p *Postgres) InsertPaste(ctx context.Context, paste *domain.Paste) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	var expiresAt *time.Time
	if paste.ExpiresAt != nil {
		t := paste.ExpiresAt.UTC()
		expiresAt = &t
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO pastes (`+pasteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		paste.Slug, paste.OwnerID, paste.Filename, paste.MimeType, paste.Size, paste.StoragePath, paste.PasswordHash,
		paste.EncryptedDEK, expiresAt, paste.MaxViews, paste.MaxDownloads, paste.ViewCount, paste.DownloadCount,
		paste.CreatedAt.UTC(),
	)
	return errors.Wrap(err, "pg insert paste")
}
func (p *Postgres) GetPaste(ctx context.Context, slug string) (*domain.Paste, error) {
	start := time.Now()
	defer normalizeResponseTime(start)
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	paste, err := scanPgPaste(p.pool.QueryRow(ctx, `SELECT `+pasteColumns+` FROM pastes WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "pg get paste")
	}
	return paste, nil
}
func (p *Postgres) IncrementCounter(ctx context.Context, slug string, c domain.Counter) (bool, error) {
	q, err := incrementQuery(c, "$1")
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	tag, err := p.pool.Exec(ctx, q, slug)
	if err != nil {
		return false, errors.Wrap(err, "pg incr "+c.String())
	}
	return tag.RowsAffected() == 1, nil
}
func (p *Postgres) DeletePaste(ctx context.Context, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	_, err := p.pool.Exec(ctx, `DELETE FROM pastes WHERE slug = $1`, slug)
	return errors.Wrap(err, "pg delete paste")
}
func (p *Postgres) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	rows, err := p.pool.Query(ctx,
		`SELECT `+pasteColumns+` FROM pastes WHERE owner_id = $1 ORDER BY created_at DESC, slug DESC`, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "pg list by owner")
	}
	return collectPg(rows)
}
func (p *Postgres) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Paste, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	rows, err := p.pool.Query(ctx, `SELECT `+pasteColumns+` FROM pastes
		WHERE expires_at IS NOT NULL AND expires_at < $1 ORDER BY expires_at LIMIT $2`, cutoff.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "pg expired before")
	}
	return collectPg(rows)
}
func collectPg(rows pgx.Rows) ([]*domain.Paste, error) {
	defer rows.Close()
	out := []*domain.Paste{}
	for rows.Next() {
		paste, err := scanPgPaste(rows)
		if err != nil {
			return nil, errors.Wrap(err, "pg scan paste")
		}
		out = append(out, paste)
	}
	return out, errors.Wrap(rows.Err(), "pg iterate pastes")
}
func (p *Postgres) SlugExists(ctx context.Context, slug string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pastes WHERE slug = $1)`, slug).Scan(&exists)
	return exists, errors.Wrap(err, "pg exists check")
}
func (p *Postgres) UpsertUser(ctx context.Context, u *domain.User) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Email, u.Name, u.CreatedAt.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "pg insert user")
	}
	return tag.RowsAffected() == 1, nil
}
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
