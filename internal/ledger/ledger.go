// Package ledger records finished publish calls in sqlite.
//
// Only completed Publish calls are recorded, so a crash in the middle of a
// thread leaves no row and the post will be published again on the next run.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS publications (
	id           INTEGER PRIMARY KEY,
	path         TEXT    NOT NULL,
	content_hash TEXT    NOT NULL,
	run_id       TEXT    NOT NULL,
	total        INTEGER NOT NULL,
	posted       INTEGER NOT NULL,
	aborted_at   INTEGER NULL,
	tweet_ids    TEXT    NOT NULL,
	published_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS publications_path_hash ON publications (path, content_hash);
`

// Entry is one recorded publish call.
type Entry struct {
	Path        string
	Hash        string
	RunID       string
	Total       int
	Posted      int
	AbortedAt   *int
	TweetIDs    []string
	PublishedAt time.Time
}

// Complete reports whether every draft was posted.
func (e Entry) Complete() bool {
	return e.AbortedAt == nil && e.Posted == e.Total
}

// Ledger is a sqlite-backed publication log.
type Ledger struct {
	db *sql.DB
}

// Open opens (and migrates) the ledger at path. ":memory:" is accepted.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if path == ":memory:" {
		// Each connection would get its own in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores e. A zero PublishedAt is set to now.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.PublishedAt.IsZero() {
		e.PublishedAt = time.Now()
	}
	var aborted sql.NullInt64
	if e.AbortedAt != nil {
		aborted = sql.NullInt64{Int64: int64(*e.AbortedAt), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
INSERT INTO publications (path, content_hash, run_id, total, posted, aborted_at, tweet_ids, published_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Path, e.Hash, e.RunID, e.Total, e.Posted, aborted,
		strings.Join(e.TweetIDs, ","), e.PublishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record publication: %w", err)
	}
	return nil
}

// Published reports whether the post at path with the given content hash
// was already published completely.
func (l *Ledger) Published(ctx context.Context, path, hash string) (bool, error) {
	const q = `
SELECT 1 FROM publications
WHERE path = ? AND content_hash = ? AND aborted_at IS NULL AND posted = total
LIMIT 1;
`
	var one int
	err := l.db.QueryRowContext(ctx, q, path, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Last returns the most recent entry for path.
func (l *Ledger) Last(ctx context.Context, path string) (*Entry, error) {
	const q = `
SELECT path, content_hash, run_id, total, posted, aborted_at, tweet_ids, published_at
FROM publications
WHERE path = ?
ORDER BY id DESC
LIMIT 1;
`
	var (
		e         Entry
		aborted   sql.NullInt64
		ids, when string
	)
	err := l.db.QueryRowContext(ctx, q, path).Scan(&e.Path, &e.Hash, &e.RunID, &e.Total, &e.Posted, &aborted, &ids, &when)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no publications for %s", path)
	}
	if err != nil {
		return nil, err
	}
	if aborted.Valid {
		v := int(aborted.Int64)
		e.AbortedAt = &v
	}
	if ids != "" {
		e.TweetIDs = strings.Split(ids, ",")
	}
	e.PublishedAt, _ = time.Parse(time.RFC3339, when)
	return &e, nil
}
