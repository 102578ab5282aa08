package parse

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteRawStore implements RawStore on modernc.org/sqlite.
type SQLiteRawStore struct {
	db *sql.DB
}

// NewSQLiteRawStore opens the database at dsn in WAL mode and runs the
// schema migration.
func NewSQLiteRawStore(ctx context.Context, dsn string) (*SQLiteRawStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "rawstore: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "rawstore: exec %s", pragma)
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS raw_payloads (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	url          TEXT NOT NULL,
	content_type TEXT NOT NULL,
	body         BLOB NOT NULL,
	compressed   INTEGER NOT NULL DEFAULT 0,
	captured_at  DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_source ON raw_payloads(source);
CREATE INDEX IF NOT EXISTS idx_raw_payloads_expires_at ON raw_payloads(expires_at);
`
	if _, err := db.ExecContext(ctx, migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "rawstore: migrate")
	}
	return &SQLiteRawStore{db: db}, nil
}

func (s *SQLiteRawStore) Put(ctx context.Context, p *RawPayload) (string, error) {
	body, compressed, err := compressBody(p.Body)
	if err != nil {
		return "", err
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	capturedAt := p.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raw_payloads (id, source, url, content_type, body, compressed, captured_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.Source, p.URL, p.ContentType, body, boolToInt(compressed), capturedAt, p.ExpiresAt,
	)
	if err != nil {
		return "", eris.Wrap(err, "rawstore: insert payload")
	}
	return id, nil
}

func (s *SQLiteRawStore) Get(ctx context.Context, id string) (*RawPayload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, url, content_type, body, compressed, captured_at, expires_at
		 FROM raw_payloads WHERE id = ?`,
		id,
	)

	var p RawPayload
	var body []byte
	var compressed int
	err := row.Scan(&p.ID, &p.Source, &p.URL, &p.ContentType, &body, &compressed, &p.CapturedAt, &p.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("rawstore: payload not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "rawstore: scan payload")
	}

	p.Body, err = decompressBody(body, compressed != 0)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteRawStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM raw_payloads WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "rawstore: delete expired")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "rawstore: rows affected")
}

func (s *SQLiteRawStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
