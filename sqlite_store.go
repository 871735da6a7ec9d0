package elarasign

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens/creates a SQLite ledger and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string) (LedgerStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	st := &sqliteStore{db: db}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "set %s", p)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS entries (
  idx          INTEGER PRIMARY KEY,
  ts           INTEGER NOT NULL,
  id           BLOB    NOT NULL,
  content_hash BLOB    NOT NULL,
  meta_hash    BLOB    NOT NULL,
  locations    INTEGER NOT NULL,
  forensic     BLOB    NOT NULL,   -- empty or 32-byte sealed accountability record
  tag          BLOB    NOT NULL    -- chain tag
);
CREATE INDEX IF NOT EXISTS entries_content_hash ON entries(content_hash);
CREATE TABLE IF NOT EXISTS tail (
  id    INTEGER PRIMARY KEY CHECK(id=1),
  idx   INTEGER NOT NULL,
  tag   BLOB    NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return st, nil
}

// Append stores an entry and moves the tail in one transaction.
func (s *sqliteStore) Append(e LedgerEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	var maxIdx int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(idx),0) FROM entries`).Scan(&maxIdx); err != nil {
		return err
	}
	if uint64(maxIdx) != e.Index-1 {
		return errors.Newf("non-contiguous append: have %d, got %d", maxIdx, e.Index)
	}

	forensic := e.Forensic
	if forensic == nil {
		forensic = []byte{}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries(idx, ts, id, content_hash, meta_hash, locations, forensic, tag) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Index, e.TS, e.ID[:], e.ContentHash[:], e.MetaHash[:], e.Locations, forensic, e.Tag[:]); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tail(id, idx, tag) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET idx=excluded.idx, tag=excluded.tag`,
		e.Index, e.Tag[:]); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (LedgerEntry, error) {
	var e LedgerEntry
	var locs int64
	var id, contentHash, metaHash, forensic, tag []byte
	if err := row.Scan(&e.Index, &e.TS, &id, &contentHash, &metaHash, &locs, &forensic, &tag); err != nil {
		return e, err
	}
	if len(contentHash) != 32 || len(metaHash) != 32 || len(tag) != 32 {
		return e, errors.Newf("invalid entry sizes at index %d", e.Index)
	}
	parsed, err := uuid.FromBytes(id)
	if err != nil {
		return e, errors.Wrapf(err, "entry %d id", e.Index)
	}
	e.ID = parsed
	e.Locations = uint8(locs)
	copy(e.ContentHash[:], contentHash)
	copy(e.MetaHash[:], metaHash)
	copy(e.Tag[:], tag)
	if len(forensic) > 0 {
		e.Forensic = forensic
	}
	return e, nil
}

const entryColumns = `idx, ts, id, content_hash, meta_hash, locations, forensic, tag`

// Iter returns a channel that streams entries starting from startIdx in ascending order.
// The returned func stops the query and reports the first read error;
// call it after draining the channel.
func (s *sqliteStore) Iter(startIdx uint64) (<-chan LedgerEntry, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE idx >= ? ORDER BY idx ASC`, startIdx)
	if err != nil {
		cancel()
		return nil, nil, errors.Wrap(err, "query entries")
	}
	out := make(chan LedgerEntry, 64)
	finished := make(chan struct{})
	var iterErr error
	go func() {
		defer close(finished)
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				if ctx.Err() == nil {
					iterErr = err
				}
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if err := rows.Err(); err != nil && ctx.Err() == nil {
			iterErr = errors.Wrap(err, "iterate entries")
		}
	}()
	return out, func() error {
		cancel()
		<-finished
		return iterErr
	}, nil
}

// ByContentHash returns all entries for a content hash in index order.
func (s *sqliteStore) ByContentHash(h [32]byte) ([]LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM entries WHERE content_hash = ? ORDER BY idx ASC`, h[:])
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Tail returns the current tail state.
func (s *sqliteStore) Tail() (LedgerTail, bool, error) {
	var tail LedgerTail
	var idx int64
	var tag []byte
	err := s.db.QueryRow(`SELECT idx, tag FROM tail WHERE id=1`).Scan(&idx, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return tail, false, nil
	}
	if err != nil {
		return tail, false, err
	}
	if len(tag) != 32 {
		return tail, false, errors.New("invalid tail sizes")
	}
	tail.Index = uint64(idx)
	copy(tail.Tag[:], tag)
	return tail, true, nil
}

// Close closes the database.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}
