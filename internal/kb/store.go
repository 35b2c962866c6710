// Package kb implements the persistent, confidence-weighted knowledge
// base of confirmed text-to-code mappings, backed by SQLite.
package kb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"kbmatch/internal/domain"
	"kbmatch/internal/normalize"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS kb_entries (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		normalized_text   TEXT NOT NULL,
		language          TEXT NOT NULL DEFAULT '',
		context_hash      TEXT NOT NULL DEFAULT '',
		code              TEXT NOT NULL,
		name              TEXT DEFAULT '',
		unit              TEXT DEFAULT '',
		confidence        REAL NOT NULL,
		usage_count       INTEGER NOT NULL DEFAULT 0,
		validated_by_user INTEGER NOT NULL DEFAULT 0,
		created_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(normalized_text, language, context_hash, code)
	);
	CREATE INDEX IF NOT EXISTS idx_kb_scope ON kb_entries(language, context_hash);

	CREATE TABLE IF NOT EXISTS match_history (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		normalized_text TEXT NOT NULL,
		language        TEXT DEFAULT '',
		context_hash    TEXT DEFAULT '',
		status          TEXT NOT NULL,
		origin          TEXT DEFAULT '',
		top_code        TEXT DEFAULT '',
		confidence      REAL DEFAULT 0,
		provider        TEXT DEFAULT '',
		duration_ms     INTEGER DEFAULT 0,
		matched_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_mh_date ON match_history(matched_at);

	CREATE TABLE IF NOT EXISTS hallucination_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		provider        TEXT NOT NULL,
		normalized_text TEXT DEFAULT '',
		proposed_code   TEXT NOT NULL,
		candidate_count INTEGER DEFAULT 0,
		logged_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS code_cooccurrence (
		code_a     TEXT NOT NULL,
		code_b     TEXT NOT NULL,
		seen_count INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(code_a, code_b)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("creating kb schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Hit is one lookup result. Similarity is 1.0 for exact key matches and
// the fuzzy score otherwise; Score discounts stored confidence by it.
type Hit struct {
	Entry      domain.KBEntry
	Similarity float64
	Exact      bool
}

func (h Hit) Score() float64 { return h.Entry.Confidence * h.Similarity }

// Lookup returns entries for the key, exact matches first. When no exact
// entry exists it falls back to a fuzzy scan over entries sharing the
// language and context scope, keeping those at or above minSimilarity.
func (s *Store) Lookup(ctx context.Context, key domain.Key, minSimilarity float64) ([]Hit, error) {
	exact, err := s.queryEntries(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 WHERE normalized_text = ? AND language = ? AND context_hash = ?
		 ORDER BY confidence DESC, code ASC`,
		key.NormalizedText, key.Language, key.ContextHash)
	if err != nil {
		return nil, err
	}
	if len(exact) > 0 {
		hits := make([]Hit, len(exact))
		for i, e := range exact {
			hits[i] = Hit{Entry: e, Similarity: 1, Exact: true}
		}
		return hits, nil
	}

	scoped, err := s.queryEntries(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 WHERE language = ? AND context_hash = ?`,
		key.Language, key.ContextHash)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, e := range scoped {
		sim := normalize.Similarity(key.NormalizedText, e.NormalizedText)
		if sim >= minSimilarity {
			hits = append(hits, Hit{Entry: e, Similarity: sim})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score() != hits[j].Score() {
			return hits[i].Score() > hits[j].Score()
		}
		return hits[i].Entry.Code < hits[j].Entry.Code
	})
	return hits, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]domain.KBEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.KBEntry
	for rows.Next() {
		var e domain.KBEntry
		if err := rows.Scan(
			&e.NormalizedText, &e.Language, &e.ContextHash, &e.Code,
			&e.Name, &e.Unit, &e.Confidence, &e.UsageCount,
			&e.ValidatedByUser, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			// Corrupt row: skip, keep the lookup alive.
			log.Printf("kb malformed entry skipped err=%v", err)
			continue
		}
		if e.Code == "" || e.Confidence < 0 || e.Confidence > 1 {
			log.Printf("kb malformed entry skipped code=%q confidence=%f", e.Code, e.Confidence)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntriesForKey returns every entry stored under a cache key, across
// all codes, highest confidence first.
func (s *Store) EntriesForKey(ctx context.Context, key domain.Key) ([]domain.KBEntry, error) {
	return s.queryEntries(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 WHERE normalized_text = ? AND language = ? AND context_hash = ?
		 ORDER BY confidence DESC, code ASC`,
		key.NormalizedText, key.Language, key.ContextHash)
}

// GetEntry fetches a single entry by key and code.
func (s *Store) GetEntry(ctx context.Context, key domain.Key, code string) (domain.KBEntry, bool, error) {
	var e domain.KBEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 WHERE normalized_text = ? AND language = ? AND context_hash = ? AND code = ?`,
		key.NormalizedText, key.Language, key.ContextHash, code,
	).Scan(
		&e.NormalizedText, &e.Language, &e.ContextHash, &e.Code,
		&e.Name, &e.Unit, &e.Confidence, &e.UsageCount,
		&e.ValidatedByUser, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return e, false, nil
	}
	if err != nil {
		return e, false, err
	}
	return e, true, nil
}

// Insert adds a new entry, reporting false when the key+code slot is
// already taken (the unique constraint swallows the duplicate).
func (s *Store) Insert(ctx context.Context, e domain.KBEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO kb_entries
		 (normalized_text, language, context_hash, code, name, unit, confidence, usage_count, validated_by_user)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.NormalizedText, e.Language, e.ContextHash, e.Code,
		e.Name, e.Unit, e.Confidence, e.UsageCount, e.ValidatedByUser,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateCAS applies a read-modify-write guarded by the usage count the
// caller read. Returns false when a concurrent writer got there first;
// the caller re-reads and retries.
func (s *Store) UpdateCAS(ctx context.Context, key domain.Key, code string, expectUsage int, newConfidence float64, validated bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE kb_entries
		 SET confidence = ?, usage_count = usage_count + 1, validated_by_user = ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE normalized_text = ? AND language = ? AND context_hash = ? AND code = ?
		   AND usage_count = ?`,
		newConfidence, validated,
		key.NormalizedText, key.Language, key.ContextHash, code, expectUsage,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetConfidence overwrites an entry's confidence, used by the correction
// penalty path.
func (s *Store) SetConfidence(ctx context.Context, key domain.Key, code string, confidence float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE kb_entries SET confidence = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE normalized_text = ? AND language = ? AND context_hash = ? AND code = ?`,
		confidence, key.NormalizedText, key.Language, key.ContextHash, code,
	)
	return err
}

// Upsert inserts or replaces the non-volatile fields of an entry. Used by
// import and by the correction path; confirmations go through Insert +
// UpdateCAS instead so concurrent increments are never lost.
func (s *Store) Upsert(ctx context.Context, e domain.KBEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kb_entries
		 (normalized_text, language, context_hash, code, name, unit, confidence, usage_count, validated_by_user)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(normalized_text, language, context_hash, code) DO UPDATE SET
		   name = excluded.name,
		   unit = excluded.unit,
		   confidence = excluded.confidence,
		   usage_count = excluded.usage_count,
		   validated_by_user = excluded.validated_by_user,
		   updated_at = CURRENT_TIMESTAMP`,
		e.NormalizedText, e.Language, e.ContextHash, e.Code,
		e.Name, e.Unit, e.Confidence, e.UsageCount, e.ValidatedByUser,
	)
	return err
}

// Prune removes entries whose confidence fell below the floor and whose
// usage count never exceeded usageFloor within the retention window.
func (s *Store) Prune(ctx context.Context, confidenceFloor float64, usageFloor int, retention time.Duration) (int, error) {
	// CURRENT_TIMESTAMP stores UTC; compare in UTC.
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kb_entries
		 WHERE confidence < ? AND usage_count <= ? AND updated_at < ?`,
		confidenceFloor, usageFloor, cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
