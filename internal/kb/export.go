package kb

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"kbmatch/internal/domain"
)

// Snapshot is the flat serialization of the knowledge base used for
// backup and restore. Timestamps are volatile and not carried.
type Snapshot struct {
	Entries []domain.KBEntry `yaml:"entries"`
}

// Export returns every entry ordered by key so snapshots diff cleanly.
func (s *Store) Export(ctx context.Context) ([]domain.KBEntry, error) {
	return s.queryEntries(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 ORDER BY language, context_hash, normalized_text, code`)
}

// Import upserts every entry from a snapshot, returning the count applied.
func (s *Store) Import(ctx context.Context, entries []domain.KBEntry) (int, error) {
	applied := 0
	for _, e := range entries {
		if e.Code == "" || e.NormalizedText == "" {
			continue
		}
		if e.Confidence < 0 || e.Confidence > 1 {
			return applied, fmt.Errorf("import entry %q/%q: confidence %f out of range", e.NormalizedText, e.Code, e.Confidence)
		}
		if err := s.Upsert(ctx, e); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// MarshalSnapshot serializes entries for backup.
func MarshalSnapshot(entries []domain.KBEntry) ([]byte, error) {
	return yaml.Marshal(Snapshot{Entries: entries})
}

// UnmarshalSnapshot parses a backup produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) ([]domain.KBEntry, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse kb snapshot: %w", err)
	}
	return snap.Entries, nil
}
