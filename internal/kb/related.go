package kb

import (
	"context"
	"sort"
)

// RecordCoOccurrence bumps the pair counters for every pair of codes
// confirmed together. Pairs are stored once with code_a < code_b.
func (s *Store) RecordCoOccurrence(ctx context.Context, codes []string) error {
	if len(codes) < 2 {
		return nil
	}
	uniq := make([]string, 0, len(codes))
	seen := make(map[string]bool)
	for _, c := range codes {
		if c != "" && !seen[c] {
			seen[c] = true
			uniq = append(uniq, c)
		}
	}
	sort.Strings(uniq)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO code_cooccurrence (code_a, code_b, seen_count)
		 VALUES (?, ?, 1)
		 ON CONFLICT(code_a, code_b) DO UPDATE SET
		   seen_count = seen_count + 1,
		   updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			if _, err := stmt.ExecContext(ctx, uniq[i], uniq[j]); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RelatedCodes returns the codes most often confirmed together with the
// given code, strongest association first.
func (s *Store) RelatedCodes(ctx context.Context, code string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN code_a = ? THEN code_b ELSE code_a END AS other, seen_count
		 FROM code_cooccurrence
		 WHERE code_a = ? OR code_b = ?
		 ORDER BY seen_count DESC, other ASC
		 LIMIT ?`,
		code, code, code, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var other string
		var count int
		if err := rows.Scan(&other, &count); err != nil {
			return nil, err
		}
		out = append(out, other)
	}
	return out, rows.Err()
}
