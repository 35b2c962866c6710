package kb

import (
	"context"
	"time"

	"kbmatch/internal/domain"
)

type Stats struct {
	TotalMappings     int
	ValidatedMappings int
	TopUsed           []domain.KBEntry
	HitRateEstimate   float64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN validated_by_user THEN 1 ELSE 0 END), 0)
		 FROM kb_entries`,
	).Scan(&st.TotalMappings, &st.ValidatedMappings)
	if err != nil {
		return st, err
	}

	st.TopUsed, err = s.queryEntries(ctx,
		`SELECT normalized_text, language, context_hash, code, name, unit,
		        confidence, usage_count, validated_by_user, created_at, updated_at
		 FROM kb_entries
		 ORDER BY usage_count DESC, confidence DESC
		 LIMIT 5`)
	if err != nil {
		return st, err
	}

	var matched, fromKB int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN origin = ? THEN 1 ELSE 0 END), 0)
		 FROM match_history WHERE status = ?`,
		domain.OriginKB, string(domain.StatusMatched),
	).Scan(&matched, &fromKB)
	if err != nil {
		return st, err
	}
	if matched > 0 {
		st.HitRateEstimate = float64(fromKB) / float64(matched)
	}
	return st, nil
}

// MatchRecord is one terminal query outcome for offline analysis.
type MatchRecord struct {
	NormalizedText string
	Language       string
	ContextHash    string
	Status         domain.Status
	Origin         string
	TopCode        string
	Confidence     float64
	Provider       string
	Duration       time.Duration
}

func (s *Store) RecordMatch(ctx context.Context, r MatchRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_history
		 (normalized_text, language, context_hash, status, origin, top_code, confidence, provider, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.NormalizedText, r.Language, r.ContextHash, string(r.Status),
		r.Origin, r.TopCode, r.Confidence, r.Provider, r.Duration.Milliseconds(),
	)
	return err
}

// RecordHallucination persists a provider proposal that fell outside the
// candidate set, for offline review of provider health.
func (s *Store) RecordHallucination(ctx context.Context, provider, normalizedText, proposedCode string, candidateCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hallucination_log (provider, normalized_text, proposed_code, candidate_count)
		 VALUES (?, ?, ?, ?)`,
		provider, normalizedText, proposedCode, candidateCount,
	)
	return err
}
