package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"kbmatch/internal/domain"
)

const (
	initialConfidence    = 0.60
	correctionPenalty    = 0.50
	maxInitialConfidence = 0.99
)

// RecordFeedback applies one user confirmation or correction to the
// knowledge base. Confirmations blend evidence toward 1.0 with an
// exponential moving average; corrections penalize the displaced codes
// and seed the corrected one at a fresh, lower confidence.
func (e *Engine) RecordFeedback(ctx context.Context, ev domain.FeedbackEvent) (domain.KBEntry, error) {
	if ev.ChosenCode == "" {
		return domain.KBEntry{}, fmt.Errorf("feedback: chosen code is required")
	}
	if ev.Key.NormalizedText == "" {
		return domain.KBEntry{}, fmt.Errorf("feedback: query identity is required")
	}

	if ev.Confirmed {
		return e.confirm(ctx, ev)
	}
	return e.correct(ctx, ev)
}

func (e *Engine) confirm(ctx context.Context, ev domain.FeedbackEvent) (domain.KBEntry, error) {
	entry, exists, err := e.store.GetEntry(ctx, ev.Key, ev.ChosenCode)
	if err != nil {
		return domain.KBEntry{}, fmt.Errorf("feedback read: %w", err)
	}

	if !exists {
		conf := ev.Confidence
		if conf <= 0 {
			conf = initialConfidence
		}
		if conf > maxInitialConfidence {
			conf = maxInitialConfidence
		}
		fresh := domain.KBEntry{
			NormalizedText:  ev.Key.NormalizedText,
			Language:        ev.Key.Language,
			ContextHash:     ev.Key.ContextHash,
			Code:            ev.ChosenCode,
			Name:            ev.ChosenName,
			Unit:            ev.ChosenUnit,
			Confidence:      conf,
			UsageCount:      1,
			ValidatedByUser: true,
		}
		inserted, err := e.store.Insert(ctx, fresh)
		if err != nil {
			return domain.KBEntry{}, fmt.Errorf("feedback insert: %w", err)
		}
		if inserted {
			return fresh, nil
		}
		// Lost the insert race; fall through to the update path.
		entry, _, err = e.store.GetEntry(ctx, ev.Key, ev.ChosenCode)
		if err != nil {
			return domain.KBEntry{}, fmt.Errorf("feedback re-read: %w", err)
		}
	}

	// One retry on CAS conflict, then log and skip; existing data is
	// never overwritten on a stale read.
	for attempt := 0; attempt < 2; attempt++ {
		newConf := blend(entry.Confidence, e.opts.ConfidenceAlpha)
		ok, err := e.store.UpdateCAS(ctx, ev.Key, ev.ChosenCode, entry.UsageCount, newConf, true)
		if err != nil {
			return domain.KBEntry{}, fmt.Errorf("feedback update: %w", err)
		}
		if ok {
			entry.Confidence = newConf
			entry.UsageCount++
			entry.ValidatedByUser = true
			entry.UpdatedAt = time.Now()
			return entry, nil
		}
		entry, _, err = e.store.GetEntry(ctx, ev.Key, ev.ChosenCode)
		if err != nil {
			return domain.KBEntry{}, fmt.Errorf("feedback re-read: %w", err)
		}
	}
	log.Printf("kb write conflict skipped key=%q code=%s", ev.Key.NormalizedText, ev.ChosenCode)
	return entry, nil
}

func (e *Engine) correct(ctx context.Context, ev domain.FeedbackEvent) (domain.KBEntry, error) {
	entries, err := e.store.EntriesForKey(ctx, ev.Key)
	if err != nil {
		return domain.KBEntry{}, fmt.Errorf("feedback read: %w", err)
	}
	for _, entry := range entries {
		if entry.Code == ev.ChosenCode {
			continue
		}
		if err := e.store.SetConfidence(ctx, ev.Key, entry.Code, entry.Confidence*correctionPenalty); err != nil {
			return domain.KBEntry{}, fmt.Errorf("feedback penalty: %w", err)
		}
	}

	corrected := domain.KBEntry{
		NormalizedText:  ev.Key.NormalizedText,
		Language:        ev.Key.Language,
		ContextHash:     ev.Key.ContextHash,
		Code:            ev.ChosenCode,
		Name:            ev.ChosenName,
		Unit:            ev.ChosenUnit,
		Confidence:      initialConfidence,
		UsageCount:      1,
		ValidatedByUser: true,
	}
	for _, entry := range entries {
		if entry.Code == ev.ChosenCode {
			// Correction landed on an already-stored code: keep it,
			// do not reset its accumulated evidence.
			return entry, nil
		}
	}
	if err := e.store.Upsert(ctx, corrected); err != nil {
		return domain.KBEntry{}, fmt.Errorf("feedback correction insert: %w", err)
	}
	return corrected, nil
}

// blend moves confidence toward 1.0 without ever reaching it, and never
// decreases: an imported entry at exactly 1.0 stays where it is rather
// than being pulled down to the cap.
func blend(confidence, alpha float64) float64 {
	next := confidence + alpha*(1-confidence)
	if next >= 1 {
		next = maxInitialConfidence
	}
	if next < confidence {
		return confidence
	}
	return next
}

// RecordConfirmedSet applies a batch of feedback events for one query
// and opportunistically updates the co-occurrence table when two or more
// codes were confirmed together.
func (e *Engine) RecordConfirmedSet(ctx context.Context, events []domain.FeedbackEvent) error {
	var confirmed []string
	for _, ev := range events {
		if _, err := e.RecordFeedback(ctx, ev); err != nil {
			return err
		}
		if ev.Confirmed {
			confirmed = append(confirmed, ev.ChosenCode)
		}
	}
	if len(confirmed) >= 2 {
		if err := e.store.RecordCoOccurrence(ctx, confirmed); err != nil {
			// Best-effort table; the feedback itself already landed.
			log.Printf("co-occurrence update failed err=%v", err)
		}
	}
	return nil
}

// Cleanup removes decayed entries; see Store.Prune for the criteria.
func (e *Engine) Cleanup(ctx context.Context, confidenceFloor float64, usageFloor int, retention time.Duration) (int, error) {
	return e.store.Prune(ctx, confidenceFloor, usageFloor, retention)
}

// Export snapshots the knowledge base.
func (e *Engine) Export(ctx context.Context) ([]domain.KBEntry, error) {
	return e.store.Export(ctx)
}

// Import restores entries from a snapshot.
func (e *Engine) Import(ctx context.Context, entries []domain.KBEntry) (int, error) {
	return e.store.Import(ctx, entries)
}
