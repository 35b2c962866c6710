package engine

import (
	"context"
	"log"

	"kbmatch/internal/kb"
	"kbmatch/internal/resolver"
)

// KBAuditor persists provider-health events to the store's audit tables
// and forwards them to an optional secondary sink (e.g. Slack).
type KBAuditor struct {
	store *kb.Store
	next  resolver.Auditor
}

func NewKBAuditor(store *kb.Store, next resolver.Auditor) *KBAuditor {
	return &KBAuditor{store: store, next: next}
}

func (a *KBAuditor) HallucinationDetected(provider, normalizedText, proposedCode string, candidateCount int) {
	if err := a.store.RecordHallucination(context.Background(), provider, normalizedText, proposedCode, candidateCount); err != nil {
		log.Printf("audit hallucination write failed err=%v", err)
	}
	if a.next != nil {
		a.next.HallucinationDetected(provider, normalizedText, proposedCode, candidateCount)
	}
}

func (a *KBAuditor) ChainExhausted(normalizedText string, attempts int) {
	if a.next != nil {
		a.next.ChainExhausted(normalizedText, attempts)
	}
}
