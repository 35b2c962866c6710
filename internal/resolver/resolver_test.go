package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"kbmatch/internal/domain"
	"kbmatch/internal/provider"
)

type mockProvider struct {
	name      string
	proposals []provider.Proposal
	err       error
	delay     time.Duration
	calls     int
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Propose(ctx context.Context, req provider.Request) ([]provider.Proposal, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.proposals, nil
}

type recordingAuditor struct {
	hallucinations []string
	exhausted      int
}

func (a *recordingAuditor) HallucinationDetected(provider, normalizedText, proposedCode string, candidateCount int) {
	a.hallucinations = append(a.hallucinations, proposedCode)
}

func (a *recordingAuditor) ChainExhausted(normalizedText string, attempts int) {
	a.exhausted++
}

func testQuery() domain.MatchQuery {
	return domain.MatchQuery{
		RawText:        "betonová deska",
		Language:       "cs",
		NormalizedText: "betonova deska",
		Candidates: []domain.CandidateItem{
			{Code: "34135", Name: "Stěny z betonu", Unit: "m3"},
			{Code: "31111", Name: "Zdivo nosné", Unit: "m3"},
		},
	}
}

func testOptions() Options {
	return Options{
		ProviderTimeout:  time.Second,
		BreakerThreshold: 3,
		BreakerRecovery:  time.Minute,
		MaxConcurrent:    2,
		HintCount:        5,
	}
}

func TestValidate(t *testing.T) {
	candidates := testQuery().Candidates
	if !Validate("34135", candidates) {
		t.Fatalf("expected member code to validate")
	}
	if Validate("99999", candidates) {
		t.Fatalf("expected outside code to fail validation")
	}
	if Validate("", candidates) {
		t.Fatalf("expected empty code to fail validation")
	}
	if Validate("34135", nil) {
		t.Fatalf("expected empty candidate set to reject everything")
	}
}

func TestResolveFirstProviderWins(t *testing.T) {
	first := &mockProvider{name: "first", proposals: []provider.Proposal{{Code: "34135", Confidence: 0.9}}}
	second := &mockProvider{name: "second"}
	r := New([]provider.Provider{first, second}, testOptions(), nil)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Provider != "first" || len(res.Proposals) != 1 || res.Proposals[0].Code != "34135" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if second.calls != 0 {
		t.Fatalf("second provider should not be consulted, calls=%d", second.calls)
	}
}

func TestResolveAdvancesOnError(t *testing.T) {
	first := &mockProvider{name: "first", err: errors.New("boom")}
	second := &mockProvider{name: "second", proposals: []provider.Proposal{{Code: "31111", Confidence: 0.8}}}
	r := New([]provider.Provider{first, second}, testOptions(), nil)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Provider != "second" {
		t.Fatalf("expected fallback to second provider, got %s", res.Provider)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("unexpected call counts: first=%d second=%d", first.calls, second.calls)
	}
}

func TestResolveAdvancesOnTimeout(t *testing.T) {
	opts := testOptions()
	opts.ProviderTimeout = 20 * time.Millisecond
	slow := &mockProvider{name: "slow", delay: 200 * time.Millisecond, proposals: []provider.Proposal{{Code: "34135", Confidence: 0.9}}}
	fast := &mockProvider{name: "fast", proposals: []provider.Proposal{{Code: "31111", Confidence: 0.8}}}
	r := New([]provider.Provider{slow, fast}, opts, nil)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Provider != "fast" {
		t.Fatalf("expected timeout to advance the chain, got %s", res.Provider)
	}
}

func TestResolveChainExhausted(t *testing.T) {
	first := &mockProvider{name: "first", err: errors.New("down")}
	second := &mockProvider{name: "second", err: errors.New("also down")}
	auditor := &recordingAuditor{}
	r := New([]provider.Provider{first, second}, testOptions(), auditor)

	_, err := r.Resolve(context.Background(), testQuery(), nil)
	if !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("expected ErrChainExhausted, got %v", err)
	}
	if auditor.exhausted != 1 {
		t.Fatalf("expected exhaustion to be audited once, got %d", auditor.exhausted)
	}
}

func TestResolveFiltersHallucinations(t *testing.T) {
	adversarial := &mockProvider{name: "adversarial", proposals: []provider.Proposal{
		{Code: "99999", Confidence: 0.99},
		{Code: "34135", Confidence: 0.7},
		{Code: "FAKE-1", Confidence: 0.95},
	}}
	auditor := &recordingAuditor{}
	r := New([]provider.Provider{adversarial}, testOptions(), auditor)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Proposals) != 1 || res.Proposals[0].Code != "34135" {
		t.Fatalf("expected only the in-set code to survive, got %+v", res.Proposals)
	}
	if len(auditor.hallucinations) != 2 {
		t.Fatalf("expected 2 hallucinations audited, got %v", auditor.hallucinations)
	}
}

// Property: no matter what a provider proposes, every surviving code is
// a member of the candidate set.
func TestResolveNeverLeaksOutOfSetCodes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	query := testQuery()
	valid := codeSet(query.Candidates)

	for iter := 0; iter < 200; iter++ {
		var proposals []provider.Proposal
		for i := 0; i < rng.Intn(6); i++ {
			code := fmt.Sprintf("%05d", rng.Intn(99999))
			if rng.Intn(3) == 0 {
				code = query.Candidates[rng.Intn(len(query.Candidates))].Code
			}
			proposals = append(proposals, provider.Proposal{Code: code, Confidence: rng.Float64()})
		}
		p := &mockProvider{name: "fuzz", proposals: proposals}
		r := New([]provider.Provider{p}, testOptions(), nil)

		res, err := r.Resolve(context.Background(), query, nil)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		for _, got := range res.Proposals {
			if !valid[got.Code] {
				t.Fatalf("iteration %d leaked out-of-set code %s", iter, got.Code)
			}
		}
	}
}

func TestResolveAllProposalsInvalid(t *testing.T) {
	adversarial := &mockProvider{name: "adversarial", proposals: []provider.Proposal{
		{Code: "99999", Confidence: 0.99},
	}}
	second := &mockProvider{name: "second", proposals: []provider.Proposal{{Code: "34135", Confidence: 0.9}}}
	r := New([]provider.Provider{adversarial, second}, testOptions(), nil)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// The chain stops at the responding provider; an all-invalid answer
	// is a malfunction signal, not a retry trigger.
	if len(res.Proposals) != 0 {
		t.Fatalf("expected no proposals, got %+v", res.Proposals)
	}
	if second.calls != 0 {
		t.Fatalf("expected chain to stop after responding provider, second calls=%d", second.calls)
	}
}

func TestResolveBreakerSkipsDegradedProvider(t *testing.T) {
	failing := &mockProvider{name: "failing", err: errors.New("down")}
	healthy := &mockProvider{name: "healthy", proposals: []provider.Proposal{{Code: "34135", Confidence: 0.9}}}
	r := New([]provider.Provider{failing, healthy}, testOptions(), nil)

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), testQuery(), nil); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}
	if failing.calls != 3 {
		t.Fatalf("expected 3 calls before the breaker opens, got %d", failing.calls)
	}

	if _, err := r.Resolve(context.Background(), testQuery(), nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if failing.calls != 3 {
		t.Fatalf("expected degraded provider to be skipped, calls=%d", failing.calls)
	}
	if healthy.calls != 4 {
		t.Fatalf("expected healthy provider to serve every query, calls=%d", healthy.calls)
	}
}

func TestResolveRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &mockProvider{name: "p", proposals: []provider.Proposal{{Code: "34135", Confidence: 0.9}}}
	r := New([]provider.Provider{p}, testOptions(), nil)

	_, err := r.Resolve(ctx, testQuery(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("cancelled query must not reach a provider, calls=%d", p.calls)
	}
}

func TestResolveDeduplicatesAndSorts(t *testing.T) {
	p := &mockProvider{name: "p", proposals: []provider.Proposal{
		{Code: "31111", Confidence: 0.6},
		{Code: "34135", Confidence: 0.9},
		{Code: "34135", Confidence: 0.2},
	}}
	r := New([]provider.Provider{p}, testOptions(), nil)

	res, err := r.Resolve(context.Background(), testQuery(), nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Proposals) != 2 {
		t.Fatalf("expected duplicates collapsed, got %+v", res.Proposals)
	}
	if res.Proposals[0].Code != "34135" || res.Proposals[0].Confidence != 0.9 {
		t.Fatalf("expected highest confidence first, got %+v", res.Proposals[0])
	}
}

func TestHintIndexSelectsRelevant(t *testing.T) {
	hints := []provider.Hint{
		{Text: "zdivo nosne z cihel", Code: "31111", Confidence: 0.5},
		{Text: "betonove steny monoliticke", Code: "34135", Confidence: 0.6},
		{Text: "omitka vapenna vnitrni", Code: "61211", Confidence: 0.4},
		{Text: "izolace proti vlhkosti", Code: "71111", Confidence: 0.5},
	}
	idx := buildHintIndex(hints)

	top := idx.topK("betonove steny", 2)
	if len(top) != 2 {
		t.Fatalf("expected 2 hints, got %d", len(top))
	}
	if top[0].Code != "34135" {
		t.Fatalf("expected the concrete-wall hint first, got %+v", top[0])
	}
}

func TestHintIndexSmallSetPassesThrough(t *testing.T) {
	hints := []provider.Hint{{Text: "betonova deska", Code: "34135", Confidence: 0.5}}
	if got := buildHintIndex(hints).topK("anything", 5); len(got) != 1 {
		t.Fatalf("expected the single hint returned, got %d", len(got))
	}
	if got := buildHintIndex(nil).topK("anything", 5); got != nil {
		t.Fatalf("expected nil for empty hint set, got %v", got)
	}
}
