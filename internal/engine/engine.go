// Package engine wires the normalizer, knowledge base and fallback
// resolver into the query pipeline, and owns the feedback/learning and
// related-item components.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"kbmatch/internal/domain"
	"kbmatch/internal/kb"
	"kbmatch/internal/normalize"
	"kbmatch/internal/provider"
	"kbmatch/internal/resolver"
)

type Options struct {
	MatchThreshold      float64
	AmbiguityEpsilon    float64
	MinAcceptConfidence float64
	FuzzyMinSimilarity  float64
	ConfidenceAlpha     float64
}

func DefaultOptions() Options {
	return Options{
		MatchThreshold:      0.85,
		AmbiguityEpsilon:    0.05,
		MinAcceptConfidence: 0.50,
		FuzzyMinSimilarity:  0.60,
		ConfidenceAlpha:     0.30,
	}
}

type Engine struct {
	store    *kb.Store
	resolver *resolver.Resolver
	opts     Options
}

func New(store *kb.Store, res *resolver.Resolver, opts Options) *Engine {
	if opts.MatchThreshold <= 0 {
		opts = DefaultOptions()
	}
	return &Engine{store: store, resolver: res, opts: opts}
}

// BuildQuery normalizes a request into its canonical query form.
func BuildQuery(req domain.MatchRequest) domain.MatchQuery {
	return domain.MatchQuery{
		RawText:        req.Text,
		Language:       normalize.DetectLanguage(req.Text),
		NormalizedText: normalize.Normalize(req.Text),
		ContextHash:    normalize.ContextHash(req.Context.ProjectType, req.Context.ConstructionSystem),
		Candidates:     req.Candidates,
	}
}

// Match resolves one request. The returned error is non-nil only for
// cancellation and internal faults, in which case Status is error; every
// other outcome is expressed through Status.
func (e *Engine) Match(ctx context.Context, req domain.MatchRequest) (domain.MatchResult, error) {
	start := time.Now()
	query := BuildQuery(req)
	result := domain.MatchResult{Query: query.NormalizedText, Language: query.Language, Status: domain.StatusNoMatch}

	if len(req.Candidates) == 0 {
		result.Explanation = "empty candidate set"
		e.recordMatch(ctx, query, result, "", start)
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		result.Status = domain.StatusError
		result.Explanation = "cancelled"
		return result, err
	}

	hits, err := e.store.Lookup(ctx, query.Key(), e.opts.FuzzyMinSimilarity)
	if err != nil {
		if ctx.Err() != nil {
			result.Status = domain.StatusError
			result.Explanation = "cancelled"
			return result, ctx.Err()
		}
		// Degrade to the fallback path rather than failing the query.
		log.Printf("engine kb lookup failed err=%v", err)
		hits = nil
	}

	// Stored entries must still lie within this query's candidate set;
	// the same text can appear against different catalog subsets.
	valid := hits[:0:0]
	for _, h := range hits {
		if resolver.Validate(h.Entry.Code, req.Candidates) {
			valid = append(valid, h)
		}
	}

	if len(valid) > 0 && valid[0].Score() >= e.opts.MatchThreshold {
		top := valid[0]
		result.Status = domain.StatusMatched
		result.Matches = []domain.Match{{Code: top.Entry.Code, Confidence: top.Score(), Origin: domain.OriginKB}}
		if top.Exact {
			result.Explanation = "knowledge base hit"
		} else {
			result.Explanation = fmt.Sprintf("knowledge base fuzzy hit (similarity %.2f)", top.Similarity)
		}
		result.RelatedItems = e.relatedTo(ctx, top.Entry.Code)
		e.recordMatch(ctx, query, result, "", start)
		return result, nil
	}

	// Sub-threshold entries go to the resolver as hints, not answers.
	hints := make([]provider.Hint, 0, len(valid))
	for _, h := range valid {
		hints = append(hints, provider.Hint{Text: h.Entry.NormalizedText, Code: h.Entry.Code, Confidence: h.Score()})
	}

	res, err := e.resolver.Resolve(ctx, query, hints)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Status = domain.StatusError
			result.Explanation = "cancelled"
			return result, err
		}
		if errors.Is(err, resolver.ErrChainExhausted) {
			result.Explanation = fmt.Sprintf("all_providers_failed: %v", err)
			e.recordMatch(ctx, query, result, "", start)
			return result, nil
		}
		result.Status = domain.StatusError
		result.Explanation = "internal fault"
		return result, err
	}

	proposals := res.Proposals
	if len(proposals) == 0 {
		result.Explanation = "provider proposed no valid candidate"
		e.recordMatch(ctx, query, result, res.Provider, start)
		return result, nil
	}
	if proposals[0].Confidence < e.opts.MinAcceptConfidence {
		result.Explanation = fmt.Sprintf("best proposal below acceptance confidence (%.2f < %.2f)",
			proposals[0].Confidence, e.opts.MinAcceptConfidence)
		e.recordMatch(ctx, query, result, res.Provider, start)
		return result, nil
	}

	if len(proposals) >= 2 &&
		proposals[1].Confidence >= e.opts.MinAcceptConfidence &&
		proposals[0].Confidence-proposals[1].Confidence < e.opts.AmbiguityEpsilon {
		result.Status = domain.StatusAmbiguous
		result.Matches = []domain.Match{
			{Code: proposals[0].Code, Confidence: proposals[0].Confidence, Origin: domain.OriginFallback},
			{Code: proposals[1].Code, Confidence: proposals[1].Confidence, Origin: domain.OriginFallback},
		}
		result.Explanation = fmt.Sprintf("two candidates within epsilon (%.2f vs %.2f)",
			proposals[0].Confidence, proposals[1].Confidence)
		e.recordMatch(ctx, query, result, res.Provider, start)
		return result, nil
	}

	top := proposals[0]
	result.Status = domain.StatusMatched
	result.Matches = []domain.Match{{Code: top.Code, Confidence: top.Confidence, Origin: domain.OriginFallback}}
	result.Explanation = fmt.Sprintf("resolved by %s provider", res.Provider)
	result.RelatedItems = e.relatedTo(ctx, top.Code)
	e.recordMatch(ctx, query, result, res.Provider, start)
	return result, nil
}

// relatedTo is best-effort: failures never change the primary status.
func (e *Engine) relatedTo(ctx context.Context, code string) []string {
	related, err := e.store.RelatedCodes(ctx, code, 5)
	if err != nil {
		log.Printf("engine related lookup failed code=%s err=%v", code, err)
		return nil
	}
	return related
}

func (e *Engine) recordMatch(ctx context.Context, query domain.MatchQuery, result domain.MatchResult, providerName string, start time.Time) {
	if ctx.Err() != nil {
		// Cancelled queries perform no KB writes.
		return
	}
	rec := kb.MatchRecord{
		NormalizedText: query.NormalizedText,
		Language:       query.Language,
		ContextHash:    query.ContextHash,
		Status:         result.Status,
		Provider:       providerName,
		Duration:       time.Since(start),
	}
	if len(result.Matches) > 0 {
		rec.Origin = result.Matches[0].Origin
		rec.TopCode = result.Matches[0].Code
		rec.Confidence = result.Matches[0].Confidence
	}
	if err := e.store.RecordMatch(ctx, rec); err != nil {
		log.Printf("engine match history write failed err=%v", err)
	}
}

// Stats exposes KB statistics.
func (e *Engine) Stats(ctx context.Context) (kb.Stats, error) {
	return e.store.Stats(ctx)
}
