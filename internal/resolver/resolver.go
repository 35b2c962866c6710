// Package resolver orchestrates the fallback chain of generative
// matching providers and enforces the candidate-set contract on their
// output.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"kbmatch/internal/domain"
	"kbmatch/internal/provider"
)

// ErrChainExhausted is returned when every provider in the chain failed
// or was skipped by its breaker.
var ErrChainExhausted = errors.New("all fallback providers failed")

// Auditor receives events worth surfacing to an operator. Implementations
// must be best-effort; the resolver never waits on them.
type Auditor interface {
	HallucinationDetected(provider, normalizedText, proposedCode string, candidateCount int)
	ChainExhausted(normalizedText string, attempts int)
}

type Options struct {
	ProviderTimeout  time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
	MaxConcurrent    int
	HintCount        int
}

// Resolver tries providers in priority order, sequentially, each bounded
// by a per-provider timeout. A bounded semaphore caps the in-flight
// resolutions system-wide.
type Resolver struct {
	providers []provider.Provider
	breakers  []*provider.Breaker
	opts      Options
	sem       chan struct{}
	auditor   Auditor
}

func New(providers []provider.Provider, opts Options, auditor Auditor) *Resolver {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 30 * time.Second
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}
	if opts.HintCount < 1 {
		opts.HintCount = 5
	}
	breakers := make([]*provider.Breaker, len(providers))
	for i := range providers {
		breakers[i] = provider.NewBreaker(opts.BreakerThreshold, opts.BreakerRecovery)
	}
	return &Resolver{
		providers: providers,
		breakers:  breakers,
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		auditor:   auditor,
	}
}

// Result is the outcome of one chain traversal. Proposals contains only
// codes that passed candidate validation; an empty slice with a non-empty
// Provider means the provider answered but nothing survived validation.
type Result struct {
	Proposals []provider.Proposal
	Provider  string
}

// Resolve walks the provider chain for a query. Hints are ranked by
// relevance and trimmed before prompting. Returns ErrChainExhausted when
// no provider produced a parseable answer.
func (r *Resolver) Resolve(ctx context.Context, query domain.MatchQuery, hints []provider.Hint) (Result, error) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	req := provider.Request{
		Text:       query.NormalizedText,
		Language:   query.Language,
		Candidates: query.Candidates,
		Hints:      buildHintIndex(hints).topK(query.NormalizedText, r.opts.HintCount),
	}

	attempts := 0
	var lastErr error
	for i, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if !r.breakers[i].Allow() {
			log.Printf("resolver skip provider=%s reason=breaker_open", p.Name())
			continue
		}
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, r.opts.ProviderTimeout)
		proposals, err := p.Propose(callCtx, req)
		cancel()
		if err != nil {
			// Caller cancellation is terminal, not a provider fault.
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			r.breakers[i].RecordFailure()
			log.Printf("resolver provider failed provider=%s err=%v", p.Name(), err)
			lastErr = err
			continue
		}
		r.breakers[i].RecordSuccess()

		valid := r.filterValid(p.Name(), query, proposals)
		if len(valid) == 0 && len(proposals) > 0 {
			// Provider answered entirely outside the candidate set:
			// suspected malfunction, do not silently accept anything.
			log.Printf("resolver all proposals invalid provider=%s proposals=%d", p.Name(), len(proposals))
		}
		sort.SliceStable(valid, func(a, b int) bool {
			if valid[a].Confidence != valid[b].Confidence {
				return valid[a].Confidence > valid[b].Confidence
			}
			return valid[a].Code < valid[b].Code
		})
		return Result{Proposals: valid, Provider: p.Name()}, nil
	}

	if r.auditor != nil {
		r.auditor.ChainExhausted(query.NormalizedText, attempts)
	}
	if lastErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
	}
	return Result{}, ErrChainExhausted
}

func (r *Resolver) filterValid(providerName string, query domain.MatchQuery, proposals []provider.Proposal) []provider.Proposal {
	allowed := codeSet(query.Candidates)
	valid := make([]provider.Proposal, 0, len(proposals))
	seen := make(map[string]bool)
	for _, p := range proposals {
		if seen[p.Code] {
			continue
		}
		seen[p.Code] = true
		if !allowed[p.Code] {
			log.Printf("resolver hallucination discarded provider=%s code=%s candidates=%d", providerName, p.Code, len(query.Candidates))
			if r.auditor != nil {
				r.auditor.HallucinationDetected(providerName, query.NormalizedText, p.Code, len(query.Candidates))
			}
			continue
		}
		valid = append(valid, p)
	}
	return valid
}
