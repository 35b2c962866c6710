// Package provider defines the generative matching providers consulted
// when the knowledge base cannot resolve a query, plus the circuit
// breaker that shields the chain from a degraded backend.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kbmatch/internal/domain"
)

// Proposal is one code suggested by a provider. Codes are validated
// against the candidate set by the resolver before use.
type Proposal struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
}

// Hint is a low-confidence KB entry surfaced to the provider as prior
// evidence, never as a final answer.
type Hint struct {
	Text       string
	Code       string
	Confidence float64
}

// Request carries everything a provider may see. The candidate list is
// the full universe the provider is allowed to choose from; the prompt
// never includes the wider catalog.
type Request struct {
	Text       string
	Language   string
	Candidates []domain.CandidateItem
	Hints      []Hint
}

// Provider is any component that can propose codes for a work item.
type Provider interface {
	Name() string
	Propose(ctx context.Context, req Request) ([]Proposal, error)
}

// ErrUnparseable marks provider output that could not be decoded into
// proposals even with the tolerant parser.
var ErrUnparseable = errors.New("unparseable provider output")

// BuildPrompts renders the system and user prompts for a request.
func BuildPrompts(req Request) (string, string) {
	var candidateLines strings.Builder
	for _, c := range req.Candidates {
		candidateLines.WriteString(fmt.Sprintf("- %s: %s (%s)\n", c.Code, strings.TrimSpace(c.Name), c.Unit))
	}

	hintsBlock := "none"
	if len(req.Hints) > 0 {
		var hb strings.Builder
		for _, h := range req.Hints {
			hb.WriteString(fmt.Sprintf("- EX|%s|%.2f|%s\n", h.Code, h.Confidence, strings.TrimSpace(h.Text)))
		}
		hintsBlock = hb.String()
	}

	systemPrompt := fmt.Sprintf(`You match a construction work item description to standardized catalog codes.
Choose codes ONLY from this candidate list:
%s
Return at most 3 codes, best first, each with a confidence between 0 and 1.
If nothing fits, return an empty array.

Respond with JSON only (no markdown):
[{"code": "34135", "confidence": 0.92}, ...]`, candidateLines.String())

	userPrompt := "Previously confirmed similar mappings (weak evidence, may not apply):\n" + hintsBlock +
		fmt.Sprintf("\nDescription (language %s):\n%s\n", req.Language, strings.TrimSpace(req.Text))
	return systemPrompt, userPrompt
}

type proposalPayload struct {
	Matches []Proposal `json:"matches"`
	Error   string     `json:"error"`
}

// ParseProposals decodes provider output. Accepted shapes: a bare array
// of proposals, or an object with "matches" and/or "error". Anything
// else is reported as ErrUnparseable with the raw text attached so the
// caller has a single well-typed surface to check.
func ParseProposals(responseText string) ([]Proposal, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var proposals []Proposal
	if err := json.Unmarshal([]byte(responseText), &proposals); err == nil {
		return clampProposals(proposals), nil
	}

	var payload proposalPayload
	if err := json.Unmarshal([]byte(responseText), &payload); err == nil {
		if payload.Error != "" {
			return nil, fmt.Errorf("provider reported error: %s", payload.Error)
		}
		if payload.Matches != nil {
			return clampProposals(payload.Matches), nil
		}
	}

	truncated := responseText
	if len(truncated) > 512 {
		truncated = truncated[:512] + fmt.Sprintf("... [truncated, total_length=%d]", len(responseText))
	}
	return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncated)
}

func clampProposals(in []Proposal) []Proposal {
	out := make([]Proposal, 0, len(in))
	for _, p := range in {
		p.Code = strings.TrimSpace(p.Code)
		if p.Code == "" {
			continue
		}
		if p.Confidence < 0 {
			p.Confidence = 0
		}
		if p.Confidence > 1 {
			p.Confidence = 1
		}
		out = append(out, p)
	}
	return out
}
