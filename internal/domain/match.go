package domain

import "time"

// CandidateItem is one catalog position the caller offers for a query.
// The candidate set is the only universe a match may be drawn from.
type CandidateItem struct {
	Code  string  `json:"code"`
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price,omitempty"`
}

// QueryContext scopes a query to a project type and construction system.
// Both fields are optional; an empty context hashes to "".
type QueryContext struct {
	ProjectType        string `json:"projectType,omitempty"`
	ConstructionSystem string `json:"constructionSystem,omitempty"`
}

// MatchRequest is the external input shape: raw text plus the candidate
// catalog subset the caller extracted for it.
type MatchRequest struct {
	Text       string          `json:"text"`
	Candidates []CandidateItem `json:"candidateItems"`
	Context    QueryContext    `json:"context,omitempty"`
}

// MatchQuery is the resolved form of a request after normalization.
// Internal only; the wire response carries the flat MatchResult shape.
type MatchQuery struct {
	RawText        string
	Language       string
	NormalizedText string
	ContextHash    string
	Candidates     []CandidateItem
}

// Key identifies the KB cache slot for a query.
func (q MatchQuery) Key() Key {
	return Key{NormalizedText: q.NormalizedText, Language: q.Language, ContextHash: q.ContextHash}
}

// Key is the KB cache key triple.
type Key struct {
	NormalizedText string `json:"normalizedText"`
	Language       string `json:"language"`
	ContextHash    string `json:"contextHash"`
}

// Origin of a match: from the knowledge base or from a fallback provider.
const (
	OriginKB       = "kb"
	OriginFallback = "fallback"
)

type Status string

const (
	StatusMatched   Status = "matched"
	StatusAmbiguous Status = "ambiguous"
	StatusNoMatch   Status = "no_match"
	StatusError     Status = "error"
)

// Match is one resolved code with its confidence and provenance.
type Match struct {
	Code       string  `json:"code"`
	Confidence float64 `json:"confidence"`
	Origin     string  `json:"origin"`
}

// MatchResult is the terminal outcome of a single query. Query echoes
// the normalized text the lookup keyed on, alongside the detected
// language, so callers see the identity their feedback must reference.
type MatchResult struct {
	Query        string   `json:"query"`
	Language     string   `json:"language"`
	Matches      []Match  `json:"matches"`
	RelatedItems []string `json:"relatedItems"`
	Explanation  string   `json:"explanation"`
	Status       Status   `json:"status"`
}

// KBEntry is one confirmed text-to-code mapping. Owned by the KB store;
// callers never mutate it directly.
type KBEntry struct {
	NormalizedText  string    `json:"normalizedText" yaml:"normalized_text"`
	Language        string    `json:"language" yaml:"language"`
	ContextHash     string    `json:"contextHash" yaml:"context_hash"`
	Code            string    `json:"code" yaml:"code"`
	Name            string    `json:"name" yaml:"name"`
	Unit            string    `json:"unit" yaml:"unit"`
	Confidence      float64   `json:"confidence" yaml:"confidence"`
	UsageCount      int       `json:"usageCount" yaml:"usage_count"`
	ValidatedByUser bool      `json:"validatedByUser" yaml:"validated_by_user"`
	CreatedAt       time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt       time.Time `json:"updatedAt" yaml:"-"`
}

func (e KBEntry) Key() Key {
	return Key{NormalizedText: e.NormalizedText, Language: e.Language, ContextHash: e.ContextHash}
}

// FeedbackEvent is the only mutator of KB entry state. Confirmed=false
// means the user corrected the engine: ChosenCode carries the correction.
type FeedbackEvent struct {
	Key        Key       `json:"queryIdentity"`
	ChosenCode string    `json:"chosenCode"`
	ChosenName string    `json:"chosenName,omitempty"`
	ChosenUnit string    `json:"chosenUnit,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Confirmed  bool      `json:"confirmed"`
	At         time.Time `json:"timestamp,omitempty"`
}
