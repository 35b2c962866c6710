package resolver

import "kbmatch/internal/domain"

// Validate reports whether a proposed code belongs to the candidate set.
// Pure function; used defensively on the KB path and mandatorily on
// provider output.
func Validate(proposedCode string, candidates []domain.CandidateItem) bool {
	for _, c := range candidates {
		if c.Code == proposedCode {
			return true
		}
	}
	return false
}

// codeSet builds a membership set for repeated validation.
func codeSet(candidates []domain.CandidateItem) map[string]bool {
	set := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		set[c.Code] = true
	}
	return set
}
