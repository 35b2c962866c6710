package provider

import (
	"errors"
	"strings"
	"testing"

	"kbmatch/internal/domain"
)

func TestParseProposalsBareArray(t *testing.T) {
	proposals, err := ParseProposals(`[{"code": "34135", "confidence": 0.92}, {"code": "31111", "confidence": 0.4}]`)
	if err != nil {
		t.Fatalf("ParseProposals failed: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(proposals))
	}
	if proposals[0].Code != "34135" || proposals[0].Confidence != 0.92 {
		t.Fatalf("unexpected first proposal: %+v", proposals[0])
	}
}

func TestParseProposalsStripsCodeFences(t *testing.T) {
	proposals, err := ParseProposals("```json\n[{\"code\": \"34135\", \"confidence\": 0.9}]\n```")
	if err != nil {
		t.Fatalf("ParseProposals failed: %v", err)
	}
	if len(proposals) != 1 || proposals[0].Code != "34135" {
		t.Fatalf("unexpected proposals: %+v", proposals)
	}
}

func TestParseProposalsObjectShape(t *testing.T) {
	proposals, err := ParseProposals(`{"matches": [{"code": "34135", "confidence": 0.8}]}`)
	if err != nil {
		t.Fatalf("ParseProposals failed: %v", err)
	}
	if len(proposals) != 1 || proposals[0].Code != "34135" {
		t.Fatalf("unexpected proposals: %+v", proposals)
	}
}

func TestParseProposalsErrorShape(t *testing.T) {
	_, err := ParseProposals(`{"error": "model overloaded"}`)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected provider error surfaced, got %v", err)
	}
}

func TestParseProposalsUnparseable(t *testing.T) {
	_, err := ParseProposals("I think the best match would be code 34135.")
	if !errors.Is(err, ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestParseProposalsClampsAndDropsBlank(t *testing.T) {
	proposals, err := ParseProposals(`[{"code": " 34135 ", "confidence": 1.7}, {"code": "", "confidence": 0.5}, {"code": "31111", "confidence": -0.2}]`)
	if err != nil {
		t.Fatalf("ParseProposals failed: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected blank code dropped, got %d proposals", len(proposals))
	}
	if proposals[0].Code != "34135" || proposals[0].Confidence != 1 {
		t.Fatalf("expected trimmed code and clamped confidence, got %+v", proposals[0])
	}
	if proposals[1].Confidence != 0 {
		t.Fatalf("expected negative confidence clamped to 0, got %f", proposals[1].Confidence)
	}
}

func TestBuildPromptsListsOnlyCandidates(t *testing.T) {
	req := Request{
		Text:     "betonova deska",
		Language: "cs",
		Candidates: []domain.CandidateItem{
			{Code: "34135", Name: "Stěny z betonu", Unit: "m3"},
			{Code: "31111", Name: "Zdivo nosné", Unit: "m3"},
		},
		Hints: []Hint{{Text: "betonove steny", Code: "34135", Confidence: 0.55}},
	}
	systemPrompt, userPrompt := BuildPrompts(req)

	for _, code := range []string{"34135", "31111"} {
		if !strings.Contains(systemPrompt, code) {
			t.Fatalf("system prompt missing candidate %s", code)
		}
	}
	if !strings.Contains(userPrompt, "EX|34135|0.55|betonove steny") {
		t.Fatalf("user prompt missing hint line: %s", userPrompt)
	}
	if !strings.Contains(userPrompt, "betonova deska") {
		t.Fatalf("user prompt missing query text")
	}
}

func TestBuildPromptsNoHints(t *testing.T) {
	_, userPrompt := BuildPrompts(Request{
		Text:       "betonova deska",
		Candidates: []domain.CandidateItem{{Code: "34135", Name: "Stěny", Unit: "m3"}},
	})
	if !strings.Contains(userPrompt, "none") {
		t.Fatalf("expected empty hints block to render as none")
	}
}
