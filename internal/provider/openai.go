package provider

import (
	"context"
	"fmt"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider proposes catalog codes via the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Propose(ctx context.Context, req Request) ([]Proposal, error) {
	systemPrompt, userPrompt := BuildPrompts(req)

	log.Printf("provider propose provider=openai model=%s candidates=%d hints=%d", p.model, len(req.Candidates), len(req.Hints))
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in OpenAI response")
	}

	content := resp.Choices[0].Message.Content
	log.Printf("provider response provider=openai size=%d tokens_in=%d tokens_out=%d",
		len(content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return ParseProposals(content)
}
