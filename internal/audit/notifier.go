// Package audit posts provider-health events to an operator channel.
// Everything here is best-effort: a failed post is logged and dropped.
package audit

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// SlackNotifier implements the resolver's Auditor against a Slack
// channel. A nil notifier is safe to call.
type SlackNotifier struct {
	api       *slack.Client
	channelID string
}

func NewSlackNotifier(botToken, channelID string) *SlackNotifier {
	if botToken == "" || channelID == "" {
		return nil
	}
	return &SlackNotifier{api: slack.New(botToken), channelID: channelID}
}

func (n *SlackNotifier) HallucinationDetected(provider, normalizedText, proposedCode string, candidateCount int) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("Hallucination discarded: provider=%s proposed code `%s` outside a %d-item candidate set for %q",
		provider, proposedCode, candidateCount, normalizedText)
	n.post(msg)
}

func (n *SlackNotifier) ChainExhausted(normalizedText string, attempts int) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("Fallback chain exhausted after %d provider attempts for %q", attempts, normalizedText)
	n.post(msg)
}

func (n *SlackNotifier) post(msg string) {
	go func() {
		if _, _, err := n.api.PostMessage(n.channelID, slack.MsgOptionText(msg, false)); err != nil {
			log.Printf("audit post error: %v", err)
		}
	}()
}
