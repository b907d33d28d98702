package reason

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are the narration layer of an institutional multi-agent trading swarm.
You receive the numeric synthesis of technical, fundamental, and sentiment analysis.
Write a 2-3 sentence institutional-grade rationale for the decision you are given.
Never change the action or the conviction level. No hedging language, no markdown.`

// OpenAI narrates via a chat completion. The fallback handles API failures
// so a signal never ships without reasoning text.
type OpenAI struct {
	client   *openai.Client
	model    string
	fallback Client
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return &OpenAI{
		client:   openai.NewClient(apiKey),
		model:    model,
		fallback: NewRuleBased(),
	}
}

func (c *OpenAI) Reason(ctx context.Context, req Request) (string, error) {
	prompt := fmt.Sprintf(
		"Symbol: %s\nDecision: %s\nConviction: %.0f%%\nTechnical bias: %s\nSentiment: %s\nGross margin: %.1f%%\nUnavailable inputs: %s\n",
		req.Symbol, req.Action, req.Score*100,
		orUnknown(req.TechnicalBias), orUnknown(req.SentimentLabel),
		req.GrossMargin*100, strings.Join(req.MissingInputs, ", "))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		return c.fallback.Reason(ctx, req)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
