// ABOUTME: OpenAI-backed scorer using chat completions
// ABOUTME: One batched scoring call per traversal level, JSON score output

package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAI implements Scorer over the OpenAI chat completion API
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed scorer
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// ScoreBatch sends all candidates in a single prompt and parses a JSON
// array of scores, one per candidate in input order.
func (o *OpenAI) ScoreBatch(ctx context.Context, query string, cands []Candidate) ([]float64, error) {
	if len(cands) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nSections:\n", query)
	for i, cand := range cands {
		fmt.Fprintf(&sb, "%d. %s: %s\n", i, cand.Title, cand.Summary)
	}
	sb.WriteString("\nScore each section's relevance to the question from 0 to 10. " +
		"Respond with only a JSON array of numbers, one per section, in order.")

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You rank document sections by relevance."},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrScorerUnavailable)
	}

	scores, err := parseScores(resp.Choices[0].Message.Content, len(cands))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	return scores, nil
}

// Summarize asks the model for a bounded summary of text
func (o *OpenAI) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	if maxWords <= 0 {
		maxWords = 40
	}
	prompt := fmt.Sprintf("Summarize the following text in at most %d words:\n\n%s", maxWords, text)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You summarize document sections concisely."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty summarization response", ErrScorerUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Version returns the model identifier used for fingerprinting
func (o *OpenAI) Version() string {
	return "openai/" + o.model
}

// parseScores extracts a JSON number array from model output, tolerating
// surrounding prose or code fences.
func parseScores(content string, want int) ([]float64, error) {
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var scores []float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("malformed score array: %v", err)
	}
	if len(scores) != want {
		return nil, fmt.Errorf("expected %d scores, got %d", want, len(scores))
	}
	return scores, nil
}
