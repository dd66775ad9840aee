// Package reasoner provides the natural-language reasoning backends behind
// the types.Reasoner interface: a Gemini client for live analysis and a
// disabled backend for offline runs. Every call site in the engine carries a
// deterministic fallback, so reasoner failure degrades output quality but
// never correctness.
package reasoner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// Gemini implements types.Reasoner on the Google GenAI API.
type Gemini struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGemini creates a Gemini-backed reasoner. Model may be empty to use the
// default.
func NewGemini(ctx context.Context, apiKey, model string, log *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, log: log}, nil
}

// Classify asks the model to pick exactly one of categories for the text.
// An answer outside the category set is an error; callers fall back.
func (g *Gemini) Classify(ctx context.Context, text string, categories []string) (string, error) {
	prompt := fmt.Sprintf(
		"Classify the following fund accounting break evidence into exactly one "+
			"category. Respond with the category name only, nothing else.\n"+
			"Categories: %s\n\nEvidence:\n%s",
		strings.Join(categories, ", "), text)

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	answer := strings.ToUpper(strings.TrimSpace(raw))
	for _, c := range categories {
		if answer == strings.ToUpper(c) {
			return c, nil
		}
	}
	g.log.Warn("classifier answer outside category set", zap.String("answer", answer))
	return "", fmt.Errorf("classifier returned %q, not one of %v", answer, categories)
}

// Summarize returns a plain-language analysis for the prompt.
func (g *Gemini) Summarize(ctx context.Context, prompt string) (string, error) {
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("genai returned empty response")
	}
	return text, nil
}
