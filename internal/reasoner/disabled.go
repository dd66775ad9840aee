package reasoner

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the Disabled backend for every call.
var ErrDisabled = errors.New("reasoner disabled")

// Disabled is the offline reasoner. Every call fails with ErrDisabled,
// which pushes each analysis stage onto its deterministic fallback path.
// Used when no API key is configured.
type Disabled struct{}

func (Disabled) Classify(ctx context.Context, text string, categories []string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Summarize(ctx context.Context, prompt string) (string, error) {
	return "", ErrDisabled
}
