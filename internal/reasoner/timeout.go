package reasoner

import (
	"context"
	"time"

	"navrecon/internal/types"
)

// WithTimeout bounds every call on r to limit. A call that exceeds the
// deadline returns context.DeadlineExceeded, which callers treat like any
// other reasoner error and fall back deterministically. A non-positive
// limit returns r unchanged.
func WithTimeout(r types.Reasoner, limit time.Duration) types.Reasoner {
	if limit <= 0 {
		return r
	}
	return bounded{inner: r, limit: limit}
}

type bounded struct {
	inner types.Reasoner
	limit time.Duration
}

func (b bounded) Classify(ctx context.Context, text string, categories []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.limit)
	defer cancel()
	return b.inner.Classify(ctx, text, categories)
}

func (b bounded) Summarize(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.limit)
	defer cancel()
	return b.inner.Summarize(ctx, prompt)
}
