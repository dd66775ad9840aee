package reasoner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navrecon/internal/types"
)

// hangingReasoner blocks until its context is cancelled, standing in for a
// non-responding backend.
type hangingReasoner struct{}

func (hangingReasoner) Classify(ctx context.Context, _ string, _ []string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hangingReasoner) Summarize(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestWithTimeoutBoundsHangingCalls(t *testing.T) {
	r := WithTimeout(hangingReasoner{}, 10*time.Millisecond)

	start := time.Now()
	_, err := r.Summarize(context.Background(), "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, err = r.Classify(context.Background(), "text", []string{"A", "B"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeoutPassesThroughResults(t *testing.T) {
	r := WithTimeout(Disabled{}, time.Second)
	_, err := r.Summarize(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestWithTimeoutNonPositiveLimitUnwrapped(t *testing.T) {
	var inner types.Reasoner = Disabled{}
	assert.Equal(t, inner, WithTimeout(inner, 0))
	assert.Equal(t, inner, WithTimeout(inner, -time.Second))
}
