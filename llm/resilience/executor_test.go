package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/llm/circuitbreaker"
	"github.com/BaSui01/roundtable/llm/retry"
	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestExecutor(threshold int) *Executor {
	breakers := circuitbreaker.NewRegistry(&circuitbreaker.Config{
		Threshold:    threshold,
		ResetTimeout: time.Hour,
	}, zap.NewNop())
	return NewExecutor(breakers, &retry.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   2,
		Sleep:        noSleep,
	}, zap.NewNop())
}

func TestExecute_SucceedsOnThirdAttempt(t *testing.T) {
	e := newTestExecutor(5)

	attempts := 0
	got, err := Execute(context.Background(), e, "claude", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", types.NewError(types.ErrRateLimit, "429").WithRetryable(true)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, circuitbreaker.StateClosed, e.Breakers().Get("claude").State())
}

func TestExecute_OneBreakerFailurePerRetriedCall(t *testing.T) {
	e := newTestExecutor(2)
	transient := types.NewError(types.ErrUpstreamTimeout, "timeout").WithRetryable(true)

	attempts := 0
	call := func(context.Context) (int, error) {
		attempts++
		return 0, transient
	}

	_, err := Execute(context.Background(), e, "gpt", call)
	require.ErrorIs(t, err, transient)
	assert.Equal(t, 3, attempts, "fully retried before the breaker counts it")
	assert.Equal(t, circuitbreaker.StateClosed, e.Breakers().Get("gpt").State())

	_, err = Execute(context.Background(), e, "gpt", call)
	require.Error(t, err)
	assert.Equal(t, 6, attempts)
	assert.Equal(t, circuitbreaker.StateOpen, e.Breakers().Get("gpt").State())

	// 熔断打开后不再调用 fn
	_, err = Execute(context.Background(), e, "gpt", call)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 6, attempts)

	var openErr *circuitbreaker.OpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "gpt", openErr.Target)
	assert.Positive(t, openErr.RetryAfter)
}

func TestExecute_NonRetryablePropagatesImmediately(t *testing.T) {
	e := newTestExecutor(5)
	bad := errors.New("malformed response")

	attempts := 0
	_, err := Execute(context.Background(), e, "gemini", func(context.Context) (int, error) {
		attempts++
		return 0, bad
	})

	assert.Same(t, bad, err)
	assert.Equal(t, 1, attempts)
}

func TestExecute_TargetsAreIsolated(t *testing.T) {
	e := newTestExecutor(1)

	_, _ = Execute(context.Background(), e, "claude", func(context.Context) (int, error) {
		return 0, errors.New("down")
	})

	v, err := Execute(context.Background(), e, "gpt", func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, circuitbreaker.StateOpen, e.Breakers().Get("claude").State())
}
