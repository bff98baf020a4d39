package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/roundtable/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errFail = errors.New("fail")

func fail(context.Context) error { return errFail }
func ok(context.Context) error   { return nil }

func tripped(t *testing.T, cfg *Config) (*breaker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg.Now = clock.Now
	cfg.Threshold = 1
	b := newBreaker("agent-a", cfg, zap.NewNop())
	_ = b.Call(context.Background(), fail)
	require.Equal(t, StateOpen, b.State())
	return b, clock
}

// ---------------------------------------------------------------------------
// DefaultConfig / NewCircuitBreaker
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)
	assert.Nil(t, cfg.OnStateChange)
}

func TestNewCircuitBreaker(t *testing.T) {
	tests := []struct {
		name             string
		cfg              *Config
		wantThreshold    int
		wantResetTimeout time.Duration
	}{
		{
			name:             "nil config uses defaults",
			cfg:              nil,
			wantThreshold:    5,
			wantResetTimeout: 60 * time.Second,
		},
		{
			name:             "zero values corrected to defaults",
			cfg:              &Config{Threshold: -1, ResetTimeout: -time.Second},
			wantThreshold:    5,
			wantResetTimeout: 60 * time.Second,
		},
		{
			name:             "custom values preserved",
			cfg:              &Config{Threshold: 3, ResetTimeout: 10 * time.Second},
			wantThreshold:    3,
			wantResetTimeout: 10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := NewCircuitBreaker(tt.cfg, zap.NewNop())
			require.NotNil(t, cb)
			assert.Equal(t, StateClosed, cb.State())

			b := cb.(*breaker)
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantResetTimeout, b.config.ResetTimeout)
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(99).String())
}

// ---------------------------------------------------------------------------
// 状态机
// ---------------------------------------------------------------------------

func TestBreaker_ClosedToOpen(t *testing.T) {
	threshold := 3
	cb := NewCircuitBreaker(&Config{Threshold: threshold, ResetTimeout: time.Hour}, zap.NewNop())

	for i := 0; i < threshold-1; i++ {
		err := cb.Call(context.Background(), fail)
		assert.ErrorIs(t, err, errFail)
		assert.Equal(t, StateClosed, cb.State())
	}

	err := cb.Call(context.Background(), fail)
	assert.ErrorIs(t, err, errFail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop())

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), ok)
	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, StateClosed, cb.State(), "连续失败才计数")
}

func TestBreaker_OpenFailsFastWithoutInvoking(t *testing.T) {
	b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
	clock.Advance(20 * time.Second)

	invoked := false
	err := b.Call(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})

	assert.False(t, invoked)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, types.ErrCircuitOpen, types.GetErrorCode(err))

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "agent-a", openErr.Target)
	assert.Equal(t, 40*time.Second, openErr.RetryAfter)
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
	clock.Advance(time.Minute)

	err := b.Call(context.Background(), ok)
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.failureCount)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
	clock.Advance(time.Minute)

	err := b.Call(context.Background(), func(context.Context) error { return errors.New("fail again") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.Now(), b.lastFailureTime, "重新打开时刷新失败时间")

	// 新的熔断窗口从探测失败时刻算起
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Call(context.Background(), ok), ErrCircuitOpen)
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, StateHalfOpen, b.State())

	// 探测未返回前，其余并发调用都被拒绝且不执行
	var invoked atomic.Int32
	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Call(context.Background(), func(context.Context) error {
				invoked.Add(1)
				return nil
			})
			assert.ErrorIs(t, err, ErrTooManyProbes)
			assert.ErrorIs(t, err, ErrCircuitOpen)
		}()
	}
	wg.Wait()
	assert.Zero(t, invoked.Load())
	assert.Equal(t, StateHalfOpen, b.State())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StaleProbeResultIgnored(t *testing.T) {
	b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return errFail
		})
	}()
	<-started

	// 探测在途时手动重置
	b.Reset()
	require.Equal(t, StateClosed, b.State())

	close(release)
	require.ErrorIs(t, <-done, errFail)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.failureCount, "过期探测结果不计数")
}

func TestBreaker_RequestErrorsAreNeutral(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 2, ResetTimeout: time.Hour}, zap.NewNop())
	b := cb.(*breaker)
	badPrompt := func(context.Context) error { return types.NewError(types.ErrInvalidRequest, "bad prompt") }

	_ = cb.Call(context.Background(), fail)
	assert.Error(t, cb.Call(context.Background(), badPrompt))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, b.failureCount, "neutral errors neither count nor reset")

	_ = cb.Call(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_CredentialErrorsTrip(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrAuthentication, types.ErrUnauthorized, types.ErrForbidden, types.ErrQuotaExceeded} {
		t.Run(string(code), func(t *testing.T) {
			cb := NewCircuitBreaker(&Config{Threshold: 3, ResetTimeout: time.Hour}, zap.NewNop())
			for range 3 {
				_ = cb.Call(context.Background(), func(context.Context) error {
					return types.NewError(code, "revoked key")
				})
			}
			assert.Equal(t, StateOpen, cb.State())
		})
	}
}

func TestBreaker_HalfOpenProbeOutcomes(t *testing.T) {
	authErr := func(context.Context) error { return types.NewError(types.ErrAuthentication, "revoked key") }
	badPrompt := func(context.Context) error { return types.NewError(types.ErrContextTooLong, "too long") }

	t.Run("credential error reopens", func(t *testing.T) {
		b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
		clock.Advance(time.Minute)
		assert.Error(t, b.Call(context.Background(), authErr))
		assert.Equal(t, StateOpen, b.State())
	})

	t.Run("request error keeps half-open and frees the probe", func(t *testing.T) {
		b, clock := tripped(t, &Config{ResetTimeout: time.Minute})
		clock.Advance(time.Minute)
		assert.Error(t, b.Call(context.Background(), badPrompt))
		assert.Equal(t, StateHalfOpen, b.State())

		require.NoError(t, b.Call(context.Background(), ok))
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestBreaker_CallerCancelDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, ResetTimeout: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_TimeoutAppliedToCall(t *testing.T) {
	cb := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 10 * time.Millisecond, ResetTimeout: time.Hour}, zap.NewNop())

	err := cb.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := tripped(t, &Config{ResetTimeout: time.Hour})

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Call(context.Background(), ok))
}

func TestBreaker_OnStateChange(t *testing.T) {
	transitions := make(chan [2]State, 8)
	clock := newFakeClock()

	cb := NewCircuitBreaker(&Config{
		Threshold:    2,
		ResetTimeout: time.Minute,
		Now:          clock.Now,
		OnStateChange: func(from, to State) {
			transitions <- [2]State{from, to}
		},
	}, zap.NewNop())

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	clock.Advance(time.Minute)
	_ = cb.Call(context.Background(), ok)

	got := make(map[[2]State]bool)
	for i := 0; i < 3; i++ {
		select {
		case tr := <-transitions:
			got[tr] = true
		case <-time.After(time.Second):
			t.Fatalf("expected 3 transitions, got %d", len(got))
		}
	}
	assert.True(t, got[[2]State{StateClosed, StateOpen}])
	assert.True(t, got[[2]State{StateOpen, StateHalfOpen}])
	assert.True(t, got[[2]State{StateHalfOpen, StateClosed}])
}
