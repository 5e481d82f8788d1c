package readiness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poll = 100 * time.Millisecond

func tick(clk *fakeClock) int { return int(clk.elapsed() / poll) }

func TestWaitStable_FlipHoldsForRequired(t *testing.T) {
	tests := []struct {
		name string
		k, m int
	}{
		{"immediate accept", 0, 0},
		{"flip at 5 hold 3", 5, 3},
		{"flip at 1 hold 10", 1, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			w := Window{Required: time.Duration(tt.m) * poll, Poll: poll, Timeout: time.Minute}

			got, err := WaitStable(context.Background(), clk, w,
				func(context.Context) (bool, error) { return tick(clk) >= tt.k, nil },
				func(v bool) bool { return v },
			)

			require.NoError(t, err)
			assert.True(t, got)
			assert.Equal(t, tt.k+tt.m, tick(clk), "must succeed exactly at tick K+M")
		})
	}
}

func TestWaitStable_OscillatingTimesOut(t *testing.T) {
	clk := newFakeClock()
	w := Window{Required: 3 * poll, Poll: poll, Timeout: 2 * time.Second}

	_, err := WaitStable(context.Background(), clk, w,
		func(context.Context) (bool, error) { return tick(clk)%2 == 0, nil },
		func(v bool) bool { return v },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 2*time.Second, clk.elapsed(), "must not give up before the timeout")

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "true", te.LastValue)
}

func TestWaitStable_ErrorsResetRun(t *testing.T) {
	clk := newFakeClock()
	w := Window{Required: 2 * poll, Poll: poll, Timeout: time.Minute}

	// true everywhere except an evaluation error at tick 1
	_, err := WaitStable(context.Background(), clk, w,
		func(context.Context) (bool, error) {
			if tick(clk) == 1 {
				return false, errEval
			}
			return true, nil
		},
		func(v bool) bool { return v },
	)

	require.NoError(t, err)
	assert.Equal(t, 4, tick(clk))
}

func TestWaitStable_TimeoutKeepsLastError(t *testing.T) {
	clk := newFakeClock()
	w := Window{Poll: poll, Timeout: time.Second}

	_, err := WaitStable(context.Background(), clk, w,
		func(context.Context) (int, error) { return 0, ErrContextLost },
		func(int) bool { return true },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "last observed: none")
}

func TestWaitStable_Cancelled(t *testing.T) {
	clk := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := WaitStable(ctx, clk, Window{Poll: poll, Timeout: time.Minute},
		func(context.Context) (bool, error) {
			calls++
			if calls == 3 {
				cancel()
			}
			return false, nil
		},
		func(v bool) bool { return v },
	)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 3, calls)
}

func TestWaitCount_WidgetSequence(t *testing.T) {
	clk := newFakeClock()
	counts := []int{1, 2, 3, 4, 4, 4, 4}
	page := &fakePage{clk: clk, state: docState{widgets: func(t time.Duration) int {
		i := int(t / poll)
		if i >= len(counts) {
			i = len(counts) - 1
		}
		return counts[i]
	}}}

	// three stable samples span two poll intervals
	w := Window{Required: 2 * poll, Poll: poll, Timeout: time.Minute}
	n, err := WaitCount(context.Background(), clk, w, page, "svg, canvas", 4)

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 5, tick(clk), "ready on the third consecutive 4")
	assert.Equal(t, 6, page.count("() => document.querySelectorAll("))
}

func TestWaitCount_ChangeRestartsWindow(t *testing.T) {
	clk := newFakeClock()
	counts := []int{4, 4, 5, 5, 5, 5}
	page := &fakePage{clk: clk, state: docState{widgets: func(t time.Duration) int {
		i := int(t / poll)
		if i >= len(counts) {
			i = len(counts) - 1
		}
		return counts[i]
	}}}

	w := Window{Required: 2 * poll, Poll: poll, Timeout: time.Minute}
	n, err := WaitCount(context.Background(), clk, w, page, "svg", 4)

	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 4, tick(clk))
}
