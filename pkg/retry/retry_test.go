package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := DefaultParams()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond

	var attempts []Attempt
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(a Attempt) {
		attempts = append(attempts, a)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].Index)
	assert.Equal(t, 2, attempts[1].Index)
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	p := DefaultParams()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	p.MaxAttempts = 2

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "permanent", err.Error())
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := DefaultParams()
	p.BaseDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, p, func(ctx context.Context) error {
		return errors.New("should not matter")
	}, nil)

	assert.Error(t, err)
}

func TestJitterStaysWithinBounds(t *testing.T) {
	base := 5 * time.Second
	for i := 0; i < 50; i++ {
		d := jitter(base, 0.25)
		assert.GreaterOrEqual(t, d, 3750*time.Millisecond)
		assert.LessOrEqual(t, d, 6250*time.Millisecond)
	}
}

func TestJitterZeroFracReturnsBase(t *testing.T) {
	assert.Equal(t, 5*time.Second, jitter(5*time.Second, 0))
}
