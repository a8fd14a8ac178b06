package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alwaysTransient(error) Classification { return Transient }
func alwaysPermanent(error) Classification { return Permanent }

func TestPolicy_Do_SucceedsFirstTry(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), alwaysTransient, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_RetriesTransientUntilSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), alwaysTransient, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Do_StopsOnPermanent(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), alwaysPermanent, func() error {
		calls++
		return errors.New("permanent failure")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_ExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), alwaysTransient, func() error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Do_CancelledContextStopsRetrying(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cancel()
	err := p.Do(ctx, alwaysTransient, func() error {
		calls++
		return errors.New("failure")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
